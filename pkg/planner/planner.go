// Package planner decides how an aggregate query is answered from a scramble
// and builds the per-block SQL the executor runs.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
	"github.com/sahithikokkula/verdict-aqe/pkg/dialect"
	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
	"github.com/sahithikokkula/verdict-aqe/pkg/storage"
)

// PlanType indicates which path to use
type PlanType string

const (
	PlanExact  PlanType = "exact"
	PlanSample PlanType = "sample"
	PlanSketch PlanType = "sketch"
)

type Plan struct {
	Type           PlanType `json:"type"`
	SQL            string   `json:"sql,omitempty"`
	OriginalSQL    string   `json:"original_sql"`
	Table          string   `json:"table,omitempty"`
	Scramble       string   `json:"scramble,omitempty"`
	SampleFraction float64  `json:"sample_fraction,omitempty"`
	ScannedBlocks  int64    `json:"scanned_blocks,omitempty"`
	TotalBlocks    int64    `json:"total_blocks,omitempty"`
	SketchType     string   `json:"sketch_type,omitempty"`
	SketchColumn   string   `json:"sketch_column,omitempty"`
	Reason         string   `json:"reason"`

	Meta       *storage.ScrambleMeta `json:"-"`
	Query      *sqlast.Select        `json:"-"`
	Groups     []sqlast.Expr         `json:"-"`
	Aggregates []*Aggregate          `json:"-"`
	Outputs    []Output              `json:"-"`
	Order      []OrderKey            `json:"-"`
	// SketchValue is the literal a Count-Min point query looks up.
	SketchValue any `json:"-"`

	aggRefs   map[*sqlast.Func]int
	groupRefs map[sqlast.Expr]int
}

// Aggregate is one distinct aggregate call of the query. The column indexes
// point into the rows of Plan.SQL and are -1 when unused.
type Aggregate struct {
	Func     string
	Distinct bool
	Arg      sqlast.Expr // nil for count(*)

	Count, Sum, SumSq, Min, Max int

	// FrequencySQL lists each group's values of Arg with their multiplicity,
	// for count(distinct).
	FrequencySQL string
}

// Output is one select item. Agg is the aggregate index when the item is a
// bare aggregate call, Group the group index when it is a grouping expression;
// both are -1 otherwise.
type Output struct {
	Name  string
	Expr  sqlast.Expr
	Agg   int
	Group int
}

// OrderKey sorts the final rows by output column.
type OrderKey struct {
	Column int
	Desc   bool
}

// Columns of Plan.SQL before the aggregate columns: one per group, then the
// block id and the row count.
func (p *Plan) BlockIndex() int { return len(p.Groups) }
func (p *Plan) CountIndex() int { return len(p.Groups) + 1 }

// AggregateOf returns the aggregate index of an aggregate call in the query.
func (p *Plan) AggregateOf(f *sqlast.Func) (int, bool) {
	i, ok := p.aggRefs[f]
	return i, ok
}

// GroupOf returns the group index an expression node of a select item stands for.
func (p *Plan) GroupOf(e sqlast.Expr) (int, bool) {
	i, ok := p.groupRefs[e]
	return i, ok
}

type Planner struct {
	meta    storage.MetaStore
	catalog storage.Catalog
	dialect dialect.Dialect
	opts    config.Options
}

// New returns a planner reading scramble metadata from meta. Scrambles whose
// tables are missing from catalog are forgotten when resolved.
func New(meta storage.MetaStore, catalog storage.Catalog, d dialect.Dialect, opts config.Options) *Planner {
	return &Planner{meta: meta, catalog: catalog, dialect: d, opts: opts}
}

// Plan parses sqlText and plans it against the best scramble of its table.
// Anything that cannot be answered approximately is ErrUnsupportedQuery.
func (p *Planner) Plan(ctx context.Context, sqlText string) (*Plan, error) {
	q, err := sqlast.ParseSelect(sqlText)
	if err != nil {
		return nil, err
	}
	return p.PlanSelect(ctx, q, sqlText)
}

func (p *Planner) PlanSelect(ctx context.Context, q *sqlast.Select, sqlText string) (*Plan, error) {
	if err := validate(q); err != nil {
		return nil, err
	}
	m, err := p.Resolve(ctx, q.From)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Type:        PlanSample,
		OriginalSQL: sqlText,
		Table:       q.From.String(),
		Scramble:    m.Name(),
		Meta:        m,
		Query:       q,
		TotalBlocks: m.BlockCount,
		aggRefs:     map[*sqlast.Func]int{},
		groupRefs:   map[sqlast.Expr]int{},
	}
	if err := plan.resolveGroups(); err != nil {
		return nil, err
	}
	if err := plan.resolveOutputs(); err != nil {
		return nil, err
	}
	if err := plan.resolveOrder(); err != nil {
		return nil, err
	}

	if ok, err := p.trySketch(ctx, plan); err != nil || ok {
		return plan, err
	}

	plan.ScannedBlocks, plan.SampleFraction = p.scanned(m)
	plan.SQL = p.blockSQL(plan)
	for _, a := range plan.Aggregates {
		if a.Distinct {
			a.FrequencySQL = p.frequencySQL(plan, a)
		}
	}
	plan.Reason = fmt.Sprintf("scan %d of %d blocks of %s", plan.ScannedBlocks, plan.TotalBlocks, m.Name())
	log.WithFields(log.Fields{"scramble": m.Name(), "fraction": plan.SampleFraction}).Debug("planned sample")
	return plan, nil
}

// Resolve finds the scramble answering queries on table: the table itself if
// it is a scramble, otherwise its scramble with the largest relative size.
// Ties go to the lexicographically smallest name.
func (p *Planner) Resolve(ctx context.Context, table sqlast.TableName) (*storage.ScrambleMeta, error) {
	m, err := p.meta.GetScramble(ctx, table.Schema, table.Name)
	switch {
	case err == nil:
		ok, err := p.live(ctx, m)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errdefs.Newf(errdefs.ErrUnsupportedQuery, "scramble %s no longer exists", m.Name())
		}
		return m, nil
	case !errdefs.IsNotFound(err):
		return nil, err
	}
	all, err := p.meta.ListScrambles(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []*storage.ScrambleMeta
	for _, m := range all {
		if m.IsScrambleOf(table.Schema, table.Name) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RelativeSize != candidates[j].RelativeSize {
			return candidates[i].RelativeSize > candidates[j].RelativeSize
		}
		return candidates[i].Name() < candidates[j].Name()
	})
	for _, m := range candidates {
		ok, err := p.live(ctx, m)
		if err != nil {
			return nil, err
		}
		if ok {
			return m, nil
		}
	}
	return nil, errdefs.Newf(errdefs.ErrUnsupportedQuery, "no scramble for %s", table)
}

// live reports whether m's table still exists. Metadata of a dropped
// scramble is forgotten.
func (p *Planner) live(ctx context.Context, m *storage.ScrambleMeta) (bool, error) {
	if p.catalog == nil {
		return true, nil
	}
	ok, err := storage.Live(ctx, p.meta, p.catalog, m)
	if err != nil {
		return false, err
	}
	if !ok {
		log.WithField("scramble", m.Name()).Info("forgot scramble whose table is gone")
	}
	return ok, nil
}

// scanned returns how many blocks are read and the resulting inclusion
// probability of a source row.
func (p *Planner) scanned(m *storage.ScrambleMeta) (int64, float64) {
	k := int64(p.opts.ScanBlocks)
	if k <= 0 || k >= m.BlockCount {
		return m.BlockCount, m.RelativeSize
	}
	rows := k * m.BlockSize
	if rows > m.RowCount {
		rows = m.RowCount
	}
	if m.RowCount == 0 {
		return k, m.RelativeSize
	}
	return k, m.RelativeSize * float64(rows) / float64(m.RowCount)
}

func unsupported(format string, args ...any) error {
	return errdefs.Newf(errdefs.ErrUnsupportedQuery, format, args...)
}

func validate(q *sqlast.Select) error {
	switch {
	case q.Distinct:
		return unsupported("SELECT DISTINCT is not supported")
	case q.Having != nil:
		return unsupported("HAVING is not supported")
	case !q.IsAggregate():
		return unsupported("query has no aggregates")
	case q.Where != nil && sqlast.HasAggregate(q.Where):
		return unsupported("aggregates in WHERE")
	}
	for _, g := range q.GroupBy {
		if sqlast.HasAggregate(g) {
			return unsupported("aggregates in GROUP BY")
		}
	}
	return nil
}

// resolveGroups expands GROUP BY ordinals and select aliases into expressions.
func (plan *Plan) resolveGroups() error {
	q := plan.Query
	for _, g := range q.GroupBy {
		switch e := g.(type) {
		case *sqlast.Literal:
			n, ok := e.Value.(int64)
			if !ok || n < 1 || int(n) > len(q.Items) {
				return unsupported("GROUP BY position %s is out of range", e.Text)
			}
			g = q.Items[n-1].Expr
		case *sqlast.ColumnRef:
			if e.Qualifier == "" {
				for _, it := range q.Items {
					if strings.EqualFold(it.Alias, e.Name) {
						g = it.Expr
						break
					}
				}
			}
		}
		if sqlast.HasAggregate(g) {
			return unsupported("cannot group by an aggregate")
		}
		plan.Groups = append(plan.Groups, g)
	}
	return nil
}

func (plan *Plan) groupIndex(e sqlast.Expr) int {
	c := sqlast.Canonical(e)
	for i, g := range plan.Groups {
		if sqlast.Canonical(g) == c {
			return i
		}
	}
	return -1
}

func (plan *Plan) resolveOutputs() error {
	for _, it := range plan.Query.Items {
		if _, ok := it.Expr.(*sqlast.Star); ok {
			return unsupported("* is not an aggregate")
		}
		if err := plan.bind(it.Expr); err != nil {
			return err
		}
		out := Output{Name: it.Name(), Expr: it.Expr, Agg: -1, Group: -1}
		if f, ok := it.Expr.(*sqlast.Func); ok && sqlast.IsAggregate(f) {
			out.Agg = plan.aggRefs[f]
		}
		if g, ok := plan.groupRefs[it.Expr]; ok {
			out.Group = g
		}
		plan.Outputs = append(plan.Outputs, out)
	}
	return nil
}

// bind walks a select item, registering aggregate calls and grouping
// expressions. Everything else must be arithmetic over those.
func (plan *Plan) bind(e sqlast.Expr) error {
	if g := plan.groupIndex(e); g >= 0 {
		plan.groupRefs[e] = g
		return nil
	}
	switch n := e.(type) {
	case *sqlast.Func:
		if !sqlast.IsAggregate(n) {
			if sqlast.HasAggregate(n) {
				return unsupported("function %s over an aggregate is not supported", n.Name)
			}
			return unsupported("%s must appear in GROUP BY", sqlast.Canonical(n))
		}
		return plan.bindAggregate(n)
	case *sqlast.Literal:
		return nil
	case *sqlast.Unary:
		if n.Op != "-" && n.Op != "+" {
			return unsupported("operator %s over an aggregate is not supported", n.Op)
		}
		return plan.bind(n.X)
	case *sqlast.Binary:
		switch n.Op {
		case "+", "-", "*", "/":
		default:
			return unsupported("operator %s in the select list is not supported", n.Op)
		}
		if err := plan.bind(n.L); err != nil {
			return err
		}
		return plan.bind(n.R)
	}
	return unsupported("%s must appear in GROUP BY", sqlast.Canonical(e))
}

var supportedAggregates = map[string]bool{"count": true, "sum": true, "avg": true, "min": true, "max": true}

func (plan *Plan) bindAggregate(f *sqlast.Func) error {
	if !supportedAggregates[f.Name] {
		return unsupported("aggregate %s is not supported", f.Name)
	}
	if len(f.Args) != 1 {
		return unsupported("%s takes one argument", f.Name)
	}
	var arg sqlast.Expr
	if _, star := f.Args[0].(*sqlast.Star); star {
		if f.Name != "count" || f.Distinct {
			return unsupported("%s(*) is not supported", f.Name)
		}
	} else {
		arg = f.Args[0]
		if sqlast.HasAggregate(arg) {
			return unsupported("nested aggregates are not supported")
		}
	}
	if f.Distinct && f.Name != "count" {
		return unsupported("%s(DISTINCT) is not supported", f.Name)
	}
	c := sqlast.Canonical(f)
	for i, a := range plan.Aggregates {
		if a.key() == c {
			plan.aggRefs[f] = i
			return nil
		}
	}
	plan.aggRefs[f] = len(plan.Aggregates)
	plan.Aggregates = append(plan.Aggregates, &Aggregate{
		Func: f.Name, Distinct: f.Distinct, Arg: arg,
		Count: -1, Sum: -1, SumSq: -1, Min: -1, Max: -1,
	})
	return nil
}

func (a *Aggregate) key() string {
	f := &sqlast.Func{Name: a.Func, Distinct: a.Distinct, Args: []sqlast.Expr{&sqlast.Star{}}}
	if a.Arg != nil {
		f.Args = []sqlast.Expr{a.Arg}
	}
	return sqlast.Canonical(f)
}

// resolveOrder maps ORDER BY items to output columns by ordinal, alias or
// expression.
func (plan *Plan) resolveOrder() error {
	for _, o := range plan.Query.OrderBy {
		col := -1
		switch e := o.Expr.(type) {
		case *sqlast.Literal:
			if n, ok := e.Value.(int64); ok {
				if n < 1 || int(n) > len(plan.Outputs) {
					return unsupported("ORDER BY position %s is out of range", e.Text)
				}
				col = int(n) - 1
			}
		case *sqlast.ColumnRef:
			if e.Qualifier == "" {
				for i, it := range plan.Query.Items {
					if strings.EqualFold(it.Alias, e.Name) {
						col = i
						break
					}
				}
			}
		}
		if col < 0 {
			c := sqlast.Canonical(o.Expr)
			for i, out := range plan.Outputs {
				if sqlast.Canonical(out.Expr) == c {
					col = i
					break
				}
			}
		}
		if col < 0 {
			return unsupported("ORDER BY %s must refer to a select item", sqlast.Canonical(o.Expr))
		}
		plan.Order = append(plan.Order, OrderKey{Column: col, Desc: o.Desc})
	}
	return nil
}

// trySketch answers single-item queries from stored sketches: an unfiltered
// ungrouped count(distinct col) from a HyperLogLog, and count(*) with a single
// col = literal filter from a Count-Min sketch.
func (p *Planner) trySketch(ctx context.Context, plan *Plan) (bool, error) {
	q := plan.Query
	if len(q.Items) != 1 || len(plan.Groups) > 0 || len(plan.Aggregates) != 1 || plan.Outputs[0].Agg != 0 {
		return false, nil
	}
	a := plan.Aggregates[0]
	if a.Func != "count" {
		return false, nil
	}
	var (
		col   *sqlast.ColumnRef
		typ   sketches.SketchType
		value any
	)
	switch {
	case a.Distinct && q.Where == nil:
		c, ok := a.Arg.(*sqlast.ColumnRef)
		if !ok {
			return false, nil
		}
		col, typ = c, sketches.HyperLogLogType
	case !a.Distinct && a.Arg == nil && q.Where != nil:
		b, ok := q.Where.(*sqlast.Binary)
		if !ok || b.Op != "=" {
			return false, nil
		}
		c, l := equalityOperands(b)
		if c == nil || l.Value == nil {
			return false, nil
		}
		col, typ, value = c, sketches.CountMinSketchType, l.Value
	default:
		return false, nil
	}

	m := plan.Meta
	info, err := p.meta.GetSketch(ctx, m.Schema, m.Table, col.Name, typ)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	// a literal of another class is left to the backend's comparison rules
	if typ == sketches.CountMinSketchType && info.Class() != sketches.ClassOf(value) {
		return false, nil
	}
	plan.Type = PlanSketch
	plan.SketchType = string(typ)
	plan.SketchColumn = col.Name
	plan.SketchValue = value
	plan.SampleFraction = m.RelativeSize
	plan.Reason = fmt.Sprintf("%s sketch on %s.%s", typ, m.Name(), col.Name)
	return true, nil
}

func equalityOperands(b *sqlast.Binary) (*sqlast.ColumnRef, *sqlast.Literal) {
	if c, ok := b.L.(*sqlast.ColumnRef); ok {
		if l, ok := b.R.(*sqlast.Literal); ok {
			return c, l
		}
	}
	if c, ok := b.R.(*sqlast.ColumnRef); ok {
		if l, ok := b.L.(*sqlast.Literal); ok {
			return c, l
		}
	}
	return nil, nil
}

// from renders the scramble under the name the query uses for its table, so
// qualified column references keep resolving.
func (p *Planner) from(plan *Plan) string {
	alias := plan.Query.FromAlias
	if alias == "" {
		alias = plan.Query.From.Name
	}
	return sqlast.TableName{Schema: plan.Meta.Schema, Name: plan.Meta.Table}.Render(p.dialect) + " " + p.dialect.QuoteIdent(alias)
}

func (p *Planner) blockRef(plan *Plan) sqlast.Expr {
	alias := plan.Query.FromAlias
	if alias == "" {
		alias = plan.Query.From.Name
	}
	return &sqlast.ColumnRef{Qualifier: alias, Name: plan.Meta.BlockColumn}
}

func (p *Planner) where(plan *Plan, extra ...sqlast.Expr) string {
	var conds []sqlast.Expr
	if plan.Query.Where != nil {
		conds = append(conds, plan.Query.Where)
	}
	if plan.ScannedBlocks < plan.TotalBlocks {
		conds = append(conds, &sqlast.Binary{Op: "<", L: p.blockRef(plan),
			R: &sqlast.Literal{Value: plan.ScannedBlocks}})
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return ""
	}
	cond := conds[0]
	for _, c := range conds[1:] {
		cond = &sqlast.Binary{Op: "AND", L: cond, R: c}
	}
	return " WHERE " + cond.Render(p.dialect)
}

// blockSQL aggregates per group and block. Estimates are combined from these
// partial aggregates, so every aggregate contributes only mergeable columns.
func (p *Planner) blockSQL(plan *Plan) string {
	d := p.dialect
	var cols, groupBy []string
	for i, g := range plan.Groups {
		cols = append(cols, g.Render(d)+" AS "+d.QuoteIdent(fmt.Sprintf("g%d", i)))
		groupBy = append(groupBy, g.Render(d))
	}
	blk := p.blockRef(plan).Render(d)
	cols = append(cols, blk+" AS "+d.QuoteIdent("vblock"), "COUNT(*) AS "+d.QuoteIdent("vcount"))
	groupBy = append(groupBy, blk)

	add := func(expr string, name string) int {
		cols = append(cols, expr+" AS "+d.QuoteIdent(name))
		return len(cols) - 1
	}
	one := &sqlast.Literal{Value: 1.0, Text: "1.0"}
	for i, a := range plan.Aggregates {
		if a.Arg == nil {
			a.Count = plan.CountIndex()
			continue
		}
		arg := a.Arg.Render(d)
		prefix := fmt.Sprintf("a%d_", i)
		switch a.Func {
		case "count":
			if !a.Distinct {
				a.Count = add("COUNT("+arg+")", prefix+"n")
			}
		case "sum", "avg":
			sq := &sqlast.Binary{Op: "*", L: &sqlast.Binary{Op: "*", L: one, R: a.Arg}, R: a.Arg}
			a.Count = add("COUNT("+arg+")", prefix+"n")
			a.Sum = add("SUM("+arg+")", prefix+"s")
			a.SumSq = add("SUM("+sq.Render(d)+")", prefix+"q")
		case "min":
			a.Min = add("MIN("+arg+")", prefix+"min")
		case "max":
			a.Max = add("MAX("+arg+")", prefix+"max")
		}
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + p.from(plan) + p.where(plan) +
		" GROUP BY " + strings.Join(groupBy, ", ")
}

// frequencySQL counts each value of a count(distinct) argument per group.
func (p *Planner) frequencySQL(plan *Plan, a *Aggregate) string {
	d := p.dialect
	var cols, groupBy []string
	for i, g := range plan.Groups {
		cols = append(cols, g.Render(d)+" AS "+d.QuoteIdent(fmt.Sprintf("g%d", i)))
		groupBy = append(groupBy, g.Render(d))
	}
	arg := a.Arg.Render(d)
	cols = append(cols, arg+" AS "+d.QuoteIdent("v"), "COUNT(*) AS "+d.QuoteIdent("vfreq"))
	groupBy = append(groupBy, arg)
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + p.from(plan) +
		p.where(plan, &sqlast.IsNull{X: a.Arg, Not: true}) +
		" GROUP BY " + strings.Join(groupBy, ", ")
}
