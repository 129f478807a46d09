package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sahithikokkula/verdict-aqe/pkg/estimator"
	"github.com/sahithikokkula/verdict-aqe/pkg/planner"
	"github.com/sahithikokkula/verdict-aqe/pkg/result"
	"github.com/sahithikokkula/verdict-aqe/pkg/sketches"
	"github.com/sahithikokkula/verdict-aqe/pkg/sqlast"
)

// partial accumulates one aggregate's per-block columns for a group.
type partial struct {
	n        int64
	sum      float64
	sumSq    float64
	min, max any
	freq     []int64
}

type group struct {
	key      []any
	rows     int64
	partials []partial
}

// groups keeps groups in first-seen order, addressed by their key values.
type groups struct {
	n     int
	index map[string]*group
	list  []*group
	width int
}

func newGroups(n, aggregates int) *groups {
	return &groups{n: n, index: map[string]*group{}, width: aggregates}
}

func (gs *groups) get(row []any) *group {
	var sb strings.Builder
	for _, v := range row[:gs.n] {
		if v == nil {
			sb.WriteByte(1)
		} else {
			fmt.Fprintf(&sb, "%T:%s", v, sketches.KeyOf(v))
		}
		sb.WriteByte(0)
	}
	k := sb.String()
	g, ok := gs.index[k]
	if !ok {
		g = &group{key: append([]any(nil), row[:gs.n]...), partials: make([]partial, gs.width)}
		gs.index[k] = g
		gs.list = append(gs.list, g)
	}
	return g
}

func (e *Executor) executeSample(ctx context.Context, plan *planner.Plan) (*result.Result, error) {
	blocks, err := e.store.Query(ctx, plan.SQL)
	if err != nil {
		return nil, err
	}
	gs := newGroups(len(plan.Groups), len(plan.Aggregates))
	for _, row := range blocks.Rows() {
		g := gs.get(row)
		g.rows += toInt(row[plan.CountIndex()])
		for i, a := range plan.Aggregates {
			accumulate(&g.partials[i], a, row)
		}
	}
	for i, a := range plan.Aggregates {
		if a.FrequencySQL == "" {
			continue
		}
		freq, err := e.store.Query(ctx, a.FrequencySQL)
		if err != nil {
			return nil, err
		}
		last := len(plan.Groups) + 1
		for _, row := range freq.Rows() {
			g := gs.get(row)
			g.partials[i].freq = append(g.partials[i].freq, toInt(row[last]))
		}
	}
	// an ungrouped aggregate always yields one row
	if len(plan.Groups) == 0 && len(gs.list) == 0 {
		gs.get(nil)
	}

	ev := &evaluator{plan: plan, p: plan.SampleFraction, confidence: e.opts.Confidence}
	out := make([]outputRow, 0, len(gs.list))
	for _, g := range gs.list {
		out = append(out, ev.row(g))
	}
	columns := ev.columns(blocks.Columns(), out)

	sortRows(plan, out)
	out = limit(plan.Query, out)

	approx := e.approximation(plan)
	rows := make([][]any, len(out))
	for r, o := range out {
		rows[r] = o.values
		for c, ci := range o.intervals {
			name := columns[c].Name
			if len(plan.Groups) > 0 {
				name = fmt.Sprintf("%s[%d]", name, r)
			}
			approx.Intervals[name] = ci
		}
	}
	return result.New(columns, rows).WithApproximation(approx), nil
}

func accumulate(st *partial, a *planner.Aggregate, row []any) {
	if a.Arg != nil && a.Count >= 0 {
		st.n += toInt(row[a.Count])
	}
	if a.Sum >= 0 {
		if v, ok := result.ToFloat64(row[a.Sum]); ok {
			st.sum += v
		}
	}
	if a.SumSq >= 0 {
		if v, ok := result.ToFloat64(row[a.SumSq]); ok {
			st.sumSq += v
		}
	}
	if a.Min >= 0 {
		if v := row[a.Min]; v != nil && (st.min == nil || compareValues(v, st.min) < 0) {
			st.min = v
		}
	}
	if a.Max >= 0 {
		if v := row[a.Max]; v != nil && (st.max == nil || compareValues(v, st.max) > 0) {
			st.max = v
		}
	}
}

type outputRow struct {
	key       []any
	values    []any
	intervals map[int]estimator.CIResult
}

type evaluator struct {
	plan       *planner.Plan
	p          float64
	confidence float64

	group  *group
	values []any
}

// row estimates every aggregate of g and evaluates the select items over them.
func (ev *evaluator) row(g *group) outputRow {
	ev.group = g
	ev.values = make([]any, len(ev.plan.Aggregates))
	cis := make([]*estimator.CIResult, len(ev.plan.Aggregates))
	for i, a := range ev.plan.Aggregates {
		ev.values[i], cis[i] = ev.estimate(a, g, &g.partials[i])
	}
	o := outputRow{key: g.key, values: make([]any, len(ev.plan.Outputs)), intervals: map[int]estimator.CIResult{}}
	for c, out := range ev.plan.Outputs {
		o.values[c] = ev.eval(out.Expr)
		if out.Agg >= 0 && cis[out.Agg] != nil {
			o.intervals[c] = *cis[out.Agg]
		}
	}
	return o
}

func (ev *evaluator) estimate(a *planner.Aggregate, g *group, st *partial) (any, *estimator.CIResult) {
	p, conf := ev.p, ev.confidence
	switch a.Func {
	case "count":
		if a.Distinct {
			ci := estimator.GEECI(st.freq, p, conf)
			return int64(math.Round(ci.Estimate)), &ci
		}
		n := g.rows
		if a.Arg != nil {
			n = st.n
		}
		ci := estimator.CountCI(n, p, conf)
		return int64(math.Round(ci.Estimate)), &ci
	case "sum":
		if st.n == 0 {
			return nil, nil
		}
		ci := estimator.SumCI(st.sum, st.sumSq, p, conf)
		return ci.Estimate, &ci
	case "avg":
		if st.n == 0 {
			return nil, nil
		}
		ci := estimator.MeanCI(st.sum, st.sumSq, st.n, p, conf)
		return ci.Estimate, &ci
	case "min":
		return st.min, nil
	case "max":
		return st.max, nil
	}
	return nil, nil
}

func (ev *evaluator) eval(e sqlast.Expr) any {
	if i, ok := ev.plan.GroupOf(e); ok {
		return ev.group.key[i]
	}
	switch n := e.(type) {
	case *sqlast.Func:
		if i, ok := ev.plan.AggregateOf(n); ok {
			return ev.values[i]
		}
	case *sqlast.Literal:
		return n.Value
	case *sqlast.Unary:
		v := ev.eval(n.X)
		if n.Op == "-" {
			return arith("-", int64(0), v)
		}
		return v
	case *sqlast.Binary:
		return arith(n.Op, ev.eval(n.L), ev.eval(n.R))
	}
	return nil
}

// arith follows SQL: NULL operands and division by zero give NULL, and integer
// arithmetic stays integral except for division.
func arith(op string, l, r any) any {
	if l == nil || r == nil {
		return nil
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt && op != "/" {
		switch op {
		case "+":
			return li + ri
		case "-":
			return li - ri
		case "*":
			return li * ri
		}
	}
	lf, ok1 := result.ToFloat64(l)
	rf, ok2 := result.ToFloat64(r)
	if !ok1 || !ok2 {
		return nil
	}
	switch op {
	case "+":
		return lf + rf
	case "-":
		return lf - rf
	case "*":
		return lf * rf
	case "/":
		if rf == 0 {
			return nil
		}
		return lf / rf
	}
	return nil
}

// columns types each output column: counts are BIGINT, sums and averages
// DOUBLE, and grouping columns and extremes keep the backend's type.
func (ev *evaluator) columns(inner []result.Column, rows []outputRow) []result.Column {
	cols := make([]result.Column, len(ev.plan.Outputs))
	for c, out := range ev.plan.Outputs {
		cols[c].Name = out.Name
		switch {
		case out.Group >= 0:
			cols[c].Type = inner[out.Group].Type
		case out.Agg >= 0:
			a := ev.plan.Aggregates[out.Agg]
			switch a.Func {
			case "count":
				cols[c].Type = "BIGINT"
			case "sum", "avg":
				cols[c].Type = "DOUBLE"
			case "min":
				cols[c].Type = inner[a.Min].Type
			case "max":
				cols[c].Type = inner[a.Max].Type
			}
		default:
			cols[c].Type = "NULL"
			for _, r := range rows {
				if r.values[c] != nil {
					cols[c].Type = result.TypeOf(r.values[c])
					break
				}
			}
		}
	}
	return cols
}

// sortRows orders by group key, then by ORDER BY.
func sortRows(plan *planner.Plan, rows []outputRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		for k := range rows[i].key {
			if c := compareValues(rows[i].key[k], rows[j].key[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	if len(plan.Order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range plan.Order {
			c := compareValues(rows[i].values[o.Column], rows[j].values[o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func limit(q *sqlast.Select, rows []outputRow) []outputRow {
	if q.Offset > 0 {
		if q.Offset >= int64(len(rows)) {
			return rows[:0]
		}
		rows = rows[q.Offset:]
	}
	if q.Limit >= 0 && q.Limit < int64(len(rows)) {
		rows = rows[:q.Limit]
	}
	return rows
}

// compareValues orders NULL first, numbers numerically and everything else by
// its text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		af, ok1 := result.ToFloat64(a)
		bf, ok2 := result.ToFloat64(b)
		if ok1 && ok2 {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(sketches.KeyOf(a), sketches.KeyOf(b))
}

func toInt(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	f, _ := result.ToFloat64(v)
	return int64(math.Round(f))
}
