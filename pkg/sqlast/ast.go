package sqlast

import (
	"strconv"
	"strings"
)

// Quoter renders identifiers and string literals for one backend. Every
// dialect.Dialect is a Quoter.
type Quoter interface {
	QuoteIdent(name string) string
	QuoteString(s string) string
}

type ansiQuoter struct{}

func (ansiQuoter) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (ansiQuoter) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ANSI renders with double-quoted identifiers. It is the canonical form used
// to compare expressions.
var ANSI Quoter = ansiQuoter{}

type Expr interface {
	Render(q Quoter) string
}

type TableName struct {
	Schema string
	Name   string
}

func (t TableName) Render(q Quoter) string {
	if t.Schema == "" {
		return q.QuoteIdent(t.Name)
	}
	return q.QuoteIdent(t.Schema) + "." + q.QuoteIdent(t.Name)
}

func (t TableName) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnRef is [qualifier.]name.
type ColumnRef struct {
	Qualifier string
	Name      string
}

func (c *ColumnRef) Render(q Quoter) string {
	if c.Qualifier == "" {
		return q.QuoteIdent(c.Name)
	}
	return q.QuoteIdent(c.Qualifier) + "." + q.QuoteIdent(c.Name)
}

// Literal holds an int64, float64, string, bool or nil. Numbers keep their
// source text.
type Literal struct {
	Value any
	Text  string
}

func (l *Literal) Render(q Quoter) string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return q.QuoteString(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		if l.Text != "" {
			return l.Text
		}
		return strconv.FormatInt(v, 10)
	case float64:
		if l.Text != "" {
			return l.Text
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return l.Text
}

type Star struct {
	Qualifier string
}

func (s *Star) Render(q Quoter) string {
	if s.Qualifier == "" {
		return "*"
	}
	return q.QuoteIdent(s.Qualifier) + ".*"
}

type Unary struct {
	Op string
	X  Expr
}

func (u *Unary) Render(q Quoter) string {
	if u.Op == "NOT" {
		return "(NOT " + u.X.Render(q) + ")"
	}
	return u.Op + u.X.Render(q)
}

type Binary struct {
	Op   string
	L, R Expr
}

func (b *Binary) Render(q Quoter) string {
	return "(" + b.L.Render(q) + " " + b.Op + " " + b.R.Render(q) + ")"
}

type Func struct {
	Name     string // lower case
	Args     []Expr
	Distinct bool
}

func (f *Func) Render(q Quoter) string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Render(q)
	}
	prefix := ""
	if f.Distinct {
		prefix = "DISTINCT "
	}
	return f.Name + "(" + prefix + strings.Join(args, ", ") + ")"
}

type IsNull struct {
	X   Expr
	Not bool
}

func (n *IsNull) Render(q Quoter) string {
	if n.Not {
		return "(" + n.X.Render(q) + " IS NOT NULL)"
	}
	return "(" + n.X.Render(q) + " IS NULL)"
}

type In struct {
	X    Expr
	List []Expr
	Not  bool
}

func (n *In) Render(q Quoter) string {
	items := make([]string, len(n.List))
	for i, e := range n.List {
		items[i] = e.Render(q)
	}
	op := " IN ("
	if n.Not {
		op = " NOT IN ("
	}
	return "(" + n.X.Render(q) + op + strings.Join(items, ", ") + "))"
}

type Between struct {
	X, Lo, Hi Expr
	Not       bool
}

func (b *Between) Render(q Quoter) string {
	op := " BETWEEN "
	if b.Not {
		op = " NOT BETWEEN "
	}
	return "(" + b.X.Render(q) + op + b.Lo.Render(q) + " AND " + b.Hi.Render(q) + ")"
}

// Walk visits e and its children depth first until fn returns false.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Unary:
		Walk(n.X, fn)
	case *Binary:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Func:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *IsNull:
		Walk(n.X, fn)
	case *In:
		Walk(n.X, fn)
		for _, a := range n.List {
			Walk(a, fn)
		}
	case *Between:
		Walk(n.X, fn)
		Walk(n.Lo, fn)
		Walk(n.Hi, fn)
	}
}

var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"stddev": true, "stddev_pop": true, "stddev_samp": true, "std": true,
	"variance": true, "var_pop": true, "var_samp": true, "median": true,
	"percentile": true, "percentile_cont": true, "percentile_disc": true,
	"group_concat": true, "string_agg": true, "array_agg": true, "total": true,
	"bit_and": true, "bit_or": true, "bit_xor": true, "corr": true,
	"covar_pop": true, "covar_samp": true, "json_arrayagg": true, "json_objectagg": true,
	"json_group_array": true, "json_group_object": true,
}

// IsAggregate reports whether f is an aggregate function call.
func IsAggregate(f *Func) bool {
	return aggregateFuncs[f.Name]
}

// HasAggregate reports whether any aggregate call appears in e.
func HasAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if f, ok := n.(*Func); ok && IsAggregate(f) {
			found = true
		}
		return !found
	})
	return found
}

// Canonical renders e in the ANSI form; equal expressions render equally.
func Canonical(e Expr) string {
	return strings.ToLower(e.Render(ANSI))
}
