package sqlast

import (
	"strconv"
	"strings"
)

type SelectItem struct {
	Expr  Expr
	Alias string
	Text  string // source text of the expression
}

// Name is the output column label: the alias, or the expression as written.
func (it SelectItem) Name() string {
	if it.Alias != "" {
		return it.Alias
	}
	return it.Text
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

// Select is a single-table SELECT. Limit is -1 when absent.
type Select struct {
	Distinct  bool
	Items     []SelectItem
	From      TableName
	FromAlias string
	Where     Expr
	GroupBy   []Expr
	Having    Expr
	OrderBy   []OrderItem
	Limit     int64
	Offset    int64
}

// IsAggregate reports whether the query computes aggregates or groups.
func (s *Select) IsAggregate() bool {
	if len(s.GroupBy) > 0 {
		return true
	}
	for _, it := range s.Items {
		if HasAggregate(it.Expr) {
			return true
		}
	}
	return false
}

func (s *Select) Render(q Quoter) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}
	for i, it := range s.Items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(it.Expr.Render(q))
		if it.Alias != "" {
			sb.WriteString(" AS " + q.QuoteIdent(it.Alias))
		}
	}
	sb.WriteString(" FROM " + s.From.Render(q))
	if s.FromAlias != "" {
		sb.WriteString(" " + q.QuoteIdent(s.FromAlias))
	}
	if s.Where != nil {
		sb.WriteString(" WHERE " + s.Where.Render(q))
	}
	if len(s.GroupBy) > 0 {
		sb.WriteString(" GROUP BY " + renderList(s.GroupBy, q))
	}
	if s.Having != nil {
		sb.WriteString(" HAVING " + s.Having.Render(q))
	}
	if len(s.OrderBy) > 0 {
		parts := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			parts[i] = o.Expr.Render(q)
			if o.Desc {
				parts[i] += " DESC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if s.Limit >= 0 {
		sb.WriteString(" LIMIT " + strconv.FormatInt(s.Limit, 10))
		if s.Offset > 0 {
			sb.WriteString(" OFFSET " + strconv.FormatInt(s.Offset, 10))
		}
	}
	return sb.String()
}

func renderList(es []Expr, q Quoter) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Render(q)
	}
	return strings.Join(parts, ", ")
}
