package sqlast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

type parser struct {
	src  string
	toks []token
	i    int
}

// reserved words never taken as an implicit alias
var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "order": true,
	"by": true, "limit": true, "offset": true, "having": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "cross": true,
	"outer": true, "natural": true, "on": true, "using": true, "union": true,
	"intersect": true, "except": true, "as": true, "and": true, "or": true,
	"not": true, "is": true, "null": true, "in": true, "between": true,
	"like": true, "distinct": true, "case": true, "when": true, "then": true,
	"else": true, "end": true, "asc": true, "desc": true, "window": true,
}

var comparisonOps = map[string]bool{
	"=": true, "==": true, "<>": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
}

// ParseSelect parses the supported SELECT subset:
//
//	SELECT [DISTINCT] items FROM [schema.]table [[AS] alias]
//	    [WHERE cond] [GROUP BY exprs] [HAVING cond]
//	    [ORDER BY exprs [ASC|DESC]] [LIMIT n [OFFSET m]]
//
// Joins, subqueries, set operations, CASE, CAST and window functions are
// rejected with ErrUnsupportedQuery.
func ParseSelect(sql string) (*Select, error) {
	toks, err := lex(sql)
	if err != nil {
		return nil, errdefs.Newf(errdefs.ErrUnsupportedQuery, "%v", err)
	}
	p := &parser{src: sql, toks: toks}
	sel, err := p.selectStmt()
	if err != nil {
		return nil, errdefs.Newf(errdefs.ErrUnsupportedQuery, "%v", err)
	}
	return sel, nil
}

func (p *parser) selectStmt() (*Select, error) {
	if !p.accept("select") {
		return nil, p.errorf(p.peek(), "expected SELECT")
	}
	sel := &Select{Limit: -1}
	if p.accept("distinct") {
		sel.Distinct = true
	} else {
		p.accept("all")
	}

	for {
		start := p.peek().pos
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		it := SelectItem{Expr: e, Text: strings.TrimSpace(p.src[start:p.toks[p.i-1].end])}
		if p.accept("as") {
			t := p.next()
			if t.kind != tokIdent && t.kind != tokQuoted && t.kind != tokString {
				return nil, p.errorf(t, "expected alias")
			}
			it.Alias = t.text
		} else if t := p.peek(); t.kind == tokQuoted || t.kind == tokIdent && !reserved[strings.ToLower(t.text)] {
			it.Alias = p.next().text
		}
		sel.Items = append(sel.Items, it)
		if !p.accept(",") {
			break
		}
	}

	if !p.accept("from") {
		return nil, p.errorf(p.peek(), "expected FROM")
	}
	if p.peek().is("(") {
		return nil, p.errorf(p.peek(), "subqueries are not supported")
	}
	from, err := p.tableName()
	if err != nil {
		return nil, err
	}
	sel.From = from
	if p.accept("as") {
		sel.FromAlias = p.next().text
	} else if t := p.peek(); t.kind == tokQuoted || t.kind == tokIdent && !reserved[strings.ToLower(t.text)] {
		sel.FromAlias = p.next().text
	}
	if p.peek().is(",") {
		return nil, p.errorf(p.peek(), "joins are not supported")
	}
	for _, w := range []string{"join", "inner", "left", "right", "full", "cross", "natural"} {
		if p.peek().is(w) {
			return nil, p.errorf(p.peek(), "joins are not supported")
		}
	}

	if p.accept("where") {
		if sel.Where, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if p.acceptWords("group", "by") {
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if !p.accept(",") {
				break
			}
		}
	}
	if p.accept("having") {
		if sel.Having, err = p.expr(); err != nil {
			return nil, err
		}
	}
	if p.acceptWords("order", "by") {
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			o := OrderItem{Expr: e}
			if p.accept("desc") {
				o.Desc = true
			} else {
				p.accept("asc")
			}
			sel.OrderBy = append(sel.OrderBy, o)
			if !p.accept(",") {
				break
			}
		}
	}
	if p.accept("limit") {
		n, err := p.integer()
		if err != nil {
			return nil, err
		}
		sel.Limit = n
		if p.accept(",") {
			// LIMIT offset, count
			m, err := p.integer()
			if err != nil {
				return nil, err
			}
			sel.Offset, sel.Limit = n, m
		} else if p.accept("offset") {
			if sel.Offset, err = p.integer(); err != nil {
				return nil, err
			}
		}
	}
	p.accept(";")
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return sel, nil
}

func (p *parser) integer() (int64, error) {
	t := p.next()
	n, err := strconv.ParseInt(t.text, 10, 64)
	if t.kind != tokNumber || err != nil || n < 0 {
		return 0, p.errorf(t, "expected non-negative integer")
	}
	return n, nil
}

// expr := or
func (p *parser) expr() (Expr, error) {
	return p.or()
}

func (p *parser) or() (Expr, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.accept("or") {
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "OR", L: l, R: r}
	}
	return l, nil
}

func (p *parser) and() (Expr, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.accept("and") {
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "AND", L: l, R: r}
	}
	return l, nil
}

func (p *parser) not() (Expr, error) {
	if p.accept("not") {
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", X: x}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokSymbol && comparisonOps[t.text]:
			p.i++
			op := t.text
			switch op {
			case "==":
				op = "="
			case "!=":
				op = "<>"
			}
			r, err := p.additive()
			if err != nil {
				return nil, err
			}
			l = &Binary{Op: op, L: l, R: r}
		case t.is("is"):
			p.i++
			not := p.accept("not")
			if !p.accept("null") {
				return nil, p.errorf(p.peek(), "expected NULL")
			}
			l = &IsNull{X: l, Not: not}
		case t.is("not") || t.is("in") || t.is("between") || t.is("like"):
			not := p.accept("not")
			switch {
			case p.accept("in"):
				list, err := p.inList()
				if err != nil {
					return nil, err
				}
				l = &In{X: l, List: list, Not: not}
			case p.accept("between"):
				lo, err := p.additive()
				if err != nil {
					return nil, err
				}
				if !p.accept("and") {
					return nil, p.errorf(p.peek(), "expected AND")
				}
				hi, err := p.additive()
				if err != nil {
					return nil, err
				}
				l = &Between{X: l, Lo: lo, Hi: hi, Not: not}
			case p.accept("like"):
				r, err := p.additive()
				if err != nil {
					return nil, err
				}
				op := "LIKE"
				if not {
					op = "NOT LIKE"
				}
				l = &Binary{Op: op, L: l, R: r}
			default:
				return nil, p.errorf(p.peek(), "expected IN, BETWEEN or LIKE")
			}
		default:
			return l, nil
		}
	}
}

func (p *parser) inList() ([]Expr, error) {
	if !p.accept("(") {
		return nil, p.errorf(p.peek(), "expected (")
	}
	if p.peek().is("select") {
		return nil, p.errorf(p.peek(), "subqueries are not supported")
	}
	var list []Expr
	for {
		e, err := p.additive()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.accept(",") {
			break
		}
	}
	if !p.accept(")") {
		return nil, p.errorf(p.peek(), "expected )")
	}
	return list, nil
}

func (p *parser) additive() (Expr, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokSymbol || (t.text != "+" && t.text != "-" && t.text != "||") {
			return l, nil
		}
		p.i++
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.text, L: l, R: r}
	}
}

func (p *parser) multiplicative() (Expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokSymbol || (t.text != "*" && t.text != "/" && t.text != "%") {
			return l, nil
		}
		p.i++
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: t.text, L: l, R: r}
	}
}

func (p *parser) unary() (Expr, error) {
	t := p.peek()
	if t.kind == tokSymbol && (t.text == "-" || t.text == "+") {
		p.i++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok && t.text == "-" {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v, Text: "-" + lit.Text}, nil
			case float64:
				return &Literal{Value: -v, Text: "-" + lit.Text}, nil
			}
		}
		if t.text == "+" {
			return x, nil
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &Literal{Value: n, Text: t.text}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return &Literal{Value: f, Text: t.text}, nil
	case tokString:
		return &Literal{Value: t.text}, nil
	case tokSymbol:
		switch t.text {
		case "*":
			return &Star{}, nil
		case "(":
			if p.peek().is("select") {
				return nil, p.errorf(p.peek(), "subqueries are not supported")
			}
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			if !p.accept(")") {
				return nil, p.errorf(p.peek(), "expected )")
			}
			return e, nil
		}
		return nil, p.errorf(t, "unexpected %q", t.text)
	case tokQuoted:
		return p.columnRest(t.text)
	case tokIdent:
		word := strings.ToLower(t.text)
		switch word {
		case "null":
			return &Literal{}, nil
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case "case", "cast", "exists", "interval":
			return nil, p.errorf(t, "%s expressions are not supported", strings.ToUpper(word))
		}
		if reserved[word] {
			return nil, p.errorf(t, "unexpected %s", strings.ToUpper(word))
		}
		if p.peek().is("(") {
			return p.funcCall(word)
		}
		return p.columnRest(t.text)
	}
	return nil, p.errorf(t, "unexpected end of statement")
}

func (p *parser) columnRest(first string) (Expr, error) {
	if !p.peek().is(".") {
		return &ColumnRef{Name: first}, nil
	}
	p.i++
	t := p.next()
	switch {
	case t.is("*"):
		return &Star{Qualifier: first}, nil
	case t.kind == tokIdent || t.kind == tokQuoted:
		if p.peek().is(".") {
			return nil, p.errorf(p.peek(), "schema-qualified columns are not supported")
		}
		return &ColumnRef{Qualifier: first, Name: t.text}, nil
	}
	return nil, p.errorf(t, "expected column name")
}

func (p *parser) funcCall(name string) (Expr, error) {
	p.i++ // (
	f := &Func{Name: name}
	if p.accept(")") {
		return p.afterCall(f)
	}
	if p.accept("distinct") {
		f.Distinct = true
	} else {
		p.accept("all")
	}
	for {
		if p.peek().is("select") {
			return nil, p.errorf(p.peek(), "subqueries are not supported")
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		f.Args = append(f.Args, e)
		if !p.accept(",") {
			break
		}
	}
	if !p.accept(")") {
		return nil, p.errorf(p.peek(), "expected )")
	}
	return p.afterCall(f)
}

func (p *parser) afterCall(f *Func) (Expr, error) {
	if p.peek().is("over") || p.peek().is("filter") {
		return nil, p.errorf(p.peek(), "window functions are not supported")
	}
	return f, nil
}

// ParseTableName parses "[schema.]table", quoted parts included.
func ParseTableName(s string) (TableName, error) {
	toks, err := lex(s)
	if err != nil {
		return TableName{}, err
	}
	p := &parser{src: s, toks: toks}
	t, err := p.tableName()
	if err != nil {
		return TableName{}, err
	}
	return t, p.expectEOF()
}

func (p *parser) tableName() (TableName, error) {
	t := p.next()
	if t.kind != tokIdent && t.kind != tokQuoted {
		return TableName{}, p.errorf(t, "expected table name")
	}
	if !p.accept(".") {
		return TableName{Name: t.text}, nil
	}
	n := p.next()
	if n.kind != tokIdent && n.kind != tokQuoted {
		return TableName{}, p.errorf(n, "expected table name")
	}
	return TableName{Schema: t.text, Name: n.text}, nil
}

func (p *parser) peek() token { return p.peekAt(0) }

func (p *parser) peekAt(k int) token {
	if p.i+k >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+k]
}

func (p *parser) next() token {
	t := p.peek()
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

// accept consumes the next token when it is s.
func (p *parser) accept(s string) bool {
	if p.peek().is(s) {
		p.i++
		return true
	}
	return false
}

// acceptWords consumes the sequence only when all of it matches.
func (p *parser) acceptWords(words ...string) bool {
	for k, w := range words {
		if !p.peekAt(k).is(w) {
			return false
		}
	}
	p.i += len(words)
	return true
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return p.errorf(t, "unexpected %q", p.src[t.pos:t.end])
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return errdefs.Newf(errdefs.ErrSyntax, "%s at position %d", fmt.Sprintf(format, args...), t.pos)
}
