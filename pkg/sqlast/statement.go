// Package sqlast parses the statements the engine routes itself: scramble DDL,
// the bypass directive and the single-table aggregate SELECT subset that can be
// answered from a scramble. Anything else is handed to the backend untouched.
package sqlast

import (
	"strconv"
	"strings"
)

type Statement interface {
	statement()
}

// Bypass is `bypass <sql>`; SQL is everything after the directive.
type Bypass struct {
	SQL string
}

// CreateScramble is
//
//	CREATE [OR REPLACE] SCRAMBLE [IF NOT EXISTS] target [FROM source]
//	    [METHOD uniform|sample] [RATIO r] [BLOCKSIZE n]
//
// Without FROM, Target names the source and Source is left empty.
type CreateScramble struct {
	Target      TableName
	Source      TableName
	Method      string
	Ratio       float64
	BlockSize   int64
	Replace     bool
	IfNotExists bool
}

type DropScramble struct {
	Name     TableName
	IfExists bool
}

type ShowScrambles struct{}

// Other is any statement the engine does not interpret.
type Other struct {
	SQL string
}

func (*Bypass) statement()         {}
func (*CreateScramble) statement() {}
func (*DropScramble) statement()   {}
func (*ShowScrambles) statement()  {}
func (*Select) statement()         {}
func (*Other) statement()          {}

// Parse classifies sql. A SELECT outside the supported subset comes back as
// Other rather than an error; scramble DDL with bad syntax is an ErrSyntax.
func Parse(sql string) (Statement, error) {
	toks, err := lex(sql)
	if err != nil {
		return &Other{SQL: sql}, nil
	}
	first := toks[0]
	switch {
	case first.is("bypass"):
		return &Bypass{SQL: strings.TrimSpace(sql[first.end:])}, nil
	case first.is("select"):
		sel, err := ParseSelect(sql)
		if err != nil {
			return &Other{SQL: sql}, nil
		}
		return sel, nil
	case first.is("create") || first.is("drop") || first.is("show"):
		p := &parser{src: sql, toks: toks}
		if st, ok, err := p.scrambleStatement(); ok || err != nil {
			return st, err
		}
	}
	return &Other{SQL: sql}, nil
}

// StripBypass removes a leading bypass directive, if any.
func StripBypass(sql string) string {
	trimmed := strings.TrimLeft(sql, " \t\r\n")
	if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "bypass") &&
		(len(trimmed) == 6 || !isIdentPart(trimmed[6])) {
		return strings.TrimSpace(trimmed[6:])
	}
	return sql
}

func (p *parser) scrambleStatement() (Statement, bool, error) {
	switch {
	case p.peek().is("show"):
		if !p.peekAt(1).is("scrambles") {
			return nil, false, nil
		}
		p.i += 2
		p.accept(";")
		return &ShowScrambles{}, true, p.expectEOF()

	case p.peek().is("drop"):
		if !p.peekAt(1).is("scramble") {
			return nil, false, nil
		}
		p.i += 2
		st := &DropScramble{}
		if p.acceptWords("if", "exists") {
			st.IfExists = true
		}
		name, err := p.tableName()
		if err != nil {
			return nil, true, err
		}
		st.Name = name
		p.accept(";")
		return st, true, p.expectEOF()

	case p.peek().is("create"):
		j := 1
		replace := false
		if p.peekAt(1).is("or") && p.peekAt(2).is("replace") {
			replace = true
			j = 3
		}
		if !p.peekAt(j).is("scramble") {
			return nil, false, nil
		}
		p.i += j + 1
		st := &CreateScramble{Replace: replace}
		if p.acceptWords("if", "not", "exists") {
			st.IfNotExists = true
		}
		target, err := p.tableName()
		if err != nil {
			return nil, true, err
		}
		st.Target = target
		if p.accept("from") {
			if st.Source, err = p.tableName(); err != nil {
				return nil, true, err
			}
		}
		for {
			switch {
			case p.accept("method"):
				t := p.next()
				if t.kind != tokIdent && t.kind != tokString && t.kind != tokQuoted {
					return nil, true, p.errorf(t, "expected scrambling method")
				}
				st.Method = strings.ToLower(t.text)
			case p.accept("ratio") || p.accept("size"):
				t := p.next()
				f, err := strconv.ParseFloat(t.text, 64)
				if t.kind != tokNumber || err != nil {
					return nil, true, p.errorf(t, "expected ratio")
				}
				st.Ratio = f
			case p.accept("blocksize"):
				t := p.next()
				n, err := strconv.ParseInt(t.text, 10, 64)
				if t.kind != tokNumber || err != nil {
					return nil, true, p.errorf(t, "expected block size")
				}
				st.BlockSize = n
			default:
				p.accept(";")
				return st, true, p.expectEOF()
			}
		}
	}
	return nil, false, nil
}
