package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

func TestParseRoutesStatements(t *testing.T) {
	cases := []struct {
		sql  string
		want any
	}{
		{"bypass select count(*) from s.t", &Bypass{}},
		{"BYPASS  SELECT 1", &Bypass{}},
		{"select count(*) from s.t", &Select{}},
		{"SHOW SCRAMBLES", &ShowScrambles{}},
		{"show schemas", &Other{}},
		{"drop scramble s.t_scrambled", &DropScramble{}},
		{"DROP TABLE s.t", &Other{}},
		{"create scramble s.x from s.t", &CreateScramble{}},
		{"create table s.x (a int)", &Other{}},
		{"select * from a join b on a.x = b.x", &Other{}},
		{"insert into s.t values (1)", &Other{}},
	}
	for _, c := range cases {
		st, err := Parse(c.sql)
		require.NoError(t, err, c.sql)
		assert.IsType(t, c.want, st, c.sql)
	}
}

func TestParseBypass(t *testing.T) {
	st, err := Parse("  bypass select count(*) from s.t")
	require.NoError(t, err)
	assert.Equal(t, "select count(*) from s.t", st.(*Bypass).SQL)

	assert.Equal(t, "select 1", StripBypass("Bypass select 1"))
	assert.Equal(t, "bypassed", StripBypass("bypassed"))
	assert.Equal(t, "select 1", StripBypass("select 1"))
}

func TestParseCreateScramble(t *testing.T) {
	st, err := Parse("CREATE OR REPLACE SCRAMBLE IF NOT EXISTS s.t_sc FROM s.t METHOD sample RATIO 0.1 BLOCKSIZE 100;")
	require.NoError(t, err)
	assert.Equal(t, &CreateScramble{
		Target:      TableName{Schema: "s", Name: "t_sc"},
		Source:      TableName{Schema: "s", Name: "t"},
		Method:      "sample",
		Ratio:       0.1,
		BlockSize:   100,
		Replace:     true,
		IfNotExists: true,
	}, st)

	st, err = Parse("create scramble `s`.`t`")
	require.NoError(t, err)
	assert.Equal(t, &CreateScramble{Target: TableName{Schema: "s", Name: "t"}}, st)

	_, err = Parse("create scramble s.x from s.t blocksize many")
	assert.ErrorIs(t, err, errdefs.ErrSyntax)

	_, err = Parse("create scramble s.x from s.t garbage")
	assert.ErrorIs(t, err, errdefs.ErrSyntax)
}

func TestParseDropScramble(t *testing.T) {
	st, err := Parse("DROP SCRAMBLE IF EXISTS s.t_scrambled")
	require.NoError(t, err)
	assert.Equal(t, &DropScramble{Name: TableName{Schema: "s", Name: "t_scrambled"}, IfExists: true}, st)
}

func TestParseSelect(t *testing.T) {
	sel, err := ParseSelect(`SELECT g, count(*) AS n, sum(x * 2) total, avg("x")
		FROM s.t
		WHERE x > 10 AND y IN ('a', 'b') AND z IS NOT NULL AND w BETWEEN -1 AND 1.5
		GROUP BY g
		ORDER BY n DESC, g
		LIMIT 5`)
	require.NoError(t, err)

	assert.Equal(t, TableName{Schema: "s", Name: "t"}, sel.From)
	require.Len(t, sel.Items, 4)
	assert.Equal(t, "g", sel.Items[0].Name())
	assert.Equal(t, "n", sel.Items[1].Name())
	assert.Equal(t, "total", sel.Items[2].Name())
	assert.Equal(t, `avg("x")`, sel.Items[3].Name())
	assert.True(t, sel.IsAggregate())
	assert.Equal(t, int64(5), sel.Limit)
	require.Len(t, sel.OrderBy, 2)
	assert.True(t, sel.OrderBy[0].Desc)

	assert.Equal(t,
		`SELECT "g", count(*) AS "n", sum(("x" * 2)) AS "total", avg("x") FROM "s"."t" `+
			`WHERE (((("x" > 10) AND ("y" IN ('a', 'b'))) AND ("z" IS NOT NULL)) AND ("w" BETWEEN -1 AND 1.5)) `+
			`GROUP BY "g" ORDER BY "n" DESC, "g" LIMIT 5`,
		sel.Render(ANSI))
}

func TestParseSelectCountDistinct(t *testing.T) {
	sel, err := ParseSelect("select count(distinct intCol) from S.T")
	require.NoError(t, err)
	f := sel.Items[0].Expr.(*Func)
	assert.Equal(t, "count", f.Name)
	assert.True(t, f.Distinct)
	assert.Equal(t, []Expr{&ColumnRef{Name: "intCol"}}, f.Args)
}

func TestParseSelectRejects(t *testing.T) {
	for _, sql := range []string{
		"select count(*) from a, b",
		"select count(*) from a join b on a.id = b.id",
		"select count(*) from (select * from t) x",
		"select count(*) from t where x in (select y from u)",
		"select case when x > 1 then 1 else 0 end from t",
		"select rank() over (order by x) from t",
		"select count(*) from t union select 1",
		"select count(*)",
	} {
		_, err := ParseSelect(sql)
		assert.ErrorIs(t, err, errdefs.ErrUnsupportedQuery, sql)
	}
}

func TestHasAggregate(t *testing.T) {
	sel, err := ParseSelect("select abs(x), 1 + max(y) from t")
	require.NoError(t, err)
	assert.False(t, HasAggregate(sel.Items[0].Expr))
	assert.True(t, HasAggregate(sel.Items[1].Expr))
	assert.Equal(t, Canonical(&ColumnRef{Name: "X"}), Canonical(&ColumnRef{Name: "x"}))
}

func TestLexer(t *testing.T) {
	toks, err := lex("select 'it''s', 1.5e3 -- trailing\n /* c */ from [a b]")
	require.NoError(t, err)
	var texts []string
	for _, tk := range toks[:len(toks)-1] {
		texts = append(texts, tk.text)
	}
	assert.Equal(t, []string{"select", "it's", ",", "1.5e3", "from", "a b"}, texts)

	_, err = lex("select 'open")
	assert.ErrorIs(t, err, errdefs.ErrSyntax)
}

func TestParseTableName(t *testing.T) {
	tn, err := ParseTableName(`s."My Table"`)
	require.NoError(t, err)
	assert.Equal(t, TableName{Schema: "s", Name: "My Table"}, tn)

	tn, err = ParseTableName("t")
	require.NoError(t, err)
	assert.Equal(t, TableName{Name: "t"}, tn)

	_, err = ParseTableName("a.b.c")
	assert.ErrorIs(t, err, errdefs.ErrSyntax)
	_, err = ParseTableName("")
	assert.ErrorIs(t, err, errdefs.ErrSyntax)
}
