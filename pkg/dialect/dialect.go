// Package dialect isolates everything backend specific: identifier quoting,
// statement translation, the block-id and sampling expressions used to build
// scrambles, metadata DDL types and driver error classification.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/sahithikokkula/verdict-aqe/pkg/config"
)

// Querier is the subset of *sql.DB that translation needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Step is one backend statement produced from a user statement. After, when
// set, runs once the statement succeeded.
type Step struct {
	SQL   string
	Args  []any
	After func() error
}

type Dialect interface {
	Name() string
	DriverName() string
	DSN() string

	// Init runs once after the pool is opened.
	Init(ctx context.Context, db *sql.DB) error

	// Translate maps a user statement onto backend statements. Statements the
	// backend understands natively come back unchanged as a single step.
	Translate(ctx context.Context, q Querier, stmt string) ([]Step, error)

	// Classify wraps a driver error with its errdefs kind.
	Classify(err error) error

	QuoteIdent(name string) string
	QuoteString(s string) string

	// ShuffleKey maps an integer expression to a deterministic pseudo-random
	// sort key.
	ShuffleKey(expr string) string
	// BlockIDExpr numbers rows 0.. in the given order and divides by blockSize.
	BlockIDExpr(blockSize int64, order string) string
	// SamplePredicate keeps a row with probability ratio.
	SamplePredicate(ratio float64) string

	TableExists(ctx context.Context, q Querier, schema, table string) (bool, error)

	// MetaTable names a metadata table; MetaSchemaDDL creates its container.
	MetaTable(name string) string
	MetaSchemaDDL() []string
	KeyType() string
	BlobType() string
}

// For returns the dialect for a backend.
func For(b config.Backend) (Dialect, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	switch b.Kind {
	case config.KindMySQL:
		return NewMySQL(b), nil
	default:
		return NewSQLite(b), nil
	}
}

// Qualified renders schema.table with the dialect's quoting; an empty schema
// yields just the table.
func Qualified(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

const identPattern = "(`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[A-Za-z_][A-Za-z0-9_$]*)"

var (
	createSchemaRe = regexp.MustCompile(`(?is)^create\s+(?:schema|database)\s+(if\s+not\s+exists\s+)?` + identPattern + `$`)
	dropSchemaRe   = regexp.MustCompile(`(?is)^drop\s+(?:schema|database)\s+(if\s+exists\s+)?` + identPattern + `(?:\s+(?:cascade|restrict))?$`)
	showSchemasRe  = regexp.MustCompile(`(?is)^show\s+(?:schemas|databases)$`)
	showTablesRe   = regexp.MustCompile(`(?is)^show\s+tables(?:\s+(?:in|from)\s+` + identPattern + `)?$`)
	describeRe     = regexp.MustCompile(`(?is)^(?:describe|desc|show\s+columns\s+(?:in|from))\s+(?:` + identPattern + `\.)?` + identPattern + `$`)
	conditionalRe  = regexp.MustCompile(`(?is)^(?:create|drop)\b.*\bif\s+(?:not\s+)?exists\b`)
	dropRe         = regexp.MustCompile(`(?is)^drop\s+(?:table|view|schema|database)\b`)
)

// Unquote strips one level of `x`, "x" or [x] quoting.
func Unquote(ident string) string {
	if len(ident) >= 2 {
		switch {
		case ident[0] == '`' && ident[len(ident)-1] == '`',
			ident[0] == '"' && ident[len(ident)-1] == '"',
			ident[0] == '[' && ident[len(ident)-1] == ']':
			return ident[1 : len(ident)-1]
		}
	}
	return ident
}

// Normalize trims whitespace and trailing semicolons.
func Normalize(stmt string) string {
	return strings.TrimRight(strings.TrimSpace(stmt), "; \t\r\n")
}

// IsConditionalDDL reports whether stmt is CREATE/DROP ... IF [NOT] EXISTS.
func IsConditionalDDL(stmt string) bool {
	return conditionalRe.MatchString(Normalize(stmt))
}

// IsDrop reports whether stmt drops a table, view or schema.
func IsDrop(stmt string) bool {
	return dropRe.MatchString(Normalize(stmt))
}

// Shuffle is the splitmix64 finalizer shifted into the non-negative int64
// range. Callers break the rare ties by row number.
func Shuffle(n int64) int64 {
	x := uint64(n)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x >> 1)
}

// ReturnsRows reports whether stmt should be run with Query rather than Exec.
func ReturnsRows(stmt string) bool {
	fields := strings.Fields(strings.TrimLeft(Normalize(stmt), "("))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "select", "with", "show", "values", "explain", "describe", "desc", "pragma", "table":
		return true
	}
	return false
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func single(stmt string) []Step {
	return []Step{{SQL: stmt}}
}

func formatRatio(ratio float64) string {
	return fmt.Sprintf("%.10f", ratio)
}
