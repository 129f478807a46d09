package result

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sahithikokkula/verdict-aqe/pkg/estimator"
)

// Column describes one output column. Type is the backend's declared type name
// (e.g. BIGINT, DOUBLE, VARCHAR) or an inferred one when the backend reports none.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Approximation is attached to results produced from a scramble.
type Approximation struct {
	Scramble      string                        `json:"scramble"`
	Original      string                        `json:"original"`
	SamplingRatio float64                       `json:"sampling_ratio"`
	ScannedBlocks int                           `json:"scanned_blocks"`
	TotalBlocks   int                           `json:"total_blocks"`
	Method        string                        `json:"method"`
	Intervals     map[string]estimator.CIResult `json:"intervals,omitempty"`
}

// Result is a fully materialized query answer. It is never mutated after it is
// returned; callers must not modify the slices returned by Rows.
type Result struct {
	columns []Column
	rows    [][]any
	approx  *Approximation
}

func New(columns []Column, rows [][]any) *Result {
	if rows == nil {
		rows = [][]any{}
	}
	return &Result{columns: columns, rows: rows}
}

// Empty is the result of statements that return no rows (DDL, DML).
func Empty() *Result {
	return New(nil, nil)
}

// WithApproximation returns a copy of r carrying approximation metadata.
func (r *Result) WithApproximation(a *Approximation) *Result {
	return &Result{columns: r.columns, rows: r.rows, approx: a}
}

func (r *Result) Columns() []Column { return r.columns }

func (r *Result) ColumnNames() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

func (r *Result) Types() []string {
	types := make([]string, len(r.columns))
	for i, c := range r.columns {
		types[i] = c.Type
	}
	return types
}

func (r *Result) Rows() [][]any { return r.rows }

func (r *Result) RowCount() int { return len(r.rows) }

// Approximation returns nil for exact results.
func (r *Result) Approximation() *Approximation { return r.approx }

func (r *Result) IsApproximate() bool { return r.approx != nil }

// Value returns the cell at (row, col) or nil when out of range.
func (r *Result) Value(row, col int) any {
	if row < 0 || row >= len(r.rows) || col < 0 || col >= len(r.rows[row]) {
		return nil
	}
	return r.rows[row][col]
}

// Maps renders the rows keyed by column name, the shape the HTTP API returns.
func (r *Result) Maps() []map[string]any {
	res := make([]map[string]any, 0, len(r.rows))
	for _, row := range r.rows {
		m := map[string]any{}
		for i, c := range r.columns {
			if i < len(row) {
				m[c.Name] = row[i]
			}
		}
		res = append(res, m)
	}
	return res
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Columns       []Column       `json:"columns"`
		Rows          [][]any        `json:"rows"`
		RowCount      int            `json:"rowcount"`
		Approximation *Approximation `json:"approximation,omitempty"`
	}{r.columns, r.rows, len(r.rows), r.approx})
}

// TypeOf infers a column type name from a normalized value.
func TypeOf(v any) string {
	switch v.(type) {
	case int64, int32, int:
		return "BIGINT"
	case float64, float32:
		return "DOUBLE"
	case string:
		return "VARCHAR"
	case []byte:
		return "BLOB"
	case bool:
		return "BOOLEAN"
	case time.Time:
		return "TIMESTAMP"
	default:
		return "NULL"
	}
}

// ToFloat64 converts numeric values (and numeric strings) to float64.
func ToFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	case []byte:
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
