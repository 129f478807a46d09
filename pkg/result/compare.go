package result

import (
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// Mode selects how two results are compared.
type Mode int

const (
	Exact Mode = iota
	Approximate
)

func (m Mode) String() string {
	if m == Approximate {
		return "approximate"
	}
	return "exact"
}

// Tolerance is a relative acceptance band: v must fall within [Lower*e, Upper*e].
type Tolerance struct {
	Lower float64
	Upper float64
}

// DefaultTolerance is the ±20% band applied to approximate answers.
var DefaultTolerance = Tolerance{Lower: 0.8, Upper: 1.2}

// Contains reports whether v lies inside the band around e. The bounds are
// swapped for negative e so the band stays non-empty.
func (t Tolerance) Contains(e, v float64) bool {
	lo, hi := e*t.Lower, e*t.Upper
	if lo > hi {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

var ErrMismatch = errors.New("result mismatch")

// MismatchError locates the first difference between two results. Row and
// Column are -1 when the shapes differ.
type MismatchError struct {
	Mode     Mode
	Row      int
	Column   int
	Expected any
	Actual   any
	Reason   string
}

func (e *MismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s comparison failed: %s", e.Mode, e.Reason)
	}
	return fmt.Sprintf("%s comparison failed at row %d, column %d: %s (expected %v, actual %v)",
		e.Mode, e.Row, e.Column, e.Reason, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Compare checks actual against expected. Exact mode requires equal row counts
// and equal cells; approximate mode applies DefaultTolerance.
func Compare(expected, actual *Result, mode Mode) error {
	if mode == Approximate {
		return CompareWithTolerance(expected, actual, DefaultTolerance)
	}
	if err := compareShape(Exact, expected, actual); err != nil {
		return err
	}
	for i, erow := range expected.Rows() {
		arow := actual.Rows()[i]
		if len(erow) != len(arow) {
			return &MismatchError{Mode: Exact, Row: i, Column: -1,
				Reason: fmt.Sprintf("column count %d != %d", len(erow), len(arow))}
		}
		if cmp.Equal(erow, arow) {
			continue
		}
		for j := range erow {
			if !cmp.Equal(erow[j], arow[j]) {
				return &MismatchError{Mode: Exact, Row: i, Column: j,
					Expected: erow[j], Actual: arow[j],
					Reason: "values differ: " + cmp.Diff(erow, arow)}
			}
		}
	}
	return nil
}

// CompareWithTolerance is the approximate comparison with a custom band. Every
// cell pair must be non-null; numeric pairs must fall inside tol and other
// pairs must be equal.
func CompareWithTolerance(expected, actual *Result, tol Tolerance) error {
	if err := compareShape(Approximate, expected, actual); err != nil {
		return err
	}
	for i, erow := range expected.Rows() {
		arow := actual.Rows()[i]
		if len(erow) != len(arow) {
			return &MismatchError{Mode: Approximate, Row: i, Column: -1,
				Reason: fmt.Sprintf("column count %d != %d", len(erow), len(arow))}
		}
		for j := range erow {
			if err := approxCell(i, j, erow[j], arow[j], tol); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareShape(mode Mode, expected, actual *Result) error {
	if expected == nil || actual == nil {
		return &MismatchError{Mode: mode, Row: -1, Column: -1, Reason: "missing result"}
	}
	if expected.RowCount() != actual.RowCount() {
		return &MismatchError{Mode: mode, Row: -1, Column: -1,
			Reason: fmt.Sprintf("row count %d != %d", expected.RowCount(), actual.RowCount())}
	}
	return nil
}

func approxCell(row, col int, e, v any, tol Tolerance) error {
	mismatch := func(reason string) error {
		return &MismatchError{Mode: Approximate, Row: row, Column: col, Expected: e, Actual: v, Reason: reason}
	}
	if e == nil {
		return mismatch("expected value is null")
	}
	if v == nil {
		return mismatch("actual value is null")
	}
	ef, eok := numeric(e)
	vf, vok := numeric(v)
	switch {
	case eok && vok:
		if !tol.Contains(ef, vf) {
			return mismatch(fmt.Sprintf("outside [%g, %g] band", tol.Lower, tol.Upper))
		}
	case eok != vok:
		return mismatch("numeric and non-numeric values")
	case !cmp.Equal(e, v):
		return mismatch("values differ")
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case string, []byte:
		return 0, false
	}
	return ToFloat64(v)
}
