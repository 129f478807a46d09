package result

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func single(v any) *Result {
	return New([]Column{{Name: "count(*)", Type: "BIGINT"}}, [][]any{{v}})
}

func TestCompareExact(t *testing.T) {
	assert.NoError(t, Compare(single(int64(1000)), single(int64(1000)), Exact))

	err := Compare(single(int64(1000)), single(int64(999)), Exact)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMismatch))

	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, 0, mm.Row)
	assert.Equal(t, 0, mm.Column)
}

func TestCompareRowCount(t *testing.T) {
	two := New([]Column{{Name: "a"}}, [][]any{{int64(1)}, {int64(2)}})

	for _, mode := range []Mode{Exact, Approximate} {
		err := Compare(two, single(int64(1)), mode)
		var mm *MismatchError
		require.True(t, errors.As(err, &mm), mode.String())
		assert.Equal(t, -1, mm.Row)
	}
}

func TestCompareApproximateBand(t *testing.T) {
	cases := []struct {
		expected any
		actual   any
		ok       bool
	}{
		{int64(1000), int64(800), true},
		{int64(1000), int64(1200), true},
		{int64(1000), 1100.5, true},
		{int64(1000), int64(799), false},
		{int64(1000), int64(1201), false},
		{-100.0, -110.0, true},
		{-100.0, -130.0, false},
		{int64(0), int64(0), true},
		{int64(0), int64(1), false},
		{"US", "US", true},
		{"US", "DE", false},
		{int64(10), "10", false},
	}
	for _, c := range cases {
		err := Compare(single(c.expected), single(c.actual), Approximate)
		if c.ok {
			assert.NoError(t, err, "%v vs %v", c.expected, c.actual)
		} else {
			assert.Error(t, err, "%v vs %v", c.expected, c.actual)
		}
	}
}

func TestCompareApproximateNulls(t *testing.T) {
	assert.Error(t, Compare(single(nil), single(int64(5)), Approximate))
	assert.Error(t, Compare(single(int64(5)), single(nil), Approximate))
	// both null still fails even though the values match
	assert.Error(t, Compare(single(nil), single(nil), Approximate))
	// exact mode treats two nulls as equal
	assert.NoError(t, Compare(single(nil), single(nil), Exact))
}

func TestCompareCustomTolerance(t *testing.T) {
	tight := Tolerance{Lower: 0.99, Upper: 1.01}
	assert.NoError(t, CompareWithTolerance(single(100.0), single(100.5), tight))
	assert.Error(t, CompareWithTolerance(single(100.0), single(105.0), tight))
}

func TestResultAccessors(t *testing.T) {
	r := New([]Column{{Name: "a", Type: "BIGINT"}, {Name: "b", Type: "VARCHAR"}},
		[][]any{{int64(1), "x"}, {int64(2), nil}})

	assert.Equal(t, []string{"BIGINT", "VARCHAR"}, r.Types())
	assert.Equal(t, []string{"a", "b"}, r.ColumnNames())
	assert.Equal(t, 2, r.RowCount())
	assert.Equal(t, "x", r.Value(0, 1))
	assert.Nil(t, r.Value(5, 0))
	assert.Equal(t, []map[string]any{{"a": int64(1), "b": "x"}, {"a": int64(2), "b": nil}}, r.Maps())
	assert.False(t, r.IsApproximate())
	assert.True(t, r.WithApproximation(&Approximation{Scramble: "s.t_scrambled"}).IsApproximate())
}
