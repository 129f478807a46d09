package sketches

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperLogLogDistinct(t *testing.T) {
	hll := NewHyperLogLog(12)
	for i := int64(0); i < 1000; i++ {
		hll.Observe(i)
		hll.Observe(float64(i)) // same key as the int64
	}
	assert.InDelta(t, 1000, float64(hll.Estimate()), 50)

	big := NewHyperLogLog(12)
	for i := int64(0); i < 100000; i++ {
		big.Observe(i)
	}
	assert.InDelta(t, 100000, float64(big.Estimate()), 100000*5*big.RelativeError())
}

func TestHyperLogLogMerge(t *testing.T) {
	a, b := NewHyperLogLog(10), NewHyperLogLog(10)
	for i := int64(0); i < 500; i++ {
		a.Observe(i)
		b.Observe(i + 250)
	}
	require.NoError(t, a.Merge(b))
	assert.InDelta(t, 750, float64(a.Estimate()), 75)

	assert.Error(t, a.Merge(NewHyperLogLog(12)))
}

func TestHyperLogLogEncoding(t *testing.T) {
	hll := NewHyperLogLog(10)
	for _, v := range []any{"a", "b", int64(3), 2.5} {
		hll.Observe(v)
	}
	data, err := hll.MarshalBinary()
	require.NoError(t, err)

	sk, err := Decode(HyperLogLogType, data)
	require.NoError(t, err)
	assert.Equal(t, hll, sk)

	_, err = Decode(HyperLogLogType, data[:len(data)-1])
	assert.Error(t, err)
	_, err = Decode(CountMinSketchType, data)
	assert.Error(t, err)
}

func TestCountMinBounds(t *testing.T) {
	cm := NewCountMin(0.01, 0.01)
	for i := 0; i < 1000; i++ {
		cm.Observe(int64(i%10), 1)
	}
	for i := int64(0); i < 10; i++ {
		got := cm.Frequency(i)
		assert.GreaterOrEqual(t, got, uint64(100))
		assert.LessOrEqual(t, got, 100+cm.Bound())
	}
	assert.Equal(t, uint64(1000), cm.Total())
	assert.Equal(t, uint64(10), cm.Bound())
	assert.InDelta(t, 0.99, cm.Confidence(), 1e-9)
}

func TestCountMinMergeAndEncoding(t *testing.T) {
	a, b := NewCountMin(0.05, 0.1), NewCountMin(0.05, 0.1)
	a.Observe("US", 40)
	b.Observe("US", 2)
	b.Observe([]byte("IN"), 7)
	require.NoError(t, a.Merge(b))
	assert.Equal(t, uint64(42), a.Frequency("US"))
	assert.Equal(t, uint64(7), a.Frequency("IN"))
	assert.Equal(t, uint64(49), a.Total())

	data, err := a.MarshalBinary()
	require.NoError(t, err)
	sk, err := Decode(CountMinSketchType, data)
	require.NoError(t, err)
	assert.Equal(t, a, sk)

	assert.Error(t, a.Merge(NewCountMin(0.01, 0.1)))
	_, err = Decode("bloom", data)
	assert.Error(t, err)
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "7", KeyOf(int64(7)))
	assert.Equal(t, "7", KeyOf(7.0))
	assert.Equal(t, "7.5", KeyOf(7.5))
	assert.Equal(t, "abc", KeyOf([]byte("abc")))
	assert.Equal(t, "", KeyOf(nil))
}

func TestClassesKeySeparately(t *testing.T) {
	cm := NewCountMin(0.001, 0.01)
	cm.Observe("5", 10)
	cm.Observe(int64(5), 3)
	assert.Equal(t, uint64(10), cm.Frequency("5"))
	assert.Equal(t, uint64(10), cm.Frequency([]byte("5")))
	assert.Equal(t, uint64(3), cm.Frequency(int64(5)))
	assert.Equal(t, uint64(3), cm.Frequency(5.0))

	hll := NewHyperLogLog(DefaultPrecision)
	hll.Observe("5")
	hll.Observe(int64(5))
	hll.Observe(5.0)
	assert.Equal(t, uint64(2), hll.Estimate())
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassNumeric, ClassOf(int64(1)))
	assert.Equal(t, ClassNumeric, ClassOf(1.5))
	assert.Equal(t, ClassText, ClassOf("x"))
	assert.Equal(t, ClassText, ClassOf([]byte("x")))
	assert.Equal(t, ClassOther, ClassOf(true))

	var c Class
	c = c.Join(ClassText)
	assert.Equal(t, ClassText, c)
	assert.Equal(t, ClassText, c.Join(ClassText))
	assert.Equal(t, ClassMixed, c.Join(ClassNumeric))
	assert.Equal(t, ClassMixed, ClassMixed.Join(ClassText))
}
