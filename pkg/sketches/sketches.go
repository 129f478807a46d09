// Package sketches holds the per-column summaries built alongside a full-copy
// scramble: a HyperLogLog for distinct counts and a Count-Min sketch for point
// frequencies. Both observe normalized column values (int64, float64, string,
// []byte) and encode to a self-describing binary form.
package sketches

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strconv"
)

type SketchType string

const (
	HyperLogLogType    SketchType = "hyperloglog"
	CountMinSketchType SketchType = "countmin"
)

// Sketch is anything the metadata store can persist.
type Sketch interface {
	encoding.BinaryMarshaler
	Type() SketchType
}

// Cardinality estimates the number of distinct observed values.
type Cardinality interface {
	Sketch
	Observe(v any)
	Estimate() uint64
	RelativeError() float64
}

// Frequency estimates how often a value was observed. Estimates never fall
// below the true frequency and exceed it by at most Bound with probability
// Confidence.
type Frequency interface {
	Sketch
	Observe(v any, n uint64)
	Frequency(v any) uint64
	Total() uint64
	Bound() uint64
	Confidence() float64
}

var (
	_ Cardinality = (*HyperLogLog)(nil)
	_ Frequency   = (*CountMin)(nil)
)

// encoding header: magic, type tag, format version
const (
	magic         = 'V'
	tagHLL        = 'H'
	tagCountMin   = 'C'
	formatVersion = 1
	headerLen     = 3
)

func header(tag byte) []byte { return []byte{magic, tag, formatVersion} }

func checkHeader(data []byte, tag byte) ([]byte, error) {
	if len(data) < headerLen || data[0] != magic || data[1] != tag {
		return nil, fmt.Errorf("not a %c sketch", tag)
	}
	if data[2] != formatVersion {
		return nil, fmt.Errorf("unsupported sketch format version %d", data[2])
	}
	return data[headerLen:], nil
}

// Decode restores a stored sketch of type t.
func Decode(t SketchType, data []byte) (Sketch, error) {
	switch t {
	case HyperLogLogType:
		hll := &HyperLogLog{}
		if err := hll.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return hll, nil
	case CountMinSketchType:
		cm := &CountMin{}
		if err := cm.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return cm, nil
	}
	return nil, fmt.Errorf("unknown sketch type %q", t)
}

// Class separates values that render alike but never compare equal, such as
// the string "5" and the integer 5.
type Class string

const (
	ClassNumeric Class = "numeric"
	ClassText    Class = "text"
	ClassOther   Class = "other"
	// ClassMixed marks a column holding values of more than one class.
	ClassMixed Class = "mixed"
)

func ClassOf(v any) Class {
	switch v.(type) {
	case int64, float64, int, int32, float32:
		return ClassNumeric
	case string, []byte:
		return ClassText
	}
	return ClassOther
}

// Join is the class of a column holding values of both classes. The zero
// Class joins as the identity.
func (c Class) Join(o Class) Class {
	switch {
	case c == "" || c == o:
		return o
	case o == "":
		return c
	}
	return ClassMixed
}

// KeyOf renders a value the way sketches key it. Integral floats render as
// integers so 3 and 3.0 share a key. Keys of different classes may collide;
// hashing adds the class.
func KeyOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// hashValue is FNV-1a over the value's class and key, finished with the
// murmur3 mixer so short keys spread over all 64 bits.
func hashValue(v any) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ClassOf(v)))
	h.Write([]byte{0})
	h.Write([]byte(KeyOf(v)))
	x := h.Sum64()
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

func appendUint64(b []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(b, v) }
