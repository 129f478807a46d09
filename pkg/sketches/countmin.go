package sketches

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CountMin is a depth x width table of counters. A value increments one
// counter per row; its frequency is the smallest of those counters.
type CountMin struct {
	depth, width int
	epsilon      float64
	delta        float64
	total        uint64
	counters     []uint64 // row-major
}

// NewCountMin sizes the table so estimates exceed the truth by at most
// epsilon*Total with probability 1-delta. Values outside (0,1) become 0.01.
func NewCountMin(epsilon, delta float64) *CountMin {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = 0.01
	}
	if delta <= 0 || delta >= 1 {
		delta = 0.01
	}
	width := int(math.Ceil(math.E / epsilon))
	depth := int(math.Ceil(math.Log(1 / delta)))
	return &CountMin{
		depth:    depth,
		width:    width,
		epsilon:  epsilon,
		delta:    delta,
		counters: make([]uint64, depth*width),
	}
}

func (c *CountMin) Type() SketchType { return CountMinSketchType }

func (c *CountMin) Observe(v any, n uint64) {
	lo, hi := c.hashes(v)
	for row := 0; row < c.depth; row++ {
		c.counters[c.cell(row, lo, hi)] += n
	}
	c.total += n
}

func (c *CountMin) Frequency(v any) uint64 {
	lo, hi := c.hashes(v)
	est := uint64(math.MaxUint64)
	for row := 0; row < c.depth; row++ {
		est = min(est, c.counters[c.cell(row, lo, hi)])
	}
	return est
}

func (c *CountMin) Total() uint64 { return c.total }

func (c *CountMin) Bound() uint64 { return uint64(c.epsilon * float64(c.total)) }

func (c *CountMin) Confidence() float64 { return 1 - c.delta }

// Merge adds o's counters to c. Both must have the same shape.
func (c *CountMin) Merge(o *CountMin) error {
	if o.depth != c.depth || o.width != c.width {
		return fmt.Errorf("cannot merge %dx%d count-min into %dx%d", o.depth, o.width, c.depth, c.width)
	}
	for i, n := range o.counters {
		c.counters[i] += n
	}
	c.total += o.total
	return nil
}

func (c *CountMin) hashes(v any) (uint32, uint32) {
	x := hashValue(v)
	return uint32(x), uint32(x>>32) | 1
}

// cell picks the row's counter by double hashing.
func (c *CountMin) cell(row int, lo, hi uint32) int {
	return row*c.width + int((lo+uint32(row)*hi)%uint32(c.width))
}

func (c *CountMin) MarshalBinary() ([]byte, error) {
	out := header(tagCountMin)
	out = binary.BigEndian.AppendUint32(out, uint32(c.depth))
	out = binary.BigEndian.AppendUint32(out, uint32(c.width))
	out = appendUint64(out, math.Float64bits(c.epsilon))
	out = appendUint64(out, math.Float64bits(c.delta))
	out = appendUint64(out, c.total)
	for _, n := range c.counters {
		out = appendUint64(out, n)
	}
	return out, nil
}

func (c *CountMin) UnmarshalBinary(data []byte) error {
	body, err := checkHeader(data, tagCountMin)
	if err != nil {
		return err
	}
	const fixed = 4 + 4 + 8 + 8 + 8
	if len(body) < fixed {
		return fmt.Errorf("truncated count-min")
	}
	depth := int(binary.BigEndian.Uint32(body[0:]))
	width := int(binary.BigEndian.Uint32(body[4:]))
	if depth < 1 || width < 1 || len(body) != fixed+8*depth*width {
		return fmt.Errorf("corrupt count-min: %dx%d table in %d bytes", depth, width, len(body))
	}
	c.depth, c.width = depth, width
	c.epsilon = math.Float64frombits(binary.BigEndian.Uint64(body[8:]))
	c.delta = math.Float64frombits(binary.BigEndian.Uint64(body[16:]))
	c.total = binary.BigEndian.Uint64(body[24:])
	c.counters = make([]uint64, depth*width)
	for i := range c.counters {
		c.counters[i] = binary.BigEndian.Uint64(body[fixed+8*i:])
	}
	return nil
}
