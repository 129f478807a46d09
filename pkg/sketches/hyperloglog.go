package sketches

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	MinPrecision     = 4
	MaxPrecision     = 16
	DefaultPrecision = 12
)

// HyperLogLog counts distinct values in 2^precision one-byte registers.
type HyperLogLog struct {
	precision uint8
	registers []uint8
}

// NewHyperLogLog returns an empty sketch. Out-of-range precisions fall back
// to DefaultPrecision.
func NewHyperLogLog(precision uint8) *HyperLogLog {
	if precision < MinPrecision || precision > MaxPrecision {
		precision = DefaultPrecision
	}
	return &HyperLogLog{precision: precision, registers: make([]uint8, 1<<precision)}
}

func (h *HyperLogLog) Type() SketchType { return HyperLogLogType }

func (h *HyperLogLog) Observe(v any) {
	x := hashValue(v)
	idx := x >> (64 - h.precision)
	rest := x<<h.precision | 1<<(h.precision-1)
	if rank := uint8(bits.LeadingZeros64(rest)) + 1; rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Merge folds o into h. Both must share a precision.
func (h *HyperLogLog) Merge(o *HyperLogLog) error {
	if o.precision != h.precision {
		return fmt.Errorf("cannot merge hyperloglog of precision %d into %d", o.precision, h.precision)
	}
	for i, r := range o.registers {
		if r > h.registers[i] {
			h.registers[i] = r
		}
	}
	return nil
}

func (h *HyperLogLog) Estimate() uint64 {
	m := float64(len(h.registers))
	var (
		inv   float64
		empty int
	)
	for _, r := range h.registers {
		inv += math.Ldexp(1, -int(r))
		if r == 0 {
			empty++
		}
	}
	raw := alpha(len(h.registers)) * m * m / inv
	if raw <= 2.5*m && empty > 0 {
		// linear counting
		return uint64(math.Round(m * math.Log(m/float64(empty))))
	}
	return uint64(math.Round(raw))
}

// RelativeError is the standard error of Estimate relative to the true count.
func (h *HyperLogLog) RelativeError() float64 {
	return 1.04 / math.Sqrt(float64(len(h.registers)))
}

func alpha(m int) float64 {
	switch {
	case m >= 128:
		return 0.7213 / (1 + 1.079/float64(m))
	case m >= 64:
		return 0.709
	case m >= 32:
		return 0.697
	}
	return 0.673
}

func (h *HyperLogLog) MarshalBinary() ([]byte, error) {
	out := append(header(tagHLL), h.precision)
	return append(out, h.registers...), nil
}

func (h *HyperLogLog) UnmarshalBinary(data []byte) error {
	body, err := checkHeader(data, tagHLL)
	if err != nil {
		return err
	}
	if len(body) < 1 {
		return fmt.Errorf("truncated hyperloglog")
	}
	p := body[0]
	if p < MinPrecision || p > MaxPrecision || len(body)-1 != 1<<p {
		return fmt.Errorf("corrupt hyperloglog: precision %d with %d registers", p, len(body)-1)
	}
	h.precision = p
	h.registers = append([]uint8(nil), body[1:]...)
	return nil
}
