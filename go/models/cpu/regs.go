package cpu

import (
	"github.com/pkg/errors"
)

// implements register and context methods conforming to cpu.Cpu
// Registers are backed by a flat array indexed by enum. Enums must be small
// and dense. A register listed in zero reads as zero and discards writes,
// which is how Alpha R31/F31 behave.
type Regs struct {
	mask uint64
	vals []uint64
	zero []bool
}

func NewRegs(bits uint, count int, zero []int) *Regs {
	r := &Regs{
		mask: ^uint64(0) >> (64 - bits),
		vals: make([]uint64, count),
		zero: make([]bool, count),
	}
	for _, e := range zero {
		r.zero[e] = true
	}
	return r
}

func (r *Regs) RegRead(enum int) (uint64, error) {
	if enum < 0 || enum >= len(r.vals) {
		return 0, errors.New("invalid register")
	}
	return r.vals[enum], nil
}

func (r *Regs) RegWrite(enum int, val uint64) error {
	if enum < 0 || enum >= len(r.vals) {
		return errors.New("invalid register")
	}
	if r.zero[enum] {
		return nil
	}
	r.vals[enum] = val & r.mask
	return nil
}

// Get and Set skip the bounds check for the interpreter's hot path.
// The decoder only produces 5-bit register fields so enums from decoded
// instructions are always in range.
func (r *Regs) Get(enum int) uint64 {
	return r.vals[enum]
}

func (r *Regs) Set(enum int, val uint64) {
	if r.zero[enum] {
		return
	}
	r.vals[enum] = val & r.mask
}

func (r *Regs) Count() int {
	return len(r.vals)
}

// ContextSave/ContextRestore only cover enumerated registers; cpu state held
// outside the register file (TLBs, reservation) must be wrapped by the caller.
func (r *Regs) ContextSave(reuse interface{}) (interface{}, error) {
	var s []uint64
	if reuse != nil {
		var ok bool
		if s, ok = reuse.([]uint64); !ok || len(s) != len(r.vals) {
			return nil, errors.New("incorrect context type")
		}
	} else {
		s = make([]uint64, len(r.vals))
	}
	copy(s, r.vals)
	return s, nil
}

func (r *Regs) ContextRestore(ctx interface{}) error {
	s, ok := ctx.([]uint64)
	if !ok || len(s) != len(r.vals) {
		return errors.New("incorrect context type")
	}
	copy(r.vals, s)
	return nil
}
