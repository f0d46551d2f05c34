package alpha

import (
	"github.com/lunixbochs/alphacorn/go/mmu"
	"github.com/lunixbochs/alphacorn/go/models"
	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

// lock-flag plus reserved physical address for LDx_L/STx_C
type lockState struct {
	valid bool
	pa    uint64
}

func alignFault(va uint64, write bool) error {
	var stat uint64
	if write {
		stat = models.MMWr
	}
	return &models.Fault{Kind: models.FaultAlign, VA: va, MMStat: stat}
}

// readVirt loads size bytes at va, little-endian, zero-extended. Unaligned
// access faults under strict alignment and is assembled bytewise otherwise,
// which keeps page-crossing loads correct.
func (c *AlphaCpu) readVirt(va uint64, size int) (uint64, error) {
	if va&uint64(size-1) != 0 {
		if c.strictAlign {
			return 0, alignFault(va, false)
		}
		var val uint64
		for i := 0; i < size; i++ {
			pa, err := c.translate(va+uint64(i), mmu.AccessRead)
			if err != nil {
				return 0, err
			}
			b, err := c.sys.MemRead(pa, 1)
			if err != nil {
				return 0, err
			}
			val |= b << (8 * uint(i))
		}
		c.OnMem(cpu.MEM_READ, va, size, int64(val))
		return val, nil
	}
	pa, err := c.translate(va, mmu.AccessRead)
	if err != nil {
		return 0, err
	}
	val, err := c.sys.MemRead(pa, size)
	if err != nil {
		return 0, err
	}
	c.OnMem(cpu.MEM_READ, va, size, int64(val))
	return val, nil
}

func (c *AlphaCpu) writeVirt(va uint64, size int, val uint64) error {
	c.OnMem(cpu.MEM_WRITE, va, size, int64(val))
	if va&uint64(size-1) != 0 {
		if c.strictAlign {
			return alignFault(va, true)
		}
		for i := 0; i < size; i++ {
			pa, err := c.translate(va+uint64(i), mmu.AccessWrite)
			if err != nil {
				return err
			}
			if err := c.sys.MemWrite(pa, 1, val>>(8*uint(i))&0xff); err != nil {
				return err
			}
		}
		return nil
	}
	pa, err := c.translate(va, mmu.AccessWrite)
	if err != nil {
		return err
	}
	return c.sys.MemWrite(pa, size, val)
}

func sext(val uint64, size int) uint64 {
	shift := uint(64 - 8*size)
	return uint64(int64(val<<shift) >> shift)
}

func (c *AlphaCpu) execMem(d Decoded) error {
	ra, rb := int(d.Ra), int(d.Rb)
	ea := c.Get(rb) + uint64(int64(d.Disp))
	switch d.Opcode {
	case OpLda:
		c.Set(ra, ea)
	case OpLdah:
		c.Set(ra, c.Get(rb)+uint64(int64(d.Disp))<<16)

	case OpLdbu, OpLdwu, OpStb, OpStw:
		if !c.model.Has(ExtBWX) {
			return &models.Fault{Kind: models.FaultRsvdOpcode}
		}
		switch d.Opcode {
		case OpLdbu:
			return c.load(ra, ea, 1, false)
		case OpLdwu:
			return c.load(ra, ea, 2, false)
		case OpStb:
			return c.writeVirt(ea, 1, c.Get(ra))
		case OpStw:
			return c.writeVirt(ea, 2, c.Get(ra))
		}

	case OpLdl:
		return c.load(ra, ea, 4, true)
	case OpLdq:
		return c.load(ra, ea, 8, false)
	case OpLdqU:
		return c.load(ra, ea&^7, 8, false)
	case OpStl:
		return c.writeVirt(ea, 4, c.Get(ra))
	case OpStq:
		return c.writeVirt(ea, 8, c.Get(ra))
	case OpStqU:
		return c.writeVirt(ea&^7, 8, c.Get(ra))

	case OpLdlL:
		return c.loadLocked(ra, ea, 4)
	case OpLdqL:
		return c.loadLocked(ra, ea, 8)
	case OpStlC:
		return c.storeCond(ra, ea, 4)
	case OpStqC:
		return c.storeCond(ra, ea, 8)

	case OpLds, OpLdt, OpLdf, OpLdg, OpSts, OpStt, OpStf, OpStg:
		if c.Get(PS)&PS_FEN == 0 && c.mode() != ModePal {
			return &models.Fault{Kind: models.FaultFEN}
		}
		return c.execMemFP(d, ea)
	}
	return nil
}

func (c *AlphaCpu) load(ra int, ea uint64, size int, signed bool) error {
	val, err := c.readVirt(ea, size)
	if err != nil {
		return err
	}
	if signed {
		val = sext(val, size)
	}
	c.Set(ra, val)
	return nil
}

func (c *AlphaCpu) loadLocked(ra int, ea uint64, size int) error {
	if ea&uint64(size-1) != 0 {
		if c.strictAlign {
			return alignFault(ea, false)
		}
		// unaligned LDx_L degrades to a plain load, no reservation
		return c.load(ra, ea, size, size == 4)
	}
	pa, err := c.translate(ea, mmu.AccessRead)
	if err != nil {
		return err
	}
	val, err := c.sys.LoadLocked(pa, size)
	if err != nil {
		return err
	}
	c.OnMem(cpu.MEM_READ, ea, size, int64(val))
	c.lock = lockState{valid: true, pa: pa}
	if size == 4 {
		val = sext(val, 4)
	}
	c.Set(ra, val)
	return nil
}

func (c *AlphaCpu) storeCond(ra int, ea uint64, size int) error {
	if ea&uint64(size-1) != 0 && c.strictAlign {
		return alignFault(ea, true)
	}
	ok := false
	if c.lock.valid {
		pa, err := c.translate(ea, mmu.AccessWrite)
		if err != nil {
			return err
		}
		c.OnMem(cpu.MEM_WRITE, ea, size, int64(c.Get(ra)))
		ok, err = c.sys.StoreConditional(pa, size, c.Get(ra))
		if err != nil {
			return err
		}
	}
	c.lock = lockState{}
	if ok {
		c.Set(ra, 1)
	} else {
		c.Set(ra, 0)
	}
	return nil
}

func (c *AlphaCpu) execMisc(d Decoded) error {
	ra := int(d.Ra)
	switch d.Func {
	case FnTrapb, FnExcb:
		// traps are delivered precisely, the barrier is already satisfied
	case FnMb, FnWmb:
		// stores reach the coherence bus in program order
	case FnFetch, FnFetchM, FnEcb, FnWh64:
		// prefetch and write hints
	case FnRpcc:
		c.Set(ra, c.sys.Cycles())
	case FnRc:
		c.Set(ra, c.Get(SISR)&1)
		c.Set(SISR, c.Get(SISR)&^1)
	case FnRs:
		c.Set(ra, c.Get(SISR)&1)
		c.Set(SISR, c.Get(SISR)|1)
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}
