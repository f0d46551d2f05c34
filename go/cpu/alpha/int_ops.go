package alpha

import (
	"math/bits"

	"github.com/lunixbochs/alphacorn/go/models"
)

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

func boolReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (c *AlphaCpu) iovTrap(rc int) error {
	return &models.Fault{
		Kind:    models.FaultArith,
		Summary: models.ArithIOV,
		RegMask: 1 << uint(rc),
	}
}

func (c *AlphaCpu) execOperate(d Decoded) error {
	a := c.Get(int(d.Ra))
	var b uint64
	if d.IsLit {
		b = uint64(d.Lit)
	} else {
		b = c.Get(int(d.Rb))
	}
	rc := int(d.Rc)
	switch d.Opcode {
	case OpIntA:
		return c.intArith(d.Func, a, b, rc)
	case OpIntL:
		return c.intLogical(d.Func, a, b, rc)
	case OpIntS:
		return c.intShift(d.Func, a, b, rc)
	case OpIntM:
		return c.intMul(d.Func, a, b, rc)
	case OpIntX:
		// ftoit/ftois read the fp file through the Ra field
		if d.Func == FnFtoit || d.Func == FnFtois {
			if !c.model.Has(ExtFIX) {
				return &models.Fault{Kind: models.FaultRsvdOpcode}
			}
			fa := c.Get(F0 + int(d.Ra))
			if d.Func == FnFtoit {
				c.Set(rc, fa)
			} else {
				c.Set(rc, sext32(uint64(storeSBits(fa))))
			}
			return nil
		}
		return c.intExt(d.Func, a, b, rc)
	}
	return &models.Fault{Kind: models.FaultRsvdOpcode}
}

func (c *AlphaCpu) intArith(fn uint16, a, b uint64, rc int) error {
	switch fn {
	case FnAddl:
		c.Set(rc, sext32(a+b))
	case FnS4Addl:
		c.Set(rc, sext32(a*4+b))
	case FnS8Addl:
		c.Set(rc, sext32(a*8+b))
	case FnSubl:
		c.Set(rc, sext32(a-b))
	case FnS4Subl:
		c.Set(rc, sext32(a*4-b))
	case FnS8Subl:
		c.Set(rc, sext32(a*8-b))
	case FnAddq:
		c.Set(rc, a+b)
	case FnS4Addq:
		c.Set(rc, a*4+b)
	case FnS8Addq:
		c.Set(rc, a*8+b)
	case FnSubq:
		c.Set(rc, a-b)
	case FnS4Subq:
		c.Set(rc, a*4-b)
	case FnS8Subq:
		c.Set(rc, a*8-b)
	case FnCmpeq:
		c.Set(rc, boolReg(a == b))
	case FnCmplt:
		c.Set(rc, boolReg(int64(a) < int64(b)))
	case FnCmple:
		c.Set(rc, boolReg(int64(a) <= int64(b)))
	case FnCmpult:
		c.Set(rc, boolReg(a < b))
	case FnCmpule:
		c.Set(rc, boolReg(a <= b))
	case FnCmpbge:
		var mask uint64
		for i := uint(0); i < 8; i++ {
			if uint8(a>>(8*i)) >= uint8(b>>(8*i)) {
				mask |= 1 << i
			}
		}
		c.Set(rc, mask)
	case FnAddlV:
		r := int64(int32(a)) + int64(int32(b))
		c.Set(rc, sext32(uint64(r)))
		if r != int64(int32(r)) {
			return c.iovTrap(rc)
		}
	case FnSublV:
		r := int64(int32(a)) - int64(int32(b))
		c.Set(rc, sext32(uint64(r)))
		if r != int64(int32(r)) {
			return c.iovTrap(rc)
		}
	case FnAddqV:
		r := a + b
		c.Set(rc, r)
		// overflow iff operands share a sign the result lost
		if ((a^r)&(b^r))>>63 != 0 {
			return c.iovTrap(rc)
		}
	case FnSubqV:
		r := a - b
		c.Set(rc, r)
		if ((a^b)&(a^r))>>63 != 0 {
			return c.iovTrap(rc)
		}
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

func (c *AlphaCpu) intLogical(fn uint16, a, b uint64, rc int) error {
	cmov := func(cond bool) {
		if cond {
			c.Set(rc, b)
		}
	}
	switch fn {
	case FnAnd:
		c.Set(rc, a&b)
	case FnBic:
		c.Set(rc, a&^b)
	case FnBis:
		c.Set(rc, a|b)
	case FnOrnot:
		c.Set(rc, a|^b)
	case FnXor:
		c.Set(rc, a^b)
	case FnEqv:
		c.Set(rc, a^^b)
	case FnCmovlbs:
		cmov(a&1 == 1)
	case FnCmovlbc:
		cmov(a&1 == 0)
	case FnCmoveq:
		cmov(a == 0)
	case FnCmovne:
		cmov(a != 0)
	case FnCmovlt:
		cmov(int64(a) < 0)
	case FnCmovge:
		cmov(int64(a) >= 0)
	case FnCmovle:
		cmov(int64(a) <= 0)
	case FnCmovgt:
		cmov(int64(a) > 0)
	case FnAmask:
		c.Set(rc, b&^c.model.Exts())
	case FnImplver:
		c.Set(rc, c.model.Implver())
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

var widthMasks = map[uint16]uint64{
	0: 0xff, 1: 0xffff, 2: 0xffffffff, 3: ^uint64(0),
}

func (c *AlphaCpu) intShift(fn uint16, a, b uint64, rc int) error {
	switch fn {
	case FnSll:
		c.Set(rc, a<<(b&63))
		return nil
	case FnSrl:
		c.Set(rc, a>>(b&63))
		return nil
	case FnSra:
		c.Set(rc, uint64(int64(a)>>(b&63)))
		return nil
	case FnZap:
		c.Set(rc, a&^zapMask(b))
		return nil
	case FnZapnot:
		c.Set(rc, a&zapMask(b))
		return nil
	}

	// byte-manipulation family: fn<5:4> encodes the width for both the
	// low and high forms
	width, ok := widthMasks[fn>>4&3]
	if !ok {
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	bytePos := uint(b & 7)
	shift := 8 * bytePos
	hshift := 64 - shift
	switch fn {
	case FnExtbl, FnExtwl, FnExtll, FnExtql:
		c.Set(rc, a>>shift&width)
	case FnExtwh, FnExtlh, FnExtqh:
		if bytePos == 0 {
			c.Set(rc, 0)
		} else {
			c.Set(rc, a<<hshift&width)
		}
	case FnInsbl, FnInswl, FnInsll, FnInsql:
		c.Set(rc, (a&width)<<shift)
	case FnInswh, FnInslh, FnInsqh:
		if bytePos == 0 {
			c.Set(rc, 0)
		} else {
			c.Set(rc, (a&width)>>hshift)
		}
	case FnMskbl, FnMskwl, FnMskll, FnMskql:
		c.Set(rc, a&^(width<<shift))
	case FnMskwh, FnMsklh, FnMskqh:
		if bytePos == 0 {
			c.Set(rc, a)
		} else {
			c.Set(rc, a&^(width>>hshift))
		}
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

func zapMask(b uint64) uint64 {
	var mask uint64
	for i := uint(0); i < 8; i++ {
		if b&(1<<i) != 0 {
			mask |= 0xff << (8 * i)
		}
	}
	return mask
}

func (c *AlphaCpu) intMul(fn uint16, a, b uint64, rc int) error {
	switch fn {
	case FnMull:
		c.Set(rc, sext32(uint64(int32(a)*int32(b))))
	case FnMulq:
		c.Set(rc, a*b)
	case FnUmulh:
		hi, _ := bits.Mul64(a, b)
		c.Set(rc, hi)
	case FnMullV:
		r := int64(int32(a)) * int64(int32(b))
		c.Set(rc, sext32(uint64(r)))
		if r != int64(int32(r)) {
			return c.iovTrap(rc)
		}
	case FnMulqV:
		hi, lo := bits.Mul64(a, b)
		// signed high word correction
		shi := int64(hi) - int64(a)>>63&int64(b) - int64(b)>>63&int64(a)
		c.Set(rc, lo)
		if shi != int64(lo)>>63 {
			return c.iovTrap(rc)
		}
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

func (c *AlphaCpu) intExt(fn uint16, a, b uint64, rc int) error {
	need := func(ext uint64) error {
		if !c.model.Has(ext) {
			return &models.Fault{Kind: models.FaultRsvdOpcode}
		}
		return nil
	}
	switch fn {
	case FnSextb:
		if err := need(ExtBWX); err != nil {
			return err
		}
		c.Set(rc, sext(b, 1))
	case FnSextw:
		if err := need(ExtBWX); err != nil {
			return err
		}
		c.Set(rc, sext(b, 2))
	case FnCtpop:
		if err := need(ExtCIX); err != nil {
			return err
		}
		c.Set(rc, uint64(bits.OnesCount64(b)))
	case FnCtlz:
		if err := need(ExtCIX); err != nil {
			return err
		}
		c.Set(rc, uint64(bits.LeadingZeros64(b)))
	case FnCttz:
		if err := need(ExtCIX); err != nil {
			return err
		}
		c.Set(rc, uint64(bits.TrailingZeros64(b)))
	case FnPerr, FnUnpkbw, FnUnpkbl, FnPkwb, FnPklb,
		FnMinsb8, FnMinsw4, FnMinub8, FnMinuw4,
		FnMaxub8, FnMaxuw4, FnMaxsb8, FnMaxsw4:
		if err := need(ExtMVI); err != nil {
			return err
		}
		c.Set(rc, mviOp(fn, a, b))
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

func mviOp(fn uint16, a, b uint64) uint64 {
	switch fn {
	case FnPerr:
		var sum uint64
		for i := uint(0); i < 8; i++ {
			x, y := uint8(a>>(8*i)), uint8(b>>(8*i))
			if x >= y {
				sum += uint64(x - y)
			} else {
				sum += uint64(y - x)
			}
		}
		return sum
	case FnUnpkbw:
		return b&0xff | (b>>8&0xff)<<16 | (b>>16&0xff)<<32 | (b>>24&0xff)<<48
	case FnUnpkbl:
		return b&0xff | (b>>8&0xff)<<32
	case FnPkwb:
		return b&0xff | (b>>16&0xff)<<8 | (b>>32&0xff)<<16 | (b>>48&0xff)<<24
	case FnPklb:
		return b&0xff | (b>>32&0xff)<<8
	}

	var out uint64
	step, signed, max := uint(8), false, false
	switch fn {
	case FnMinsb8:
		signed = true
	case FnMinub8:
	case FnMaxsb8:
		signed, max = true, true
	case FnMaxub8:
		max = true
	case FnMinsw4:
		step, signed = 16, true
	case FnMinuw4:
		step = 16
	case FnMaxsw4:
		step, signed, max = 16, true, true
	case FnMaxuw4:
		step, max = 16, true
	}
	mask := uint64(1)<<step - 1
	for pos := uint(0); pos < 64; pos += step {
		x, y := a>>pos&mask, b>>pos&mask
		var pick uint64
		if signed {
			sx := int64(x<<(64-step)) >> (64 - step)
			sy := int64(y<<(64-step)) >> (64 - step)
			if (sx < sy) != max {
				pick = x
			} else {
				pick = y
			}
		} else {
			if (x < y) != max {
				pick = x
			} else {
				pick = y
			}
		}
		out |= pick << pos
	}
	return out
}
