package alpha

import (
	"math"

	"github.com/lunixbochs/alphacorn/go/models"
)

const fpSign = uint64(1) << 63

func (c *AlphaCpu) fget(r uint8) float64 {
	return math.Float64frombits(c.Get(F0 + int(r)))
}

func (c *AlphaCpu) fset(r uint8, v float64) {
	c.Set(F0+int(r), math.Float64bits(v))
}

// IEEE single <-> the register T-form. NaN payloads are normalized, which
// is within the architecture's latitude for non-canonical encodings.
func loadSBits(mem uint32) uint64 {
	return math.Float64bits(float64(math.Float32frombits(mem)))
}

func storeSBits(reg uint64) uint32 {
	return math.Float32bits(float32(math.Float64frombits(reg)))
}

// VAX floats sit in memory with their 16-bit words swapped.
func vaxSwap32(v uint32) uint32 {
	return v>>16 | v<<16
}

func vaxSwap64(v uint64) uint64 {
	return (v&0xffff)<<48 | (v>>16&0xffff)<<32 | (v>>32&0xffff)<<16 | v>>48
}

// After the word swap a G-float has IEEE double field positions with an
// exponent biased 1024 against a 0.1f fraction, so the value equals the
// IEEE interpretation with the exponent lowered by two. F maps onto IEEE
// single the same way.
func gToHost(reg uint64) float64 {
	exp := reg >> 52 & 0x7ff
	if exp == 0 {
		return 0
	}
	return math.Float64frombits(reg&fpSign | (exp-2)<<52 | reg&(1<<52-1))
}

func hostToG(v float64) uint64 {
	if v == 0 {
		return 0
	}
	bits := math.Float64bits(v)
	exp := bits >> 52 & 0x7ff
	if exp+2 >= 0x7ff {
		return bits&fpSign | 0x7fe<<52 | (1<<52 - 1)
	}
	if exp < 2 {
		return 0
	}
	return bits&fpSign | (exp+2)<<52 | bits&(1<<52-1)
}

func fToHost(reg uint32) float64 {
	exp := reg >> 23 & 0xff
	if exp == 0 {
		return 0
	}
	return float64(math.Float32frombits(reg&(1<<31) | (exp-2)<<23 | reg&(1<<23-1)))
}

func hostToF(v float64) uint32 {
	if v == 0 {
		return 0
	}
	bits := math.Float32bits(float32(v))
	exp := bits >> 23 & 0xff
	if exp+2 >= 0xff {
		return bits&(1<<31) | 0xfe<<23 | (1<<23 - 1)
	}
	if exp < 2 {
		return 0
	}
	return bits&(1<<31) | (exp+2)<<23 | bits&(1<<23-1)
}

func isFZero(bits uint64) bool {
	return bits&^fpSign == 0
}

func (c *AlphaCpu) fpBranchTaken(op uint8, bits uint64) bool {
	zero := isFZero(bits)
	neg := bits&fpSign != 0 && !zero
	switch op {
	case OpFbeq:
		return zero
	case OpFbne:
		return !zero
	case OpFblt:
		return neg
	case OpFble:
		return neg || zero
	case OpFbge:
		return !neg
	case OpFbgt:
		return !neg && !zero
	}
	return false
}

func (c *AlphaCpu) roundMode(fn uint16) int {
	rm := int(fn&FnRoundMask) >> FnRoundShift
	if rm == RoundDynamic {
		return int(c.Get(FPCR)&FPCR_DYN_MASK) >> FPCR_DYN_SHIFT
	}
	return rm
}

func roundToInt(v float64, rm int) float64 {
	switch rm {
	case RoundChopped:
		return math.Trunc(v)
	case RoundMinus:
		return math.Floor(v)
	default:
		return math.RoundToEven(v)
	}
}

var summToFPCR = map[uint64]uint64{
	models.ArithINV: FPCR_INV,
	models.ArithDZE: FPCR_DZE,
	models.ArithOVF: FPCR_OVF,
	models.ArithUNF: FPCR_UNF,
	models.ArithINE: FPCR_INE,
	models.ArithIOV: FPCR_IOV,
}

var summDisable = map[uint64]uint64{
	models.ArithINV: FPCR_INVD,
	models.ArithDZE: FPCR_DZED,
	models.ArithOVF: FPCR_OVFD,
	models.ArithUNF: FPCR_UNFD,
	models.ArithINE: FPCR_INED,
}

// fpPost accumulates sticky status and decides whether the exception traps.
// INV, DZE and OVF trap by default unless the op carries /S and the FPCR
// disable bit is set; UNF and INE trap only when /U or /I ask for them.
func (c *AlphaCpu) fpPost(fn uint16, summ uint64, rc int) error {
	if summ == 0 {
		return nil
	}
	fpcr := c.Get(FPCR)
	var trap uint64
	for _, bit := range []uint64{
		models.ArithINV, models.ArithDZE, models.ArithOVF,
		models.ArithUNF, models.ArithINE, models.ArithIOV,
	} {
		if summ&bit == 0 {
			continue
		}
		fpcr |= summToFPCR[bit]
		switch bit {
		case models.ArithUNF:
			if fn&FnTrapU != 0 {
				trap |= bit
			}
		case models.ArithINE:
			if fn&FnTrapI != 0 {
				trap |= bit
			}
		case models.ArithIOV:
			if fn&FnTrapU != 0 {
				trap |= bit
			}
		default:
			if fn&FnTrapS != 0 && fpcr&summDisable[bit] != 0 {
				break
			}
			trap |= bit
		}
	}
	if fpcr&FPCR_STATUS != 0 {
		fpcr |= FPCR_SUM
	}
	c.Set(FPCR, fpcr)
	if trap == 0 {
		return nil
	}
	if fn&FnTrapS != 0 {
		trap |= models.ArithSWC
	}
	return &models.Fault{
		Kind:    models.FaultArith,
		Summary: trap,
		RegMask: 1 << uint(32+rc),
	}
}

// classify the result of an arithmetic op against its operands
func fpSummary(v float64, operandNaN, divZero bool) uint64 {
	switch {
	case math.IsNaN(v):
		if operandNaN {
			return 0 // NaN propagation is not an invalid op
		}
		return models.ArithINV
	case math.IsInf(v, 0):
		if divZero {
			return models.ArithDZE
		}
		return models.ArithOVF
	}
	return 0
}

// precision rounds a T-form result to S, raising UNF when a nonzero value
// flushes to zero
func roundS(v float64) (float64, uint64) {
	s := float64(float32(v))
	if s == 0 && v != 0 && !math.IsNaN(v) {
		return 0, models.ArithUNF
	}
	if math.IsInf(s, 0) && !math.IsInf(v, 0) {
		return s, models.ArithOVF
	}
	return s, 0
}

func (c *AlphaCpu) execFP(d Decoded) error {
	switch d.Opcode {
	case OpFltL:
		return c.execFltL(d)
	case OpFltI:
		return c.execIEEE(d)
	case OpFltV:
		return c.execVAX(d)
	case OpItfp:
		return c.execItfp(d)
	}
	return &models.Fault{Kind: models.FaultRsvdOpcode}
}

func (c *AlphaCpu) execFltL(d Decoded) error {
	a := c.Get(F0 + int(d.Ra))
	b := c.Get(F0 + int(d.Rb))
	rc := F0 + int(d.Rc)
	switch d.Func & 0x3f {
	case FnCvtlq:
		v := uint32(b>>62&3)<<30 | uint32(b>>29&0x3fffffff)
		c.Set(rc, sext32(uint64(v)))
	case FnCvtql:
		c.Set(rc, (b&0xc0000000)<<32|(b&0x3fffffff)<<29)
	case FnCpys:
		c.Set(rc, a&fpSign|b&^fpSign)
	case FnCpysn:
		c.Set(rc, a&fpSign^fpSign|b&^fpSign)
	case FnCpyse:
		c.Set(rc, a&0xfff0000000000000|b&0x000fffffffffffff)
	case FnMtFpcr:
		c.Set(FPCR, a)
	case FnMfFpcr:
		fpcr := c.Get(FPCR) &^ FPCR_SUM
		if fpcr&FPCR_STATUS != 0 {
			fpcr |= FPCR_SUM
		}
		c.Set(FPCR, fpcr)
		c.Set(rc, fpcr)
	case FnFcmoveq:
		if isFZero(a) {
			c.Set(rc, b)
		}
	case FnFcmovne:
		if !isFZero(a) {
			c.Set(rc, b)
		}
	case FnFcmovlt:
		if a&fpSign != 0 && !isFZero(a) {
			c.Set(rc, b)
		}
	case FnFcmovge:
		if a&fpSign == 0 || isFZero(a) {
			c.Set(rc, b)
		}
	case FnFcmovle:
		if a&fpSign != 0 || isFZero(a) {
			c.Set(rc, b)
		}
	case FnFcmovgt:
		if a&fpSign == 0 && !isFZero(a) {
			c.Set(rc, b)
		}
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

const cmpTrue = 0x4000000000000000 // 2.0

func (c *AlphaCpu) execIEEE(d Decoded) error {
	a, b := c.fget(d.Ra), c.fget(d.Rb)
	rc := int(d.Rc)
	fn := d.Func
	operandNaN := math.IsNaN(a) || math.IsNaN(b)
	single := false
	var v float64
	divZero := false
	switch fn & 0x3f {
	case FnCmptUn:
		return c.fcmp(fn, rc, operandNaN, operandNaN)
	case FnCmptEq:
		return c.fcmp(fn, rc, a == b, operandNaN)
	case FnCmptLt:
		return c.fcmp(fn, rc, a < b, operandNaN)
	case FnCmptLe:
		return c.fcmp(fn, rc, a <= b, operandNaN)
	case FnCvtTQ:
		return c.cvtToQuad(fn, b, rc)
	case FnCvtQS:
		s, _ := roundS(float64(int64(c.Get(F0 + int(d.Rb)))))
		c.fset(d.Rc, s)
		return nil
	case FnCvtQT:
		c.fset(d.Rc, float64(int64(c.Get(F0+int(d.Rb)))))
		return nil
	case FnCvtTS:
		v, single = b, true
	case FnAddS:
		v, single = a+b, true
	case FnSubS:
		v, single = a-b, true
	case FnMulS:
		v, single = a*b, true
	case FnDivS:
		divZero = b == 0 && !math.IsNaN(a) && a != 0
		v, single = a/b, true
	case FnAddT:
		v = a + b
	case FnSubT:
		v = a - b
	case FnMulT:
		v = a * b
	case FnDivT:
		divZero = b == 0 && !math.IsNaN(a) && a != 0
		v = a / b
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	summ := fpSummary(v, operandNaN, divZero)
	if single {
		s, more := roundS(v)
		v, summ = s, summ|more
	}
	c.fset(d.Rc, v)
	return c.fpPost(fn, summ, rc)
}

func (c *AlphaCpu) fcmp(fn uint16, rc int, res, operandNaN bool) error {
	if res {
		c.Set(F0+rc, cmpTrue)
	} else {
		c.Set(F0+rc, 0)
	}
	if operandNaN && fn&0x3f != FnCmptUn {
		return c.fpPost(fn, models.ArithINV, rc)
	}
	return nil
}

func (c *AlphaCpu) cvtToQuad(fn uint16, v float64, rc int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.Set(F0+rc, 0)
		return c.fpPost(fn, models.ArithINV, rc)
	}
	r := roundToInt(v, c.roundMode(fn))
	var summ uint64
	if r != v {
		summ |= models.ArithINE
	}
	if r >= 0x1p63 || r < -0x1p63 {
		summ |= models.ArithIOV
		r = math.Mod(r, 0x1p64)
		if r >= 0x1p63 {
			r -= 0x1p64
		} else if r < -0x1p63 {
			r += 0x1p64
		}
	}
	c.Set(F0+rc, uint64(int64(r)))
	return c.fpPost(fn, summ, rc)
}

func (c *AlphaCpu) execVAX(d Decoded) error {
	a, b := c.fget(d.Ra), c.fget(d.Rb)
	rc := int(d.Rc)
	fn := d.Func
	var v float64
	single := false
	divZero := false
	switch fn & 0x3f {
	case FnCmpgEq:
		return c.fcmp(fn, rc, a == b, false)
	case FnCmpgLt:
		return c.fcmp(fn, rc, a < b, false)
	case FnCmpgLe:
		return c.fcmp(fn, rc, a <= b, false)
	case FnCvtGQ:
		return c.cvtToQuad(fn, b, rc)
	case FnCvtQF:
		s, _ := roundS(float64(int64(c.Get(F0 + int(d.Rb)))))
		c.fset(d.Rc, s)
		return nil
	case FnCvtQG:
		c.fset(d.Rc, float64(int64(c.Get(F0+int(d.Rb)))))
		return nil
	case FnCvtDG, FnCvtGD:
		v = b
	case FnCvtGF:
		v, single = b, true
	case FnAddF:
		v, single = a+b, true
	case FnSubF:
		v, single = a-b, true
	case FnMulF:
		v, single = a*b, true
	case FnDivF:
		divZero = b == 0 && a != 0
		v, single = a/b, true
	case FnAddG:
		v = a + b
	case FnSubG:
		v = a - b
	case FnMulG:
		v = a * b
	case FnDivG:
		divZero = b == 0 && a != 0
		v = a / b
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	summ := fpSummary(v, false, divZero)
	if single {
		s, more := roundS(v)
		v, summ = s, summ|more
	}
	c.fset(d.Rc, v)
	return c.fpPost(fn, summ, rc)
}

func (c *AlphaCpu) execItfp(d Decoded) error {
	if !c.model.Has(ExtFIX) {
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	ra := c.Get(int(d.Ra))
	b := c.fget(d.Rb)
	fn := d.Func
	switch fn & 0x3f {
	case FnItofs:
		c.Set(F0+int(d.Rc), loadSBits(uint32(ra)))
	case FnItoff:
		c.fset(d.Rc, fToHost(uint32(ra)))
	case FnItoft:
		c.Set(F0+int(d.Rc), ra)
	case FnSqrtS:
		v := math.Sqrt(b)
		summ := fpSummary(v, math.IsNaN(b), false)
		s, more := roundS(v)
		c.fset(d.Rc, s)
		return c.fpPost(fn, summ|more, int(d.Rc))
	case FnSqrtT, FnSqrtG:
		v := math.Sqrt(b)
		c.fset(d.Rc, v)
		return c.fpPost(fn, fpSummary(v, math.IsNaN(b), false), int(d.Rc))
	case FnSqrtF:
		v := math.Sqrt(b)
		summ := fpSummary(v, false, false)
		s, more := roundS(v)
		c.fset(d.Rc, s)
		return c.fpPost(fn, summ|more, int(d.Rc))
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

// fp loads and stores, dispatched from execMem with the effective address
func (c *AlphaCpu) execMemFP(d Decoded, ea uint64) error {
	switch d.Opcode {
	case OpLds:
		val, err := c.readVirt(ea, 4)
		if err != nil {
			return err
		}
		c.Set(F0+int(d.Ra), loadSBits(uint32(val)))
	case OpLdt:
		val, err := c.readVirt(ea, 8)
		if err != nil {
			return err
		}
		c.Set(F0+int(d.Ra), val)
	case OpLdf:
		val, err := c.readVirt(ea, 4)
		if err != nil {
			return err
		}
		c.fset(d.Ra, fToHost(vaxSwap32(uint32(val))))
	case OpLdg:
		val, err := c.readVirt(ea, 8)
		if err != nil {
			return err
		}
		c.fset(d.Ra, gToHost(vaxSwap64(val)))
	case OpSts:
		return c.writeVirt(ea, 4, uint64(storeSBits(c.Get(F0+int(d.Ra)))))
	case OpStt:
		return c.writeVirt(ea, 8, c.Get(F0+int(d.Ra)))
	case OpStf:
		return c.writeVirt(ea, 4, uint64(vaxSwap32(hostToF(c.fget(d.Ra)))))
	case OpStg:
		return c.writeVirt(ea, 8, vaxSwap64(hostToG(c.fget(d.Ra))))
	}
	return nil
}
