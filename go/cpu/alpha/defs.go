package alpha

import (
	"strings"

	"github.com/lunixbochs/alphacorn/go/models"
)

// Register enums. R0-R31 and F0-F31 are the architectural files; R31 and F31
// read as zero. The rest are the PC, the processor status, the FPCR and the
// internal processor registers PALcode sees through HW_MFPR/HW_MTPR.
const (
	R0 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	R16
	R17
	R18
	R19
	R20
	R21
	R22
	R23
	R24
	R25
	R26
	R27
	R28
	R29
	R30
	R31

	F0
	F1
	F2
	F3
	F4
	F5
	F6
	F7
	F8
	F9
	F10
	F11
	F12
	F13
	F14
	F15
	F16
	F17
	F18
	F19
	F20
	F21
	F22
	F23
	F24
	F25
	F26
	F27
	F28
	F29
	F30
	F31

	PC
	PS
	FPCR
	UNIQUE
	PAL_BASE
	PTBR
	PCBB
	ITB_ASN
	DTB_ASN
	EXC_ADDR
	EXC_PS
	EXC_SUMM
	EXC_MASK
	MM_STAT
	VA
	SISR

	NREGS
)

// integer stack pointer by software convention
const SP = R30

// processor modes, held in PS<2:0>. PAL is a mode of its own so exactly one
// (mode, IPL) pair is observable between instructions.
const (
	ModeKernel = 0
	ModeExec   = 1
	ModeSuper  = 2
	ModeUser   = 3
	ModePal    = 4
)

// PS layout
const (
	PS_MODE_MASK = 0x7
	PS_FEN       = 1 << 5
	PS_IPL_SHIFT = 8
	PS_IPL_MASK  = 0x1f << PS_IPL_SHIFT
	PS_AST_SHIFT = 16
	PS_AST_MASK  = 0xf << PS_AST_SHIFT
)

func psMode(ps uint64) int { return int(ps & PS_MODE_MASK) }
func psIPL(ps uint64) int  { return int(ps&PS_IPL_MASK) >> PS_IPL_SHIFT }

// FPCR layout per the Architecture Handbook.
const (
	FPCR_DNZ       = uint64(1) << 48
	FPCR_INVD      = uint64(1) << 49
	FPCR_DZED      = uint64(1) << 50
	FPCR_OVFD      = uint64(1) << 51
	FPCR_INV       = uint64(1) << 52
	FPCR_DZE       = uint64(1) << 53
	FPCR_OVF       = uint64(1) << 54
	FPCR_UNF       = uint64(1) << 55
	FPCR_INE       = uint64(1) << 56
	FPCR_IOV       = uint64(1) << 57
	FPCR_DYN_SHIFT = 58
	FPCR_DYN_MASK  = uint64(3) << FPCR_DYN_SHIFT
	FPCR_UNDZ      = uint64(1) << 60
	FPCR_UNFD      = uint64(1) << 61
	FPCR_INED      = uint64(1) << 62
	FPCR_SUM       = uint64(1) << 63

	FPCR_STATUS = FPCR_INV | FPCR_DZE | FPCR_OVF | FPCR_UNF | FPCR_INE | FPCR_IOV
)

// rounding modes as encoded in FPCR<59:58> and instruction func<7:6>
const (
	RoundChopped = 0
	RoundMinus   = 1
	RoundNormal  = 2
	RoundDynamic = 3
)

// fp function-code qualifier bits (func<10:6>)
const (
	FnRoundShift = 6
	FnRoundMask  = 3 << FnRoundShift
	FnTrapU      = 1 << 8 // /U underflow or /V integer overflow
	FnTrapI      = 1 << 9 // /I inexact
	FnTrapS      = 1 << 10 // /S software completion
)

// primary opcodes
const (
	OpCallPal = 0x00
	OpLda     = 0x08
	OpLdah    = 0x09
	OpLdbu    = 0x0a
	OpLdqU    = 0x0b
	OpLdwu    = 0x0c
	OpStw     = 0x0d
	OpStb     = 0x0e
	OpStqU    = 0x0f
	OpIntA    = 0x10
	OpIntL    = 0x11
	OpIntS    = 0x12
	OpIntM    = 0x13
	OpItfp    = 0x14
	OpFltV    = 0x15
	OpFltI    = 0x16
	OpFltL    = 0x17
	OpMisc    = 0x18
	OpHwMfpr  = 0x19
	OpJsr     = 0x1a
	OpHwLd    = 0x1b
	OpIntX    = 0x1c
	OpHwMtpr  = 0x1d
	OpHwRei   = 0x1e
	OpHwSt    = 0x1f
	OpLdf     = 0x20
	OpLdg     = 0x21
	OpLds     = 0x22
	OpLdt     = 0x23
	OpStf     = 0x24
	OpStg     = 0x25
	OpSts     = 0x26
	OpStt     = 0x27
	OpLdl     = 0x28
	OpLdq     = 0x29
	OpLdlL    = 0x2a
	OpLdqL    = 0x2b
	OpStl     = 0x2c
	OpStq     = 0x2d
	OpStlC    = 0x2e
	OpStqC    = 0x2f
	OpBr      = 0x30
	OpFbeq    = 0x31
	OpFblt    = 0x32
	OpFble    = 0x33
	OpBsr     = 0x34
	OpFbne    = 0x35
	OpFbge    = 0x36
	OpFbgt    = 0x37
	OpBlbc    = 0x38
	OpBeq     = 0x39
	OpBlt     = 0x3a
	OpBle     = 0x3b
	OpBlbs    = 0x3c
	OpBne     = 0x3d
	OpBge     = 0x3e
	OpBgt     = 0x3f
)

// opcode 0x10 function codes
const (
	FnAddl   = 0x00
	FnS4Addl = 0x02
	FnSubl   = 0x09
	FnS4Subl = 0x0b
	FnCmpbge = 0x0f
	FnS8Addl = 0x12
	FnS8Subl = 0x1b
	FnCmpult = 0x1d
	FnAddq   = 0x20
	FnS4Addq = 0x22
	FnSubq   = 0x29
	FnS4Subq = 0x2b
	FnCmpeq  = 0x2d
	FnS8Addq = 0x32
	FnS8Subq = 0x3b
	FnCmpule = 0x3d
	FnAddlV  = 0x40
	FnSublV  = 0x49
	FnCmplt  = 0x4d
	FnAddqV  = 0x60
	FnSubqV  = 0x69
	FnCmple  = 0x6d
)

// opcode 0x11 function codes
const (
	FnAnd     = 0x00
	FnBic     = 0x08
	FnCmovlbs = 0x14
	FnCmovlbc = 0x16
	FnBis     = 0x20
	FnCmoveq  = 0x24
	FnCmovne  = 0x26
	FnOrnot   = 0x28
	FnXor     = 0x40
	FnCmovlt  = 0x44
	FnCmovge  = 0x46
	FnEqv     = 0x48
	FnAmask   = 0x61
	FnCmovle  = 0x64
	FnCmovgt  = 0x66
	FnImplver = 0x6c
)

// opcode 0x12 function codes
const (
	FnMskbl = 0x02
	FnExtbl = 0x06
	FnInsbl = 0x0b
	FnMskwl = 0x12
	FnExtwl = 0x16
	FnInswl = 0x1b
	FnMskll = 0x22
	FnExtll = 0x26
	FnInsll = 0x2b
	FnZap   = 0x30
	FnZapnot = 0x31
	FnMskql = 0x32
	FnSrl   = 0x34
	FnExtql = 0x36
	FnSll   = 0x39
	FnInsql = 0x3b
	FnSra   = 0x3c
	FnMskwh = 0x52
	FnInswh = 0x57
	FnExtwh = 0x5a
	FnMsklh = 0x62
	FnInslh = 0x67
	FnExtlh = 0x6a
	FnMskqh = 0x72
	FnInsqh = 0x77
	FnExtqh = 0x7a
)

// opcode 0x13 function codes
const (
	FnMull  = 0x00
	FnMulq  = 0x20
	FnUmulh = 0x30
	FnMullV = 0x40
	FnMulqV = 0x60
)

// opcode 0x1c function codes (BWX/CIX/MVI/FIX extensions)
const (
	FnSextb  = 0x00
	FnSextw  = 0x01
	FnCtpop  = 0x30
	FnPerr   = 0x31
	FnCtlz   = 0x32
	FnCttz   = 0x33
	FnUnpkbw = 0x34
	FnUnpkbl = 0x35
	FnPkwb   = 0x36
	FnPklb   = 0x37
	FnMinsb8 = 0x38
	FnMinsw4 = 0x39
	FnMinub8 = 0x3a
	FnMinuw4 = 0x3b
	FnMaxub8 = 0x3c
	FnMaxuw4 = 0x3d
	FnMaxsb8 = 0x3e
	FnMaxsw4 = 0x3f
	FnFtoit  = 0x70
	FnFtois  = 0x78
)

// fp operation codes, low 6 bits of the 11-bit function field.
// The high 5 bits qualify rounding (func<7:6>) and trap enables (func<10:8>).
const (
	FnAddF = 0x00
	FnSubF = 0x01
	FnMulF = 0x02
	FnDivF = 0x03
	FnAddG = 0x20
	FnSubG = 0x21
	FnMulG = 0x22
	FnDivG = 0x23
	FnCmpgEq = 0x25
	FnCmpgLt = 0x26
	FnCmpgLe = 0x27
	FnCvtDG  = 0x1e
	FnCvtGF  = 0x2c
	FnCvtGD  = 0x2d
	FnCvtGQ  = 0x2f
	FnCvtQF  = 0x3c
	FnCvtQG  = 0x3e

	FnAddS = 0x00
	FnSubS = 0x01
	FnMulS = 0x02
	FnDivS = 0x03
	FnAddT = 0x20
	FnSubT = 0x21
	FnMulT = 0x22
	FnDivT = 0x23
	FnCmptUn = 0x24
	FnCmptEq = 0x25
	FnCmptLt = 0x26
	FnCmptLe = 0x27
	FnCvtTS  = 0x2c
	FnCvtTQ  = 0x2f
	FnCvtQS  = 0x3c
	FnCvtQT  = 0x3e
)

// opcode 0x14 (ITFP) low 6 bits
const (
	FnItofs = 0x04
	FnItoff = 0x14
	FnItoft = 0x24
	FnSqrtF = 0x0a
	FnSqrtS = 0x0b
	FnSqrtG = 0x2a
	FnSqrtT = 0x2b
)

// opcode 0x17 function codes (11-bit, no qualifiers)
const (
	FnCvtlq   = 0x010
	FnCpys    = 0x020
	FnCpysn   = 0x021
	FnCpyse   = 0x022
	FnMtFpcr  = 0x024
	FnMfFpcr  = 0x025
	FnFcmoveq = 0x02a
	FnFcmovne = 0x02b
	FnFcmovlt = 0x02c
	FnFcmovge = 0x02d
	FnFcmovle = 0x02e
	FnFcmovgt = 0x02f
	FnCvtql   = 0x030
)

// opcode 0x18 function codes, carried in the displacement field
const (
	FnTrapb  = 0x0000
	FnExcb   = 0x0400
	FnMb     = 0x4000
	FnWmb    = 0x4400
	FnFetch  = 0x8000
	FnFetchM = 0xa000
	FnRpcc   = 0xc000
	FnRc     = 0xe000
	FnEcb    = 0xe800
	FnRs     = 0xf000
	FnWh64   = 0xf800
)

// opcode 0x1a branch-format function, disp<15:14>
const (
	FnJmp    = 0
	FnJsr    = 1
	FnRet    = 2
	FnJsrCor = 3
)

// PAL function codes, OSF/1 numbering. Codes below 0x40 are privileged.
const (
	PalHalt     = 0x00
	PalCflush   = 0x01
	PalDraina   = 0x02
	PalWripir   = 0x0d
	PalWrfen    = 0x2b
	PalWrvptptr = 0x2d
	PalSwpctx   = 0x30
	PalWrval    = 0x31
	PalRdval    = 0x32
	PalTbi      = 0x33
	PalWrent    = 0x34
	PalSwpipl   = 0x35
	PalRdps     = 0x36
	PalWrkgp    = 0x37
	PalWrusp    = 0x38
	PalRdusp    = 0x3a
	PalWhami    = 0x3c
	PalRetsys   = 0x3d
	PalRti      = 0x3f

	PalBpt      = 0x80
	PalBugchk   = 0x81
	PalCallsys  = 0x83
	PalImb      = 0x86
	PalUrti     = 0x92
	PalRdunique = 0x9e
	PalWrunique = 0x9f
	PalGentrap  = 0xaa
	PalClrfen   = 0xae

	PalPrivMax = 0x40
)

// TBI selector values passed in R16
const (
	TbiA  = -2 // flush everything
	TbiAP = -1 // flush non-global
	TbiSI = 1  // single itb entry
	TbiSD = 2  // single dtb entry
	TbiS  = 3  // single entry, both tlbs
	TbiAR = 4  // flush current ASN
)

// MM_STAT cause bits
const (
	MMWr    = models.MMWr
	MMAcv   = models.MMAcv
	MMFor   = models.MMFor
	MMFow   = models.MMFow
	MMTnv   = models.MMTnv
	MMBadVa = models.MMBadVa
)

// CpuModel gates which extensions decode as legal instructions.
type CpuModel int

const (
	EV4 CpuModel = iota
	EV5
	EV56
	PCA56
	EV6
	EV67
	EV68
	EV7
	EV78
)

// extension sets, AMASK bit numbering
const (
	ExtBWX = 1 << 0
	ExtFIX = 1 << 1
	ExtCIX = 1 << 2
	ExtMVI = 1 << 8
)

var modelNames = map[string]CpuModel{
	"EV4": EV4, "EV5": EV5, "EV56": EV56, "PCA56": PCA56,
	"EV6": EV6, "EV67": EV67, "EV68": EV68, "EV7": EV7, "EV78": EV78,
}

var modelExts = map[CpuModel]uint64{
	EV4:   0,
	EV5:   0,
	EV56:  ExtBWX,
	PCA56: ExtBWX | ExtMVI,
	EV6:   ExtBWX | ExtFIX | ExtMVI,
	EV67:  ExtBWX | ExtFIX | ExtCIX | ExtMVI,
	EV68:  ExtBWX | ExtFIX | ExtCIX | ExtMVI,
	EV7:   ExtBWX | ExtFIX | ExtCIX | ExtMVI,
	EV78:  ExtBWX | ExtFIX | ExtCIX | ExtMVI,
}

// IMPLVER values
var modelImplver = map[CpuModel]uint64{
	EV4: 0, EV5: 1, EV56: 1, PCA56: 1,
	EV6: 2, EV67: 2, EV68: 2, EV7: 3, EV78: 3,
}

func ParseModel(name string) (CpuModel, bool) {
	m, ok := modelNames[strings.ToUpper(name)]
	return m, ok
}

func (m CpuModel) String() string {
	for name, v := range modelNames {
		if v == m {
			return name
		}
	}
	return "EV?"
}

func (m CpuModel) Exts() uint64 {
	return modelExts[m]
}

func (m CpuModel) Has(ext uint64) bool {
	return modelExts[m]&ext == ext
}

func (m CpuModel) Implver() uint64 {
	return modelImplver[m]
}

// PAL entry offsets for architected exceptions, added to PAL_BASE. The
// numbering changed between generations so the table is model-selected.
type palOffsets struct {
	Reset     uint64
	Mchk      uint64
	Arith     uint64
	Interrupt uint64
	DFault    uint64
	ITBMiss   uint64
	DTBMiss   uint64
	Unalign   uint64
	OpcDec    uint64
	FEN       uint64
	IAcv      uint64
}

var palOffsetsEV4 = &palOffsets{
	Reset:     0x0000,
	Mchk:      0x0020,
	Arith:     0x0060,
	Interrupt: 0x00e0,
	DFault:    0x01e0,
	ITBMiss:   0x3000,
	DTBMiss:   0x08e0,
	Unalign:   0x11e0,
	OpcDec:    0x13e0,
	FEN:       0x17e0,
	IAcv:      0x07e0,
}

var palOffsetsEV6 = &palOffsets{
	Reset:     0x0780,
	Mchk:      0x0400,
	Arith:     0x0500,
	Interrupt: 0x0680,
	DFault:    0x0380,
	ITBMiss:   0x0180,
	DTBMiss:   0x0200,
	Unalign:   0x0280,
	OpcDec:    0x0580,
	FEN:       0x0600,
	IAcv:      0x0480,
}

func (m CpuModel) palTable() *palOffsets {
	if m >= EV6 {
		return palOffsetsEV6
	}
	return palOffsetsEV4
}
