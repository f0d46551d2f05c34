package alpha

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/lunixbochs/alphacorn/go/models"
)

// instruction formats, selected by the primary opcode
type Format int

const (
	FormatReserved Format = iota
	FormatPal
	FormatMem
	FormatMemFunc
	FormatJump
	FormatBranch
	FormatOperate
	FormatFP
	FormatHW
)

var formatTable = [64]Format{
	OpCallPal: FormatPal,
	0x01:      FormatReserved,
	0x02:      FormatReserved,
	0x03:      FormatReserved,
	0x04:      FormatReserved,
	0x05:      FormatReserved,
	0x06:      FormatReserved,
	0x07:      FormatReserved,
	OpLda:     FormatMem,
	OpLdah:    FormatMem,
	OpLdbu:    FormatMem,
	OpLdqU:    FormatMem,
	OpLdwu:    FormatMem,
	OpStw:     FormatMem,
	OpStb:     FormatMem,
	OpStqU:    FormatMem,
	OpIntA:    FormatOperate,
	OpIntL:    FormatOperate,
	OpIntS:    FormatOperate,
	OpIntM:    FormatOperate,
	OpItfp:    FormatFP,
	OpFltV:    FormatFP,
	OpFltI:    FormatFP,
	OpFltL:    FormatFP,
	OpMisc:    FormatMemFunc,
	OpHwMfpr:  FormatHW,
	OpJsr:     FormatJump,
	OpHwLd:    FormatHW,
	OpIntX:    FormatOperate,
	OpHwMtpr:  FormatHW,
	OpHwRei:   FormatHW,
	OpHwSt:    FormatHW,
	OpLdf:     FormatMem,
	OpLdg:     FormatMem,
	OpLds:     FormatMem,
	OpLdt:     FormatMem,
	OpStf:     FormatMem,
	OpStg:     FormatMem,
	OpSts:     FormatMem,
	OpStt:     FormatMem,
	OpLdl:     FormatMem,
	OpLdq:     FormatMem,
	OpLdlL:    FormatMem,
	OpLdqL:    FormatMem,
	OpStl:     FormatMem,
	OpStq:     FormatMem,
	OpStlC:    FormatMem,
	OpStqC:    FormatMem,
	OpBr:      FormatBranch,
	OpFbeq:    FormatBranch,
	OpFblt:    FormatBranch,
	OpFble:    FormatBranch,
	OpBsr:     FormatBranch,
	OpFbne:    FormatBranch,
	OpFbge:    FormatBranch,
	OpFbgt:    FormatBranch,
	OpBlbc:    FormatBranch,
	OpBeq:     FormatBranch,
	OpBlt:     FormatBranch,
	OpBle:     FormatBranch,
	OpBlbs:    FormatBranch,
	OpBne:     FormatBranch,
	OpBge:     FormatBranch,
	OpBgt:     FormatBranch,
}

// Decoded is the tagged decoded form of one 32-bit instruction word.
// Exactly the fields implied by Format are meaningful.
type Decoded struct {
	Raw    uint32
	Format Format
	Opcode uint8

	Ra, Rb, Rc uint8
	IsLit      bool
	Lit        uint8
	// 7-bit integer or 11-bit fp function code; for FormatJump the 2-bit
	// jump type; for FormatMemFunc the full 16-bit barrier code
	Func uint16
	// sign-extended 16-bit (mem) or 21-bit word (branch) displacement;
	// for FormatJump the 14-bit prediction hint
	Disp    int32
	PalFunc uint32
}

// Decode maps a 32-bit word to its tagged decoded form. It is pure and
// total: every word decodes to a legal variant or FormatReserved.
func Decode(word uint32) Decoded {
	op := uint8(word >> 26)
	d := Decoded{
		Raw:    word,
		Opcode: op,
		Format: formatTable[op],
		Ra:     uint8(word >> 21 & 0x1f),
		Rb:     uint8(word >> 16 & 0x1f),
		Rc:     uint8(word & 0x1f),
	}
	switch d.Format {
	case FormatPal:
		d.PalFunc = word & 0x03ffffff
	case FormatMem, FormatHW:
		d.Disp = int32(int16(word))
	case FormatMemFunc:
		d.Func = uint16(word)
	case FormatJump:
		d.Func = uint16(word >> 14 & 3)
		d.Disp = int32(word & 0x3fff)
	case FormatBranch:
		d.Disp = int32(word<<11) >> 11
	case FormatOperate:
		d.Func = uint16(word >> 5 & 0x7f)
		if word&(1<<12) != 0 {
			d.IsLit = true
			d.Lit = uint8(word >> 13)
		}
	case FormatFP:
		d.Func = uint16(word >> 5 & 0x7ff)
	}
	return d
}

// Encode is the exact inverse of Decode for every legal word.
// Reserved encodings round-trip through Raw.
func (d Decoded) Encode() uint32 {
	w := uint32(d.Opcode) << 26
	switch d.Format {
	case FormatReserved:
		return d.Raw
	case FormatPal:
		return w | d.PalFunc&0x03ffffff
	case FormatMem, FormatHW:
		return w | uint32(d.Ra)<<21 | uint32(d.Rb)<<16 | uint32(uint16(d.Disp))
	case FormatMemFunc:
		return w | uint32(d.Ra)<<21 | uint32(d.Rb)<<16 | uint32(d.Func)
	case FormatJump:
		return w | uint32(d.Ra)<<21 | uint32(d.Rb)<<16 | uint32(d.Func&3)<<14 | uint32(d.Disp&0x3fff)
	case FormatBranch:
		return w | uint32(d.Ra)<<21 | uint32(d.Disp)&0x1fffff
	case FormatOperate:
		w |= uint32(d.Ra)<<21 | uint32(d.Func&0x7f)<<5 | uint32(d.Rc)
		if d.IsLit {
			return w | uint32(d.Lit)<<13 | 1<<12
		}
		return w | uint32(d.Rb)<<16
	case FormatFP:
		return w | uint32(d.Ra)<<21 | uint32(d.Rb)<<16 | uint32(d.Func&0x7ff)<<5 | uint32(d.Rc)
	}
	return d.Raw
}

// BranchTarget computes PC+4 + 4*disp for FormatBranch.
func (d Decoded) BranchTarget(pc uint64) uint64 {
	return pc + 4 + uint64(int64(d.Disp))*4
}

var memMnemonics = map[uint8]string{
	OpLda: "lda", OpLdah: "ldah", OpLdbu: "ldbu", OpLdqU: "ldq_u",
	OpLdwu: "ldwu", OpStw: "stw", OpStb: "stb", OpStqU: "stq_u",
	OpLdf: "ldf", OpLdg: "ldg", OpLds: "lds", OpLdt: "ldt",
	OpStf: "stf", OpStg: "stg", OpSts: "sts", OpStt: "stt",
	OpLdl: "ldl", OpLdq: "ldq", OpLdlL: "ldl_l", OpLdqL: "ldq_l",
	OpStl: "stl", OpStq: "stq", OpStlC: "stl_c", OpStqC: "stq_c",
}

var branchMnemonics = map[uint8]string{
	OpBr: "br", OpBsr: "bsr",
	OpFbeq: "fbeq", OpFblt: "fblt", OpFble: "fble",
	OpFbne: "fbne", OpFbge: "fbge", OpFbgt: "fbgt",
	OpBlbc: "blbc", OpBeq: "beq", OpBlt: "blt", OpBle: "ble",
	OpBlbs: "blbs", OpBne: "bne", OpBge: "bge", OpBgt: "bgt",
}

var operateMnemonics = map[uint16]string{
	OpIntA<<8 | FnAddl: "addl", OpIntA<<8 | FnS4Addl: "s4addl",
	OpIntA<<8 | FnSubl: "subl", OpIntA<<8 | FnS4Subl: "s4subl",
	OpIntA<<8 | FnCmpbge: "cmpbge", OpIntA<<8 | FnS8Addl: "s8addl",
	OpIntA<<8 | FnS8Subl: "s8subl", OpIntA<<8 | FnCmpult: "cmpult",
	OpIntA<<8 | FnAddq: "addq", OpIntA<<8 | FnS4Addq: "s4addq",
	OpIntA<<8 | FnSubq: "subq", OpIntA<<8 | FnS4Subq: "s4subq",
	OpIntA<<8 | FnCmpeq: "cmpeq", OpIntA<<8 | FnS8Addq: "s8addq",
	OpIntA<<8 | FnS8Subq: "s8subq", OpIntA<<8 | FnCmpule: "cmpule",
	OpIntA<<8 | FnAddlV: "addl/v", OpIntA<<8 | FnSublV: "subl/v",
	OpIntA<<8 | FnCmplt: "cmplt", OpIntA<<8 | FnAddqV: "addq/v",
	OpIntA<<8 | FnSubqV: "subq/v", OpIntA<<8 | FnCmple: "cmple",

	OpIntL<<8 | FnAnd: "and", OpIntL<<8 | FnBic: "bic",
	OpIntL<<8 | FnCmovlbs: "cmovlbs", OpIntL<<8 | FnCmovlbc: "cmovlbc",
	OpIntL<<8 | FnBis: "bis", OpIntL<<8 | FnCmoveq: "cmoveq",
	OpIntL<<8 | FnCmovne: "cmovne", OpIntL<<8 | FnOrnot: "ornot",
	OpIntL<<8 | FnXor: "xor", OpIntL<<8 | FnCmovlt: "cmovlt",
	OpIntL<<8 | FnCmovge: "cmovge", OpIntL<<8 | FnEqv: "eqv",
	OpIntL<<8 | FnAmask: "amask", OpIntL<<8 | FnCmovle: "cmovle",
	OpIntL<<8 | FnCmovgt: "cmovgt", OpIntL<<8 | FnImplver: "implver",

	OpIntS<<8 | FnMskbl: "mskbl", OpIntS<<8 | FnExtbl: "extbl",
	OpIntS<<8 | FnInsbl: "insbl", OpIntS<<8 | FnMskwl: "mskwl",
	OpIntS<<8 | FnExtwl: "extwl", OpIntS<<8 | FnInswl: "inswl",
	OpIntS<<8 | FnMskll: "mskll", OpIntS<<8 | FnExtll: "extll",
	OpIntS<<8 | FnInsll: "insll", OpIntS<<8 | FnZap: "zap",
	OpIntS<<8 | FnZapnot: "zapnot", OpIntS<<8 | FnMskql: "mskql",
	OpIntS<<8 | FnSrl: "srl", OpIntS<<8 | FnExtql: "extql",
	OpIntS<<8 | FnSll: "sll", OpIntS<<8 | FnInsql: "insql",
	OpIntS<<8 | FnSra: "sra", OpIntS<<8 | FnMskwh: "mskwh",
	OpIntS<<8 | FnInswh: "inswh", OpIntS<<8 | FnExtwh: "extwh",
	OpIntS<<8 | FnMsklh: "msklh", OpIntS<<8 | FnInslh: "inslh",
	OpIntS<<8 | FnExtlh: "extlh", OpIntS<<8 | FnMskqh: "mskqh",
	OpIntS<<8 | FnInsqh: "insqh", OpIntS<<8 | FnExtqh: "extqh",

	OpIntM<<8 | FnMull: "mull", OpIntM<<8 | FnMulq: "mulq",
	OpIntM<<8 | FnUmulh: "umulh", OpIntM<<8 | FnMullV: "mull/v",
	OpIntM<<8 | FnMulqV: "mulq/v",

	OpIntX<<8 | FnSextb: "sextb", OpIntX<<8 | FnSextw: "sextw",
	OpIntX<<8 | FnCtpop: "ctpop", OpIntX<<8 | FnPerr: "perr",
	OpIntX<<8 | FnCtlz: "ctlz", OpIntX<<8 | FnCttz: "cttz",
	OpIntX<<8 | FnUnpkbw: "unpkbw", OpIntX<<8 | FnUnpkbl: "unpkbl",
	OpIntX<<8 | FnPkwb: "pkwb", OpIntX<<8 | FnPklb: "pklb",
	OpIntX<<8 | FnMinsb8: "minsb8", OpIntX<<8 | FnMinsw4: "minsw4",
	OpIntX<<8 | FnMinub8: "minub8", OpIntX<<8 | FnMinuw4: "minuw4",
	OpIntX<<8 | FnMaxub8: "maxub8", OpIntX<<8 | FnMaxuw4: "maxuw4",
	OpIntX<<8 | FnMaxsb8: "maxsb8", OpIntX<<8 | FnMaxsw4: "maxsw4",
	OpIntX<<8 | FnFtoit: "ftoit", OpIntX<<8 | FnFtois: "ftois",
}

// fp mnemonics keyed on opcode and the low 6 bits of the function code
var fpMnemonics = map[uint16]string{
	OpFltV<<8 | FnAddF: "addf", OpFltV<<8 | FnSubF: "subf",
	OpFltV<<8 | FnMulF: "mulf", OpFltV<<8 | FnDivF: "divf",
	OpFltV<<8 | FnAddG: "addg", OpFltV<<8 | FnSubG: "subg",
	OpFltV<<8 | FnMulG: "mulg", OpFltV<<8 | FnDivG: "divg",
	OpFltV<<8 | FnCmpgEq: "cmpgeq", OpFltV<<8 | FnCmpgLt: "cmpglt",
	OpFltV<<8 | FnCmpgLe: "cmpgle", OpFltV<<8 | FnCvtDG: "cvtdg",
	OpFltV<<8 | FnCvtGF: "cvtgf", OpFltV<<8 | FnCvtGD: "cvtgd",
	OpFltV<<8 | FnCvtGQ: "cvtgq", OpFltV<<8 | FnCvtQF: "cvtqf",
	OpFltV<<8 | FnCvtQG: "cvtqg",

	OpFltI<<8 | FnAddS: "adds", OpFltI<<8 | FnSubS: "subs",
	OpFltI<<8 | FnMulS: "muls", OpFltI<<8 | FnDivS: "divs",
	OpFltI<<8 | FnAddT: "addt", OpFltI<<8 | FnSubT: "subt",
	OpFltI<<8 | FnMulT: "mult", OpFltI<<8 | FnDivT: "divt",
	OpFltI<<8 | FnCmptUn: "cmptun", OpFltI<<8 | FnCmptEq: "cmpteq",
	OpFltI<<8 | FnCmptLt: "cmptlt", OpFltI<<8 | FnCmptLe: "cmptle",
	OpFltI<<8 | FnCvtTS: "cvtts", OpFltI<<8 | FnCvtTQ: "cvttq",
	OpFltI<<8 | FnCvtQS: "cvtqs", OpFltI<<8 | FnCvtQT: "cvtqt",

	OpItfp<<8 | FnItofs: "itofs", OpItfp<<8 | FnItoff: "itoff",
	OpItfp<<8 | FnItoft: "itoft", OpItfp<<8 | FnSqrtF: "sqrtf",
	OpItfp<<8 | FnSqrtS: "sqrts", OpItfp<<8 | FnSqrtG: "sqrtg",
	OpItfp<<8 | FnSqrtT: "sqrtt",
}

var fltlMnemonics = map[uint16]string{
	FnCvtlq: "cvtlq", FnCpys: "cpys", FnCpysn: "cpysn", FnCpyse: "cpyse",
	FnMtFpcr: "mt_fpcr", FnMfFpcr: "mf_fpcr",
	FnFcmoveq: "fcmoveq", FnFcmovne: "fcmovne", FnFcmovlt: "fcmovlt",
	FnFcmovge: "fcmovge", FnFcmovle: "fcmovle", FnFcmovgt: "fcmovgt",
	FnCvtql: "cvtql",
}

var miscMnemonics = map[uint16]string{
	FnTrapb: "trapb", FnExcb: "excb", FnMb: "mb", FnWmb: "wmb",
	FnFetch: "fetch", FnFetchM: "fetch_m", FnRpcc: "rpcc",
	FnRc: "rc", FnRs: "rs", FnEcb: "ecb", FnWh64: "wh64",
}

var jumpMnemonics = [4]string{"jmp", "jsr", "ret", "jsr_coroutine"}

var palMnemonics = map[uint32]string{
	PalHalt: "halt", PalCflush: "cflush", PalDraina: "draina",
	PalWripir: "wripir", PalWrfen: "wrfen", PalWrvptptr: "wrvptptr",
	PalSwpctx: "swpctx", PalWrval: "wrval", PalRdval: "rdval",
	PalTbi: "tbi", PalWrent: "wrent", PalSwpipl: "swpipl",
	PalRdps: "rdps", PalWrkgp: "wrkgp", PalWrusp: "wrusp",
	PalRdusp: "rdusp", PalWhami: "whami", PalRetsys: "retsys",
	PalRti: "rti", PalBpt: "bpt", PalBugchk: "bugchk",
	PalCallsys: "callsys", PalImb: "imb", PalUrti: "urti",
	PalRdunique: "rdunique", PalWrunique: "wrunique",
	PalGentrap: "gentrap", PalClrfen: "clrfen",
}

func fpQualifier(fn uint16) string {
	var q string
	if fn&FnTrapS != 0 {
		q += "s"
	}
	if fn&FnTrapU != 0 {
		q += "u"
	}
	if fn&FnTrapI != 0 {
		q += "i"
	}
	switch int(fn&FnRoundMask) >> FnRoundShift {
	case RoundChopped:
		q += "c"
	case RoundMinus:
		q += "m"
	case RoundDynamic:
		q += "d"
	}
	if q != "" {
		return "/" + q
	}
	return ""
}

// Mnemonic names the decoded instruction, qualifiers included.
func (d Decoded) Mnemonic() string {
	switch d.Format {
	case FormatPal:
		if name, ok := palMnemonics[d.PalFunc]; ok {
			return "call_pal " + name
		}
		return "call_pal"
	case FormatMem:
		return memMnemonics[d.Opcode]
	case FormatMemFunc:
		if name, ok := miscMnemonics[d.Func]; ok {
			return name
		}
		return "misc"
	case FormatJump:
		return jumpMnemonics[d.Func&3]
	case FormatBranch:
		return branchMnemonics[d.Opcode]
	case FormatOperate:
		if name, ok := operateMnemonics[uint16(d.Opcode)<<8|d.Func]; ok {
			return name
		}
	case FormatFP:
		if d.Opcode == OpFltL {
			if name, ok := fltlMnemonics[d.Func]; ok {
				return name
			}
		} else if name, ok := fpMnemonics[uint16(d.Opcode)<<8|d.Func&0x3f]; ok {
			return name + fpQualifier(d.Func)
		}
	case FormatHW:
		switch d.Opcode {
		case OpHwMfpr:
			return "hw_mfpr"
		case OpHwMtpr:
			return "hw_mtpr"
		case OpHwLd:
			return "hw_ld"
		case OpHwSt:
			return "hw_st"
		case OpHwRei:
			return "hw_rei"
		}
	}
	return ".unknown"
}

func ireg(n uint8) string {
	switch n {
	case 30:
		return "sp"
	case 31:
		return "zero"
	}
	return fmt.Sprintf("r%d", n)
}

func freg(n uint8) string {
	return fmt.Sprintf("f%d", n)
}

// ins adapts Decoded to the models.Ins contract for the monitor and traces.
type ins struct {
	Decoded
	addr  uint64
	bytes [4]byte
}

func (i *ins) Addr() uint64 {
	return i.addr
}

func (i *ins) Bytes() []byte {
	return i.bytes[:]
}

func (i *ins) String() string {
	return strings.TrimSpace(i.Mnemonic() + " " + i.OpStr())
}

func (i *ins) OpStr() string {
	d := i.Decoded
	fp := d.Format == FormatFP
	ra, rb := ireg(d.Ra), ireg(d.Rb)
	if fp || d.Opcode >= OpLdf && d.Opcode <= OpStt {
		ra = freg(d.Ra)
	}
	if fp {
		rb = freg(d.Rb)
	}
	switch d.Format {
	case FormatPal:
		if _, ok := palMnemonics[d.PalFunc]; !ok {
			return fmt.Sprintf("%#x", d.PalFunc)
		}
		return ""
	case FormatMem, FormatHW:
		return fmt.Sprintf("%s, %d(%s)", ra, d.Disp, ireg(d.Rb))
	case FormatMemFunc:
		if d.Func == FnRpcc || d.Func == FnRc || d.Func == FnRs {
			return ra
		}
		return ""
	case FormatJump:
		return fmt.Sprintf("%s, (%s)", ra, ireg(d.Rb))
	case FormatBranch:
		return fmt.Sprintf("%s, %#x", ra, d.BranchTarget(i.addr))
	case FormatOperate:
		if d.IsLit {
			return fmt.Sprintf("%s, #%d, %s", ra, d.Lit, ireg(d.Rc))
		}
		return fmt.Sprintf("%s, %s, %s", ra, rb, ireg(d.Rc))
	case FormatFP:
		return fmt.Sprintf("%s, %s, %s", ra, rb, freg(d.Rc))
	}
	return ""
}

func (i *ins) Mnemonic() string {
	return i.Decoded.Mnemonic()
}

type Dis struct{}

// Dis decodes a run of aligned 32-bit words.
func (d *Dis) Dis(mem []byte, addr uint64) ([]models.Ins, error) {
	var ret []models.Ins
	for len(mem) >= 4 {
		word := binary.LittleEndian.Uint32(mem)
		i := &ins{Decoded: Decode(word), addr: addr}
		binary.LittleEndian.PutUint32(i.bytes[:], word)
		ret = append(ret, i)
		mem = mem[4:]
		addr += 4
	}
	return ret, nil
}
