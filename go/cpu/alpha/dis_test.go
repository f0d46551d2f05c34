package alpha

import (
	"encoding/binary"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	words := []uint32{
		opLit(OpIntA, 30, 3, FnAddq, 11),
		opReg(OpIntA, 1, 2, FnSubl, 3),
		opReg(OpIntL, 4, 5, FnXor, 6),
		opLit(OpIntS, 1, 255, FnSll, 2),
		memOp(OpLdq, 1, 10, -8),
		memOp(OpStb, 7, 30, 0x7fff),
		memOp(OpLdah, 29, 31, -0x8000),
		fpOp(OpFltI, 1, 2, FnAddT|RoundNormal<<FnRoundShift, 3),
		fpOp(OpFltL, 1, 2, FnCpys, 3),
		Decoded{Format: FormatBranch, Opcode: OpBr, Ra: 26, Disp: -1}.Encode(),
		Decoded{Format: FormatBranch, Opcode: OpBeq, Ra: 31, Disp: 12}.Encode(),
		Decoded{Format: FormatJump, Opcode: OpJsr, Ra: 26, Rb: 27, Func: FnJsr}.Encode(),
		Decoded{Format: FormatPal, Opcode: OpCallPal, PalFunc: PalCallsys}.Encode(),
		Decoded{Format: FormatMemFunc, Opcode: OpMisc, Func: FnMb}.Encode(),
		Decoded{Format: FormatMemFunc, Opcode: OpMisc, Ra: 3, Func: FnRpcc}.Encode(),
	}
	for _, w := range words {
		d := Decode(w)
		if got := d.Encode(); got != w {
			t.Errorf("%#08x round-trips to %#08x (%s)", w, got, d.Mnemonic())
		}
	}
}

func TestDecodeFields(t *testing.T) {
	d := Decode(opLit(OpIntA, 30, 3, FnAddq, 11))
	if d.Format != FormatOperate || d.Opcode != OpIntA {
		t.Fatalf("format %d opcode %#x", d.Format, d.Opcode)
	}
	if d.Ra != 30 || !d.IsLit || d.Lit != 3 || d.Func != FnAddq || d.Rc != 11 {
		t.Fatalf("fields: %+v", d)
	}

	d = Decode(memOp(OpLdq, 1, 10, -8))
	if d.Disp != -8 {
		t.Fatalf("disp = %d", d.Disp)
	}

	d = Decode(Decoded{Format: FormatBranch, Opcode: OpBr, Ra: 26, Disp: -0x100000}.Encode())
	if d.Disp != -0x100000 {
		t.Fatalf("branch disp = %#x", d.Disp)
	}
}

func TestReservedRoundTrip(t *testing.T) {
	for _, w := range []uint32{0x04000000, 0x1fffffff, 0x07123456} {
		d := Decode(w)
		if d.Format != FormatReserved {
			t.Fatalf("%#08x decoded as format %d", w, d.Format)
		}
		if d.Encode() != w {
			t.Fatalf("%#08x did not round-trip through Raw", w)
		}
	}
}

// cvtts and cvttq share an opcode and differ only in the low function bits
func TestFPQualifierDisambiguation(t *testing.T) {
	for _, tc := range []struct {
		fn   int
		want string
	}{
		{FnCvtTS | RoundNormal<<FnRoundShift, "cvtts"},
		{FnCvtTQ | RoundNormal<<FnRoundShift, "cvttq"},
		{FnCvtTQ | RoundChopped<<FnRoundShift, "cvttq/c"},
		{FnAddT | RoundNormal<<FnRoundShift | FnTrapS | FnTrapU | FnTrapI, "addt/sui"},
	} {
		d := Decode(fpOp(OpFltI, 31, 2, tc.fn, 3))
		if got := d.Mnemonic(); got != tc.want {
			t.Errorf("fn %#x: mnemonic %q, want %q", tc.fn, got, tc.want)
		}
	}
}

func TestMnemonics(t *testing.T) {
	for _, tc := range []struct {
		word uint32
		want string
	}{
		{opLit(OpIntA, 30, 3, FnAddq, 11), "addq"},
		{opReg(OpIntA, 1, 2, FnAddlV, 3), "addl/v"},
		{memOp(OpLdqU, 1, 10, 0), "ldq_u"},
		{Decoded{Format: FormatBranch, Opcode: OpBsr, Ra: 26, Disp: 4}.Encode(), "bsr"},
		{Decoded{Format: FormatJump, Opcode: OpJsr, Ra: 26, Rb: 27, Func: FnRet}.Encode(), "ret"},
		{Decoded{Format: FormatPal, Opcode: OpCallPal, PalFunc: PalHalt}.Encode(), "call_pal halt"},
		{fpOp(OpFltL, 1, 2, FnCpys, 3), "cpys"},
	} {
		if got := Decode(tc.word).Mnemonic(); got != tc.want {
			t.Errorf("%#08x: mnemonic %q, want %q", tc.word, got, tc.want)
		}
	}
}

func TestBranchTarget(t *testing.T) {
	d := Decode(Decoded{Format: FormatBranch, Opcode: OpBeq, Ra: 31, Disp: 12}.Encode())
	if got := d.BranchTarget(0x2000); got != 0x2034 {
		t.Fatalf("target = %#x", got)
	}
	d = Decode(Decoded{Format: FormatBranch, Opcode: OpBr, Ra: 31, Disp: -1}.Encode())
	if got := d.BranchTarget(0x2000); got != 0x2000 {
		t.Fatalf("backward target = %#x", got)
	}
}

func TestDisassembler(t *testing.T) {
	words := []uint32{
		opLit(OpIntA, 30, 3, FnAddq, 11),
		memOp(OpLdq, 1, 10, -8),
		Decoded{Format: FormatBranch, Opcode: OpBeq, Ra: 5, Disp: 12}.Encode(),
	}
	mem := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(mem[i*4:], w)
	}
	var dis Dis
	ins, err := dis.Dis(mem, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ins) != 3 {
		t.Fatalf("decoded %d instructions", len(ins))
	}
	for i, want := range []string{
		"addq sp, #3, r11",
		"ldq r1, -8(r10)",
		"beq r5, 0x203c",
	} {
		if got := ins[i].String(); got != want {
			t.Errorf("ins %d: %q, want %q", i, got, want)
		}
	}
	if ins[1].Addr() != 0x2004 {
		t.Fatalf("addr = %#x", ins[1].Addr())
	}
}

func BenchmarkDecode(b *testing.B) {
	w := opLit(OpIntA, 30, 3, FnAddq, 11)
	for i := 0; i < b.N; i++ {
		Decode(w)
	}
}
