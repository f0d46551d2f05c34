package alphacorn

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	acpu "github.com/lunixbochs/alphacorn/go/cpu/alpha"
	"github.com/lunixbochs/alphacorn/go/mmu"
	"github.com/lunixbochs/alphacorn/go/models"
)

func testMachine(t *testing.T, cpus int) *Machine {
	t.Helper()
	conf := &models.Config{
		Model:   "EV67",
		Cpus:    cpus,
		RamSize: 1 << 20,
	}
	m, err := NewMachine(conf)
	if err != nil {
		t.Fatal(err)
	}
	ident := mmu.Entry{Global: true, PageShift: 22, ReadMask: 0xf, WriteMask: 0xf}
	for i := 0; i < cpus; i++ {
		c := m.Core(i)
		c.ITB().Insert(ident)
		c.DTB().Insert(ident)
	}
	return m
}

func poke(t *testing.T, m *Machine, addr uint64, words ...uint32) {
	t.Helper()
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	if err := m.PhysWrite(addr, buf); err != nil {
		t.Fatal(err)
	}
}

func lda(ra, rb int, disp int32) uint32 {
	return acpu.Decoded{Format: acpu.FormatMem, Opcode: acpu.OpLda, Ra: uint8(ra), Rb: uint8(rb), Disp: disp}.Encode()
}

func stl(ra, rb int, disp int32) uint32 {
	return acpu.Decoded{Format: acpu.FormatMem, Opcode: acpu.OpStl, Ra: uint8(ra), Rb: uint8(rb), Disp: disp}.Encode()
}

func ldl(ra, rb int, disp int32) uint32 {
	return acpu.Decoded{Format: acpu.FormatMem, Opcode: acpu.OpLdl, Ra: uint8(ra), Rb: uint8(rb), Disp: disp}.Encode()
}

func callPal(fn uint32) uint32 {
	return acpu.Decoded{Format: acpu.FormatPal, Opcode: acpu.OpCallPal, PalFunc: fn}.Encode()
}

func TestRunUntilHalt(t *testing.T) {
	m := testMachine(t, 1)
	poke(t, m, 0x1000,
		lda(0, 31, 7),
		callPal(acpu.PalHalt),
	)
	m.Core(0).Set(acpu.PC, 0x1000)
	err := m.Run()
	status, ok := err.(models.ExitStatus)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if int(status) != 7 {
		t.Fatalf("halt status %d", status)
	}
}

func TestStoreThroughCaches(t *testing.T) {
	m := testMachine(t, 1)
	c := m.Core(0)
	c.Set(acpu.R1, 0x1234)
	c.Set(acpu.R10, 0x8000)
	poke(t, m, 0x1000, stl(1, 10, 0))
	c.Set(acpu.PC, 0x1000)
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	// PhysRead flushes the hierarchy first
	buf := make([]byte, 4)
	if err := m.PhysRead(0x8000, buf); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0x1234 {
		t.Fatalf("ram = %#x", got)
	}
	l1d, _ := m.CacheStats(0)
	if l1d.Hits+l1d.Misses == 0 {
		t.Fatal("store bypassed the data cache")
	}
}

func TestCrossCpuCoherence(t *testing.T) {
	m := testMachine(t, 2)
	c0, c1 := m.Core(0), m.Core(1)

	c0.Set(acpu.R1, 0x77)
	c0.Set(acpu.R10, 0x8000)
	poke(t, m, 0x1000, stl(1, 10, 0))
	poke(t, m, 0x2000, ldl(2, 10, 0))
	c1.Set(acpu.R10, 0x8000)

	// warm cpu1's cache with the old value, then store from cpu0
	c1.Set(acpu.PC, 0x2000)
	if err := m.StepOne(1); err != nil {
		t.Fatal(err)
	}
	if c1.Get(acpu.R2) != 0 {
		t.Fatalf("initial load = %#x", c1.Get(acpu.R2))
	}
	c0.Set(acpu.PC, 0x1000)
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	c1.Set(acpu.PC, 0x2000)
	if err := m.StepOne(1); err != nil {
		t.Fatal(err)
	}
	if got := c1.Get(acpu.R2); got != 0x77 {
		t.Fatalf("stale read %#x after remote store", got)
	}
}

// device with a pair of word registers
type testDevice struct {
	regs [2]uint64
}

func (d *testDevice) Ident() string { return "testdev" }

func (d *testDevice) Read(off uint64, size int) (uint64, error) {
	return d.regs[off/8%2], nil
}

func (d *testDevice) Write(off uint64, size int, val uint64) error {
	d.regs[off/8%2] = val
	return nil
}

func (d *testDevice) SaveState() ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, d.regs[0])
	binary.LittleEndian.PutUint64(buf[8:], d.regs[1])
	return buf, nil
}

func (d *testDevice) LoadState(p []byte) error {
	d.regs[0] = binary.LittleEndian.Uint64(p)
	d.regs[1] = binary.LittleEndian.Uint64(p[8:])
	return nil
}

func TestMMIOStore(t *testing.T) {
	m := testMachine(t, 1)
	dev := &testDevice{}
	if err := m.AttachMMIO(0x10000000, 0x10000fff, dev); err != nil {
		t.Fatal(err)
	}
	c := m.Core(0)
	// identity-map the device window
	c.DTB().Insert(mmu.Entry{
		VPN: 0x10000000 >> 22, PFN: 0x10000000 >> 22,
		Global: true, PageShift: 22, ReadMask: 0xf, WriteMask: 0xf,
	})
	c.Set(acpu.R1, 0x55)
	c.Set(acpu.R10, 0x10000000)
	poke(t, m, 0x1000,
		stl(1, 10, 0x40),
		ldl(2, 10, 0x40),
	)
	c.Set(acpu.PC, 0x1000)
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	if dev.regs[(0x40/8)%2] != 0x55 {
		t.Fatalf("device regs %#x", dev.regs)
	}
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(acpu.R2); got != 0x55 {
		t.Fatalf("mmio readback %#x", got)
	}
	// device space never lands in the cache
	l1d, _ := m.CacheStats(0)
	if l1d.Hits+l1d.Misses != 0 {
		t.Fatal("mmio access went through the data cache")
	}
}

func TestMMIOOverlapRejected(t *testing.T) {
	m := testMachine(t, 1)
	if err := m.AttachMMIO(0x10000000, 0x10000fff, &testDevice{}); err != nil {
		t.Fatal(err)
	}
	if err := m.AttachMMIO(0x10000800, 0x10001fff, &testDevice{}); err == nil {
		t.Fatal("overlapping region accepted")
	}
}

func TestInterruptInjection(t *testing.T) {
	m := testMachine(t, 1)
	c := m.Core(0)
	c.Set(acpu.PAL_BASE, 0x8000)
	c.Set(acpu.PS, uint64(acpu.ModeKernel)) // ipl 0
	poke(t, m, 0x1000, lda(1, 31, 1))
	c.Set(acpu.PC, 0x1000)
	if err := m.InjectInterrupt(0, VecDevice); err != nil {
		t.Fatal(err)
	}
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	if pc := c.Get(acpu.PC); pc != 0x8000+0x680 {
		t.Fatalf("pc = %#x, want interrupt entry", pc)
	}
}

func TestIPI(t *testing.T) {
	m := testMachine(t, 2)
	c0, c1 := m.Core(0), m.Core(1)
	c1.Set(acpu.PAL_BASE, 0x8000)
	c1.Set(acpu.PS, uint64(acpu.ModeKernel))

	c0.Set(acpu.R16, 1) // target cpu
	poke(t, m, 0x1000, callPal(acpu.PalWripir))
	poke(t, m, 0x2000, lda(1, 31, 1))
	c0.Set(acpu.PC, 0x1000)
	c1.Set(acpu.PC, 0x2000)
	if err := m.StepOne(0); err != nil {
		t.Fatal(err)
	}
	if err := m.StepOne(1); err != nil {
		t.Fatal(err)
	}
	if pc := c1.Get(acpu.PC); pc != 0x8000+0x680 {
		t.Fatalf("cpu1 pc = %#x, want interrupt entry", pc)
	}
}

func TestRunUntilBudget(t *testing.T) {
	m := testMachine(t, 1)
	// infinite loop: br zero, .-4
	br := acpu.Decoded{Format: acpu.FormatBranch, Opcode: acpu.OpBr, Ra: 31, Disp: -1}.Encode()
	poke(t, m, 0x1000, br)
	m.Core(0).Set(acpu.PC, 0x1000)
	if err := m.RunUntil(100); err != nil {
		t.Fatal(err)
	}
}

// device whose read path lands a peer store on the locked line while the
// load is still in flight
type racingDevice struct {
	m  *Machine
	pa uint64
}

func (d *racingDevice) Ident() string { return "racingdev" }

func (d *racingDevice) Read(off uint64, size int) (uint64, error) {
	d.m.killReservations(d.pa, size)
	return 0, nil
}

func (d *racingDevice) Write(off uint64, size int, val uint64) error { return nil }

func TestStoreRacingLockedLoad(t *testing.T) {
	m := testMachine(t, 1)
	dev := &racingDevice{m: m, pa: 0x10000000}
	if err := m.AttachMMIO(0x10000000, 0x10000fff, dev); err != nil {
		t.Fatal(err)
	}
	s := m.cpus[0]
	if _, err := s.LoadLocked(0x10000000, 8); err != nil {
		t.Fatal(err)
	}
	ok, err := s.StoreConditional(0x10000000, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("conditional store won against a store racing the locked load")
	}
}

func TestConditionalStoreLivelockGuard(t *testing.T) {
	conf := &models.Config{
		Model:   "EV67",
		Cpus:    1,
		RamSize: 1 << 20,
		Exec:    models.ExecConfig{SCAttemptsMax: 3},
	}
	m, err := NewMachine(conf)
	if err != nil {
		t.Fatal(err)
	}
	s := m.cpus[0]
	var last error
	for i := 0; i < 3; i++ {
		// no reservation held, every attempt fails
		ok, err := s.StoreConditional(0x8000, 8, 1)
		if ok {
			t.Fatal("store succeeded without a reservation")
		}
		last = err
	}
	if last == nil {
		t.Fatal("livelock guard never tripped")
	}
	// a successful pair resets the counter
	if _, err := s.LoadLocked(0x8000, 8); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.StoreConditional(0x8000, 8, 1); !ok || err != nil {
		t.Fatalf("ok=%v err=%v after reservation", ok, err)
	}
}

func TestJitHeat(t *testing.T) {
	conf := &models.Config{
		Model:   "EV67",
		Cpus:    1,
		RamSize: 1 << 20,
		Jit:     models.JitConfig{Enabled: true, HotThreshold: 50},
	}
	m, err := NewMachine(conf)
	if err != nil {
		t.Fatal(err)
	}
	ident := mmu.Entry{Global: true, PageShift: 22, ReadMask: 0xf, WriteMask: 0xf}
	m.Core(0).ITB().Insert(ident)
	m.Core(0).DTB().Insert(ident)
	// br zero, .-4
	br := acpu.Decoded{Format: acpu.FormatBranch, Opcode: acpu.OpBr, Ra: 31, Disp: -1}.Encode()
	poke(t, m, 0x1000, br)
	m.Core(0).Set(acpu.PC, 0x1000)
	for i := 0; i < 4; i++ {
		if err := m.StepOne(0); err != nil {
			t.Fatal(err)
		}
	}
	if m.Jit().Len() == 0 {
		t.Fatal("no blocks tracked after execution")
	}
	if s := m.Jit().Stats(); s.Lookups < 4 {
		t.Fatalf("lookups = %d", s.Lookups)
	}
}

func TestMarkROM(t *testing.T) {
	m := testMachine(t, 1)
	poke(t, m, 0x4000, 0x11111111)
	m.MarkROM(0x4000, 0x40ff)
	poke(t, m, 0x4000, 0x22222222)
	buf := make([]byte, 4)
	if err := m.PhysRead(0x4000, buf); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0x11111111 {
		t.Fatalf("rom changed to %#x", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := testMachine(t, 2)
	dev := &testDevice{}
	if err := m.AttachMMIO(0x10000000, 0x10000fff, dev); err != nil {
		t.Fatal(err)
	}
	c := m.Core(0)
	c.Set(acpu.R5, 123)
	c.Set(acpu.PC, 0x1000)
	dev.regs[0] = 0xabc
	poke(t, m, 0x9000, 0xdeadbeef)

	var snap bytes.Buffer
	if err := m.Snapshot(&snap); err != nil {
		t.Fatal(err)
	}

	c.Set(acpu.R5, 999)
	dev.regs[0] = 0
	poke(t, m, 0x9000, 0)

	if err := m.Restore(bytes.NewReader(snap.Bytes())); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(acpu.R5); got != 123 {
		t.Fatalf("r5 = %d after restore", got)
	}
	if dev.regs[0] != 0xabc {
		t.Fatalf("device state %#x after restore", dev.regs[0])
	}
	buf := make([]byte, 4)
	if err := m.PhysRead(0x9000, buf); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0xdeadbeef {
		t.Fatalf("ram = %#x after restore", got)
	}
	// tlb state came back too
	if _, ok := c.DTB().Lookup(0x1000, 0); !ok {
		t.Fatal("tlb entries lost in restore")
	}
}

func TestRestoreRejectsCorrupt(t *testing.T) {
	m := testMachine(t, 1)
	c := m.Core(0)
	c.Set(acpu.R5, 123)

	var snap bytes.Buffer
	if err := m.Snapshot(&snap); err != nil {
		t.Fatal(err)
	}
	data := snap.Bytes()
	data[len(data)-1] ^= 0xff

	c.Set(acpu.R5, 42)
	if err := m.Restore(bytes.NewReader(data)); err == nil {
		t.Fatal("corrupt snapshot accepted")
	}
	if got := c.Get(acpu.R5); got != 42 {
		t.Fatal("failed restore touched machine state")
	}
}

func TestRestoreRejectsMismatch(t *testing.T) {
	m := testMachine(t, 2)
	var snap bytes.Buffer
	if err := m.Snapshot(&snap); err != nil {
		t.Fatal(err)
	}
	other := testMachine(t, 1)
	if err := other.Restore(bytes.NewReader(snap.Bytes())); err == nil {
		t.Fatal("cpu count mismatch accepted")
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewMachine(&models.Config{Model: "EV99"}); err == nil {
		t.Fatal("bad model accepted")
	}
	if _, err := NewMachine(&models.Config{Tlb: models.TlbConfig{PageSizes: []int{4096}}}); err == nil {
		t.Fatal("bad page size accepted")
	}
}

func TestDisassembly(t *testing.T) {
	m := testMachine(t, 1)
	poke(t, m, 0x1000, lda(0, 31, 7))
	ins, err := m.Dis(0, 0x1000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ins) != 1 || ins[0].Mnemonic() != "lda" {
		t.Fatalf("dis: %v", ins)
	}
}

func TestTraceFile(t *testing.T) {
	m := testMachine(t, 1)
	poke(t, m, 0x1000,
		lda(1, 31, 5),
		stl(1, 31, 0x100),
	)
	m.Core(0).Set(acpu.PC, 0x1000)
	var buf bytes.Buffer
	if err := m.StartTraceFile(&buf); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := m.StepOne(0); err != nil {
			t.Fatal(err)
		}
	}
	data := buf.Bytes()
	if !bytes.Equal(data[:8], models.TraceMagic[:]) {
		t.Fatalf("bad magic %q", data[:8])
	}
	s := &models.StrucStream{Stream: readerStream{bytes.NewReader(data[8:])}, Order: binary.LittleEndian}
	var version uint32
	s.Unpack(&version)
	if version != models.TraceVersion {
		t.Fatalf("version = %d", version)
	}
	var hdr models.OpHdr
	var exec models.ExecOp
	s.Unpack(&hdr, &exec)
	if hdr.Op != models.OpExec || exec.Addr != 0x1000 {
		t.Fatalf("first record: op %d addr %#x", hdr.Op, exec.Addr)
	}
	s.Unpack(&hdr, &exec)
	if hdr.Op != models.OpExec || exec.Addr != 0x1004 {
		t.Fatalf("second record: op %d addr %#x", hdr.Op, exec.Addr)
	}
	var mem models.MemOp
	s.Unpack(&hdr, &mem)
	if s.Error != nil {
		t.Fatal(s.Error)
	}
	if hdr.Op != models.OpMemWrite || mem.Addr != 0x100 || mem.Value != 5 {
		t.Fatalf("store record: op %d addr %#x val %#x", hdr.Op, mem.Addr, mem.Value)
	}
}

func TestTextTrace(t *testing.T) {
	conf := &models.Config{
		Model:     "EV67",
		Cpus:      1,
		RamSize:   1 << 20,
		TraceExec: true,
		TraceReg:  true,
	}
	m, err := NewMachine(conf)
	if err != nil {
		t.Fatal(err)
	}
	ident := mmu.Entry{Global: true, PageShift: 22, ReadMask: 0xf, WriteMask: 0xf}
	m.Core(0).ITB().Insert(ident)
	m.Core(0).DTB().Insert(ident)
	poke(t, m, 0x1000,
		lda(1, 31, 5),
		lda(2, 1, 2),
	)
	m.Core(0).Set(acpu.PC, 0x1000)
	var buf bytes.Buffer
	if err := m.StartTrace(&buf); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := m.StepOne(0); err != nil {
			t.Fatal(err)
		}
	}
	out := buf.String()
	if !strings.Contains(out, "cpu0 0x1000: lda") {
		t.Errorf("missing exec line:\n%s", out)
	}
	if !strings.Contains(out, "cpu0 0x1004: lda") {
		t.Errorf("missing second exec line:\n%s", out)
	}
	if !strings.Contains(out, "t0 = 0x5") {
		t.Errorf("missing register change:\n%s", out)
	}
}
