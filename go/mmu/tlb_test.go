package mmu

import (
	"encoding/binary"
	"testing"

	"github.com/lunixbochs/alphacorn/go/mem"
	"github.com/lunixbochs/alphacorn/go/models"
)

var testSizes = []int{8192, 65536, 524288, 4194304}

func testEntry(va, asn uint64) Entry {
	return Entry{
		VPN: va >> 13, ASN: asn, PFN: 0x100, PageShift: 13,
		ReadMask: 0xf, WriteMask: 0x1,
	}
}

func TestTLBLookup(t *testing.T) {
	tlb := New(64, testSizes)
	if _, ok := tlb.Lookup(0x4000, 1); ok {
		t.Fatal("hit in empty tlb")
	}
	tlb.Insert(testEntry(0x4000, 1))
	e, ok := tlb.Lookup(0x4010, 1)
	if !ok {
		t.Fatal("miss after insert")
	}
	if pa := e.PA(0x4010); pa != 0x100<<13|0x10 {
		t.Fatalf("pa = %#x", pa)
	}
	s := tlb.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Fills != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTLBASN(t *testing.T) {
	tlb := New(64, testSizes)
	tlb.Insert(testEntry(0x4000, 5))
	if _, ok := tlb.Lookup(0x4000, 6); ok {
		t.Fatal("asn 5 entry matched asn 6")
	}
	g := testEntry(0x6000, 5)
	g.Global = true
	tlb.Insert(g)
	if _, ok := tlb.Lookup(0x6000, 6); !ok {
		t.Fatal("global entry missed under other asn")
	}
}

func TestTLBPermissions(t *testing.T) {
	e := Entry{ReadMask: 0xf, WriteMask: 0x1}
	if !e.Allowed(3, AccessRead) {
		t.Fatal("user read denied")
	}
	if e.Allowed(3, AccessWrite) {
		t.Fatal("user write allowed on kernel-write page")
	}
	if !e.Allowed(0, AccessWrite) {
		t.Fatal("kernel write denied")
	}
}

func TestTLBInvalidate(t *testing.T) {
	fill := func() *TLB {
		tlb := New(64, testSizes)
		tlb.Insert(testEntry(0x2000, 1))
		tlb.Insert(testEntry(0x4000, 2))
		g := testEntry(0x6000, 1)
		g.Global = true
		tlb.Insert(g)
		return tlb
	}

	tlb := fill()
	tlb.InvalidateAll()
	if n := len(tlb.Entries()); n != 0 {
		t.Fatalf("%d entries after tbia", n)
	}

	tlb = fill()
	tlb.InvalidateNonGlobal()
	if n := len(tlb.Entries()); n != 1 {
		t.Fatalf("%d entries after tbiap, want 1 global", n)
	}
	if _, ok := tlb.Lookup(0x6000, 9); !ok {
		t.Fatal("global entry lost to tbiap")
	}

	tlb = fill()
	tlb.InvalidateVA(0x4000, 2)
	if _, ok := tlb.Lookup(0x4000, 2); ok {
		t.Fatal("entry survived tbis")
	}
	if _, ok := tlb.Lookup(0x2000, 1); !ok {
		t.Fatal("tbis took an unrelated entry")
	}

	tlb = fill()
	tlb.InvalidateASN(1)
	if _, ok := tlb.Lookup(0x2000, 1); ok {
		t.Fatal("asn 1 entry survived per-asn flush")
	}
	if _, ok := tlb.Lookup(0x4000, 2); !ok {
		t.Fatal("asn 2 entry lost to asn 1 flush")
	}
	if _, ok := tlb.Lookup(0x6000, 1); !ok {
		t.Fatal("global lost to per-asn flush")
	}
}

func TestTLBEviction(t *testing.T) {
	tlb := New(4, testSizes) // one set, four ways
	for i := uint64(0); i < 5; i++ {
		e := testEntry(i<<15, 1)
		e.PFN = 0x100 + i
		tlb.Insert(e)
	}
	// first insert was LRU
	if _, ok := tlb.Lookup(0, 1); ok {
		t.Fatal("lru entry survived")
	}
	if _, ok := tlb.Lookup(4<<15, 1); !ok {
		t.Fatal("newest entry evicted")
	}
}

// page table fixture

const testPtbr = 0x10 // tables at 0x20000

type tableBuilder struct {
	phys *mem.Phys
	next uint64 // next free table PFN
}

func newTables(t *testing.T) *tableBuilder {
	phys, err := mem.NewPhys(4 * 1024 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	return &tableBuilder{phys: phys, next: testPtbr + 1}
}

func (b *tableBuilder) putPTE(tablePFN, idx, pte uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pte)
	b.phys.WriteBytes(tablePFN<<13|idx*8, buf[:])
}

// Map installs a leaf for va with the given pte bits, allocating
// intermediate tables as needed.
func (b *tableBuilder) Map(va, leafPTE uint64) {
	l1 := va >> 33 & levelMask
	l2 := va >> 23 & levelMask
	l3 := va >> 13 & levelMask
	l2pfn := b.alloc(testPtbr, l1)
	l3pfn := b.alloc(l2pfn, l2)
	b.putPTE(l3pfn, l3, leafPTE)
}

func (b *tableBuilder) alloc(tablePFN, idx uint64) uint64 {
	var buf [8]byte
	b.phys.ReadBytes(tablePFN<<13|idx*8, buf[:])
	pte := binary.LittleEndian.Uint64(buf[:])
	if pte&pteValid != 0 {
		return pte >> pfnShift
	}
	pfn := b.next
	b.next++
	b.putPTE(tablePFN, idx, pfn<<pfnShift|pteValid)
	return pfn
}

func (b *tableBuilder) read(pa uint64) (uint64, error) {
	var buf [8]byte
	if err := b.phys.ReadBytes(pa, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

const pteKURW = pteKRE | pteKWE | 1<<11 | 1<<15 // kernel+user rw

func TestWalk(t *testing.T) {
	b := newTables(t)
	b.Map(0x4000, 0x200<<pfnShift|pteKURW|pteValid)
	e, err := Walk(b.read, testPtbr, 0x4000, 7)
	if err != nil {
		t.Fatal(err)
	}
	if e.PFN != 0x200 || e.PageShift != 13 {
		t.Fatalf("pfn=%#x shift=%d", e.PFN, e.PageShift)
	}
	if e.ASN != 7 || e.Global {
		t.Fatalf("asn=%d global=%v", e.ASN, e.Global)
	}
	if e.ReadMask != 0x9 || e.WriteMask != 0x9 {
		t.Fatalf("perms r=%#x w=%#x", e.ReadMask, e.WriteMask)
	}
}

func TestWalkTNV(t *testing.T) {
	b := newTables(t)
	b.Map(0x4000, 0x200<<pfnShift|pteKURW|pteValid)
	// unmapped leaf in a mapped directory
	for _, va := range []uint64{0x6000, 1 << 33, 1 << 23} {
		_, err := Walk(b.read, testPtbr, va, 0)
		f, ok := models.IsFault(err)
		if !ok || f.Kind != models.FaultTNV {
			t.Fatalf("va %#x: err = %v", va, err)
		}
		if f.VA != va || f.MMStat&models.MMTnv == 0 {
			t.Fatalf("va %#x: fault = %+v", va, f)
		}
	}
}

func TestWalkInvalidLeaf(t *testing.T) {
	b := newTables(t)
	b.Map(0x4000, 0x200<<pfnShift|pteKURW) // valid bit clear
	_, err := Walk(b.read, testPtbr, 0x4000, 0)
	if f, ok := models.IsFault(err); !ok || f.Kind != models.FaultTNV {
		t.Fatalf("err = %v", err)
	}
}

func TestWalkGranularityHint(t *testing.T) {
	b := newTables(t)
	// GH=1 maps 64K from a single leaf
	b.Map(0x10000, 0x300<<pfnShift|1<<5|pteKURW|pteValid)
	e, err := Walk(b.read, testPtbr, 0x10000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.PageShift != 16 {
		t.Fatalf("shift = %d", e.PageShift)
	}
	if pa := e.PA(0x1abcd); pa != 0x300<<13|0xabcd {
		t.Fatalf("pa = %#x", pa)
	}
}

func TestWalkNonCanonical(t *testing.T) {
	b := newTables(t)
	_, err := Walk(b.read, testPtbr, 1<<47, 0)
	f, ok := models.IsFault(err)
	if !ok || f.Kind != models.FaultACV {
		t.Fatalf("err = %v", err)
	}
	if f.MMStat&models.MMBadVa == 0 {
		t.Fatalf("fault = %+v", f)
	}
	// sign-extended kernel addresses are fine to walk
	hi := uint64(0xffff800000000000)
	b.Map(hi, 0x400<<pfnShift|pteKURW|pteValid)
	if _, err := Walk(b.read, testPtbr, hi, 0); err != nil {
		t.Fatal(err)
	}
}

func TestTranslateProtection(t *testing.T) {
	b := newTables(t)
	// kernel-only page
	b.Map(0x8000, 0x210<<pfnShift|pteKRE|pteKWE|pteValid)
	tlb := New(64, testSizes)

	if _, err := Translate(tlb, b.read, testPtbr, 0x8000, 3, 0, AccessRead); err != nil {
		t.Fatal(err)
	}
	_, err := Translate(tlb, b.read, testPtbr, 0x8000, 3, 3, AccessRead)
	f, ok := models.IsFault(err)
	if !ok || f.Kind != models.FaultACV {
		t.Fatalf("user read: %v", err)
	}
	_, err = Translate(tlb, b.read, testPtbr, 0x8000, 3, 3, AccessWrite)
	f, ok = models.IsFault(err)
	if !ok || f.Kind != models.FaultACV || f.MMStat&models.MMWr == 0 {
		t.Fatalf("user write: %v", err)
	}
}

func TestTranslateFaultOn(t *testing.T) {
	b := newTables(t)
	b.Map(0x8000, 0x210<<pfnShift|pteKURW|pteFOW|pteValid)
	tlb := New(64, testSizes)

	if _, err := Translate(tlb, b.read, testPtbr, 0x8000, 3, 0, AccessRead); err != nil {
		t.Fatal(err)
	}
	_, err := Translate(tlb, b.read, testPtbr, 0x8000, 3, 0, AccessWrite)
	f, ok := models.IsFault(err)
	if !ok || f.Kind != models.FaultFOW {
		t.Fatalf("err = %v", err)
	}
	if f.MMStat != models.MMFow|models.MMWr || f.VA != 0x8000 {
		t.Fatalf("fault = %+v", f)
	}
}

// A granularity-hint leaf can widen the page beyond the configured sizes;
// the first access must still translate off the walked entry.
func TestTranslateGHOutsideConfiguredSizes(t *testing.T) {
	b := newTables(t)
	b.Map(0x10000, 0x300<<pfnShift|1<<5|pteKURW|pteValid) // GH=1, 64K leaf
	tlb := New(64, []int{8192})                           // 64K not probed on lookup

	pa, err := Translate(tlb, b.read, testPtbr, 0x10000, 0, 0, AccessRead)
	if err != nil {
		t.Fatal(err)
	}
	if pa != 0x300<<13 {
		t.Fatalf("pa = %#x", pa)
	}
}

func TestTranslateStats(t *testing.T) {
	b := newTables(t)
	b.Map(0x4000, 0x200<<pfnShift|pteKURW|pteValid)
	tlb := New(64, testSizes)

	for i := 0; i < 2; i++ {
		if _, err := Translate(tlb, b.read, testPtbr, 0x4000, 0, 0, AccessRead); err != nil {
			t.Fatal(err)
		}
	}
	s := tlb.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Fills != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

// A TLB hit must agree with a fresh walk of the same address.
func TestTLBWalkerAgreement(t *testing.T) {
	b := newTables(t)
	vas := []uint64{0x2000, 0x4000, 0x10000, 0xfffffc0000002000}
	for i, va := range vas {
		b.Map(va, uint64(0x500+i)<<pfnShift|pteKURW|pteValid)
	}
	tlb := New(64, testSizes)
	for _, va := range vas {
		pa, err := Translate(tlb, b.read, testPtbr, va, 2, 0, AccessRead)
		if err != nil {
			t.Fatal(err)
		}
		e, ok := tlb.Lookup(va, 2)
		if !ok {
			t.Fatalf("va %#x missing after fill", va)
		}
		w, err := Walk(b.read, testPtbr, va, 2)
		if err != nil {
			t.Fatal(err)
		}
		if e.PFN != w.PFN || e.ReadMask != w.ReadMask || e.WriteMask != w.WriteMask {
			t.Fatalf("va %#x: tlb %+v != walk %+v", va, e, w)
		}
		if pa != w.PA(va) {
			t.Fatalf("va %#x: pa %#x != %#x", va, pa, w.PA(va))
		}
	}
	if s := tlb.Stats(); s.Fills != uint64(len(vas)) {
		t.Fatalf("fills = %d", s.Fills)
	}
}

func BenchmarkTLBHit(b *testing.B) {
	tlb := New(64, testSizes)
	tlb.Insert(testEntry(0x4000, 1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tlb.Lookup(0x4000, 1)
	}
}
