package mmu

import (
	"github.com/lunixbochs/alphacorn/go/models"
)

// PTE bit layout
const (
	pteValid = 1 << 0
	pteFOR   = 1 << 1
	pteFOW   = 1 << 2
	pteFOE   = 1 << 3
	pteASM   = 1 << 4
	pteGH    = 3 << 5
	pteKRE   = 1 << 8
	pteKWE   = 1 << 12

	pfnShift = 32

	pageShift = 13
	levelBits = 10
	levelMask = 1<<levelBits - 1
)

// ReadQuad reads one aligned quadword of physical memory, bypassing caches.
type ReadQuad func(pa uint64) (uint64, error)

func canonical(va uint64) bool {
	top := int64(va) >> 47
	return top == 0 || top == -1
}

func badVA(va uint64, write bool) error {
	stat := uint64(models.MMAcv | models.MMBadVa)
	if write {
		stat |= models.MMWr
	}
	return &models.Fault{Kind: models.FaultACV, VA: va, MMStat: stat}
}

func entryFromPTE(pte, vpn, asn uint64, shift uint) Entry {
	// the PFN field counts 8K frames even under a granularity hint
	return Entry{
		VPN:       vpn,
		ASN:       asn,
		Global:    pte&pteASM != 0,
		PFN:       pte >> pfnShift >> (shift - pageShift),
		PageShift: shift,
		ReadMask:  uint8(pte >> 8 & 0xf),
		WriteMask: uint8(pte >> 12 & 0xf),
		FOR:       pte&pteFOR != 0,
		FOW:       pte&pteFOW != 0,
		FOE:       pte&pteFOE != 0,
	}
}

// Walk resolves va through the three-level table rooted at ptbr (a PFN).
// Intermediate levels only need their valid bit; leaf protection is
// returned in the Entry for the caller to check.
func Walk(read ReadQuad, ptbr, va, asn uint64) (Entry, error) {
	if !canonical(va) {
		return Entry{}, badVA(va, false)
	}
	tnv := func() error {
		return &models.Fault{Kind: models.FaultTNV, VA: va, MMStat: models.MMTnv}
	}
	base := ptbr << pageShift
	for level := 0; level < 3; level++ {
		shift := uint(pageShift + (2-level)*levelBits)
		idx := va >> shift & levelMask
		pte, err := read(base + idx*8)
		if err != nil {
			return Entry{}, err
		}
		if pte&pteValid == 0 {
			return Entry{}, tnv()
		}
		if level == 2 {
			// granularity hint widens the leaf page
			gh := uint(pte >> 5 & 3)
			pshift := uint(pageShift + 3*gh)
			vpn := va >> pshift
			return entryFromPTE(pte, vpn, asn, pshift), nil
		}
		base = pte >> pfnShift << pageShift
	}
	panic("unreachable")
}

// Translate runs the full datapath translation: canonical check, TLB probe,
// walk-and-fill on miss, then protection and fault-on checks in order.
// The returned entry is valid even when err is a fault-on fault, so callers
// can keep the fill.
func Translate(tlb *TLB, read ReadQuad, ptbr, va, asn uint64, mode, access int) (uint64, error) {
	write := access == AccessWrite
	if !canonical(va) {
		return 0, badVA(va, write)
	}
	e, ok := tlb.Lookup(va, asn)
	if !ok {
		filled, err := Walk(read, ptbr, va, asn)
		if err != nil {
			if f, ok := err.(*models.Fault); ok && write {
				f.MMStat |= models.MMWr
			}
			return 0, err
		}
		tlb.Insert(filled)
		// the fill may use a page size Lookup does not probe (granularity
		// hint), so check the walked entry itself
		e = &filled
	}
	if !e.Allowed(mode, access) {
		stat := uint64(models.MMAcv)
		if write {
			stat |= models.MMWr
		}
		return 0, &models.Fault{Kind: models.FaultACV, VA: va, MMStat: stat}
	}
	switch {
	case access == AccessRead && e.FOR:
		return 0, &models.Fault{Kind: models.FaultFOR, VA: va, MMStat: models.MMFor}
	case access == AccessWrite && e.FOW:
		return 0, &models.Fault{Kind: models.FaultFOW, VA: va, MMStat: models.MMFow | models.MMWr}
	case access == AccessExec && e.FOE:
		return 0, &models.Fault{Kind: models.FaultFOE, VA: va, MMStat: models.MMFor}
	}
	return e.PA(va), nil
}
