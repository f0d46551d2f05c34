// Package mmu implements the per-cpu translation buffers and the
// three-level page walk.
package mmu

// access types
const (
	AccessRead = iota
	AccessWrite
	AccessExec
)

// Entry is one translation: (VPN, ASN, global) -> (PFN, perms, page size).
type Entry struct {
	VPN    uint64
	ASN    uint64
	Global bool

	PFN       uint64
	PageShift uint

	// per-mode permissions, bit i allows mode i (kernel=0 .. user=3)
	ReadMask  uint8
	WriteMask uint8

	// software-managed fault-on bits
	FOR bool
	FOW bool
	FOE bool
}

func (e *Entry) Match(va, asn uint64) bool {
	if va>>e.PageShift != e.VPN {
		return false
	}
	return e.Global || e.ASN == asn
}

func (e *Entry) PA(va uint64) uint64 {
	return e.PFN<<e.PageShift | va&(1<<e.PageShift-1)
}

// Allowed checks the R/W/X permission for a mode. Execute permission rides
// the read mask; FOE gates actual fetch.
func (e *Entry) Allowed(mode, access int) bool {
	bit := uint8(1) << uint(mode)
	switch access {
	case AccessWrite:
		return e.WriteMask&bit != 0
	default:
		return e.ReadMask&bit != 0
	}
}

type Stats struct {
	Hits    uint64
	Misses  uint64
	Fills   uint64
	Flushes uint64
}

// TLB is a set-associative translation cache. It is private to one cpu and
// consulted only from that cpu's worker, so no locking happens here;
// cross-cpu invalidations are queued and applied at instruction boundaries.
type TLB struct {
	sets    int
	ways    int
	setMask uint64
	entries [][]tlbLine
	tick    uint64
	// page shifts to probe on lookup, derived from the configured sizes
	shifts []uint

	stats Stats
}

type tlbLine struct {
	valid bool
	tick  uint64
	e     Entry
}

const tlbWays = 4

func New(entries int, pageSizes []int) *TLB {
	sets := entries / tlbWays
	if sets < 1 {
		sets = 1
	}
	// round down to a power of two for masking
	for sets&(sets-1) != 0 {
		sets &= sets - 1
	}
	t := &TLB{
		sets:    sets,
		ways:    tlbWays,
		setMask: uint64(sets - 1),
		entries: make([][]tlbLine, sets),
	}
	for i := range t.entries {
		t.entries[i] = make([]tlbLine, tlbWays)
	}
	for _, size := range pageSizes {
		shift := uint(0)
		for 1<<shift < size {
			shift++
		}
		t.shifts = append(t.shifts, shift)
	}
	return t
}

func (t *TLB) set(vpn uint64) int {
	return int(vpn & t.setMask)
}

// Lookup probes every configured page size for (va, asn).
func (t *TLB) Lookup(va, asn uint64) (*Entry, bool) {
	for _, shift := range t.shifts {
		vpn := va >> shift
		for i := range t.entries[t.set(vpn)] {
			l := &t.entries[t.set(vpn)][i]
			if l.valid && l.e.PageShift == shift && l.e.Match(va, asn) {
				t.tick++
				l.tick = t.tick
				t.stats.Hits++
				return &l.e, true
			}
		}
	}
	t.stats.Misses++
	return nil, false
}

// Insert fills an entry, evicting LRU within the set.
func (t *TLB) Insert(e Entry) {
	set := t.set(e.VPN)
	victim := &t.entries[set][0]
	for i := range t.entries[set] {
		l := &t.entries[set][i]
		if l.valid && l.e.PageShift == e.PageShift && l.e.VPN == e.VPN && l.e.ASN == e.ASN {
			victim = l
			break
		}
		if !l.valid {
			victim = l
		} else if l.tick < victim.tick && victim.valid {
			victim = l
		}
	}
	t.tick++
	*victim = tlbLine{valid: true, tick: t.tick, e: e}
	t.stats.Fills++
}

// InvalidateAll implements TBIA.
func (t *TLB) InvalidateAll() {
	for s := range t.entries {
		for i := range t.entries[s] {
			t.entries[s][i].valid = false
		}
	}
	t.stats.Flushes++
}

// InvalidateNonGlobal implements TBIAP: globals survive.
func (t *TLB) InvalidateNonGlobal() {
	for s := range t.entries {
		for i := range t.entries[s] {
			if !t.entries[s][i].e.Global {
				t.entries[s][i].valid = false
			}
		}
	}
	t.stats.Flushes++
}

// InvalidateVA implements TBIS for one address in one address space.
// Globals matching the VPN go too.
func (t *TLB) InvalidateVA(va, asn uint64) {
	for s := range t.entries {
		for i := range t.entries[s] {
			l := &t.entries[s][i]
			if l.valid && l.e.Match(va, asn) {
				l.valid = false
			}
		}
	}
}

// InvalidateASN implements TBIAR: every non-global entry of one space.
func (t *TLB) InvalidateASN(asn uint64) {
	for s := range t.entries {
		for i := range t.entries[s] {
			l := &t.entries[s][i]
			if l.valid && !l.e.Global && l.e.ASN == asn {
				l.valid = false
			}
		}
	}
}

func (t *TLB) Stats() Stats {
	return t.stats
}

// Entries lists valid entries for snapshots, in no particular order.
func (t *TLB) Entries() []Entry {
	var ret []Entry
	for s := range t.entries {
		for i := range t.entries[s] {
			if t.entries[s][i].valid {
				ret = append(ret, t.entries[s][i].e)
			}
		}
	}
	return ret
}
