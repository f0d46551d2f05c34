package mem

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lunixbochs/alphacorn/go/models"
)

// Region is an inclusive physical range bound to a device handler.
type Region struct {
	Start, End uint64
	Handler    models.MMIOHandler
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr <= r.End
}

func (r *Region) Overlaps(start, end uint64) bool {
	return start <= r.End && end >= r.Start
}

// Router dispatches physical accesses to device handlers. Lookups are
// wait-free: the sorted region slice is immutable and swapped whole through
// an atomic.Value, so map/unmap copy on write while readers never block.
type Router struct {
	regions atomic.Value // []*Region, sorted by Start
	mu      sync.Mutex   // serializes writers
	strict  bool
}

func NewRouter(strict bool) *Router {
	r := &Router{strict: strict}
	r.regions.Store([]*Region{})
	return r
}

func (r *Router) list() []*Region {
	return r.regions.Load().([]*Region)
}

// Attach maps [start, end] to a handler. Overlap is a configuration error
// caught here, before any traffic flows.
func (r *Router) Attach(start, end uint64, h models.MMIOHandler) error {
	if start > end {
		return errors.Errorf("bad mmio range %#x-%#x", start, end)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.list()
	for _, reg := range old {
		if reg.Overlaps(start, end) {
			return errors.Errorf("mmio range %#x-%#x overlaps %#x-%#x (%s)",
				start, end, reg.Start, reg.End, reg.Handler.Ident())
		}
	}
	next := make([]*Region, 0, len(old)+1)
	added := false
	for _, reg := range old {
		if !added && start < reg.Start {
			next = append(next, &Region{start, end, h})
			added = true
		}
		next = append(next, reg)
	}
	if !added {
		next = append(next, &Region{start, end, h})
	}
	r.regions.Store(next)
	return nil
}

func (r *Router) Detach(start uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.list()
	next := make([]*Region, 0, len(old))
	found := false
	for _, reg := range old {
		if reg.Start == start {
			found = true
			continue
		}
		next = append(next, reg)
	}
	if !found {
		return errors.Errorf("no mmio region at %#x", start)
	}
	r.regions.Store(next)
	return nil
}

// binary search for the region containing addr, nil if unclaimed
func (r *Router) Lookup(addr uint64) *Region {
	regions := r.list()
	l, h := 0, len(regions)-1
	for l <= h {
		mid := (l + h) / 2
		reg := regions[mid]
		if addr < reg.Start {
			h = mid - 1
		} else if addr > reg.End {
			l = mid + 1
		} else {
			return reg
		}
	}
	return nil
}

// Claims reports whether any region covers addr; used to steer accesses
// away from the cache hierarchy.
func (r *Router) Claims(addr uint64) bool {
	return r.Lookup(addr) != nil
}

// Read returns all-ones for unclaimed addresses, or a bus-error fault in
// strict mode.
func (r *Router) Read(addr uint64, size int) (uint64, error) {
	reg := r.Lookup(addr)
	if reg == nil {
		if r.strict {
			return 0, &models.Fault{Kind: models.FaultBusError, VA: addr}
		}
		return ^uint64(0) >> (64 - uint(size)*8), nil
	}
	return reg.Handler.Read(addr-reg.Start, size)
}

// Write drops unclaimed stores unless strict mode raises a bus error.
func (r *Router) Write(addr uint64, size int, val uint64) error {
	reg := r.Lookup(addr)
	if reg == nil {
		if r.strict {
			return &models.Fault{Kind: models.FaultBusError, VA: addr}
		}
		return nil
	}
	return reg.Handler.Write(addr-reg.Start, size, val)
}

// Regions returns the current mapping for snapshots and the monitor.
func (r *Router) Regions() []*Region {
	return r.list()
}
