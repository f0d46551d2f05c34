package cache

import "sync"

// Bus is the coherence broadcast domain for the private caches. L2/L3 sit
// below it and are plain storage levels; only the per-cpu L1D and I-caches
// register here.
//
// Lock order: bus.mu, then data-cache set locks, then i-cache set locks,
// then lower-level set locks, then phys stripes. The hit path takes a
// single set lock and nothing else.
type Bus struct {
	mu sync.Mutex

	data    []*Cache
	icaches []*Cache

	watchMu  sync.Mutex
	storeFns []func(pa uint64, size int)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) register(c *Cache) {
	if c.kind == KindI {
		b.icaches = append(b.icaches, c)
	} else {
		b.data = append(b.data, c)
	}
}

// WatchStores registers a callback fired after every store that reaches a
// registered cache, at line granularity. Used to kill LL/SC reservations.
// Callbacks must not take cache or bus locks.
func (b *Bus) WatchStores(f func(pa uint64, size int)) {
	b.watchMu.Lock()
	b.storeFns = append(b.storeFns, f)
	b.watchMu.Unlock()
}

// probe peers for a fill or upgrade. Remote Modified copies are written
// back and downgraded (read) or invalidated (write). Returns whether any
// peer still holds the line. Called with b.mu held.
func (b *Bus) probe(requester *Cache, lineAddr uint64, write bool) (bool, error) {
	shared := false
	for _, c := range b.data {
		if c == requester {
			continue
		}
		held, err := c.peerProbe(lineAddr, write)
		if err != nil {
			return shared, err
		}
		if held && !write {
			shared = true
		}
	}
	return shared, nil
}

// storeDone runs after a store lands in a data cache: stale I-cache lines
// anywhere (the writer's own included) are shot down, and reservation
// watchers run.
func (b *Bus) storeDone(from *Cache, pa uint64) {
	for _, ic := range b.icaches {
		ic.InvalidateLine(pa)
	}
	b.watchMu.Lock()
	fns := b.storeFns
	b.watchMu.Unlock()
	for _, f := range fns {
		f(pa, from.lineSize)
	}
}

// InvalidateICaches implements IMB for one cpu.
func (b *Bus) InvalidateICaches(cpu int) {
	for _, ic := range b.icaches {
		if ic.cpu == cpu {
			ic.InvalidateAll()
		}
	}
}

// FlushPrivate writes back and drops every private line. Used when
// something below the caches (DMA, snapshot restore) rewrites RAM.
func (b *Bus) FlushPrivate() error {
	for _, c := range b.data {
		if err := c.FlushAll(); err != nil {
			return err
		}
	}
	for _, ic := range b.icaches {
		ic.InvalidateAll()
	}
	return nil
}
