package cache

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/lunixbochs/alphacorn/go/mem"
	"github.com/lunixbochs/alphacorn/go/models"
)

// MESI line states
type State uint8

const (
	Invalid State = iota
	Shared
	Exclusive
	Modified
)

func (s State) String() string {
	return [...]string{"I", "S", "E", "M"}[s]
}

type Kind int

const (
	KindI Kind = iota
	KindD
	KindUnified
)

type Stats struct {
	Hits          uint64
	Misses        uint64
	Writebacks    uint64
	Invalidations uint64
}

type line struct {
	tag   uint64 // line address (pa >> lineShift), valid iff state != Invalid
	state State
	data  []byte
	tick  uint64
}

// Cache is one set-associative level. It implements mem.Backend so levels
// stack: L1 -> L2 -> L3 -> Phys. The hit path takes only the set lock;
// misses and upgrades run as bus transactions (bus lock first, then set
// locks) so cross-cpu fills never deadlock.
type Cache struct {
	Name string
	kind Kind
	cpu  int

	sets      int
	ways      int
	lineSize  int
	lineShift uint
	setMask   uint64
	random    bool

	mu    []sync.Mutex
	lines [][]line
	tick  uint64
	rnd   uint32

	next mem.Backend
	bus  *Bus

	statMu sync.Mutex
	stats  Stats
}

func New(name string, cfg models.CacheLevelConfig, lineSize int, kind Kind, cpu int, next mem.Backend, bus *Bus) *Cache {
	shift := uint(0)
	for 1<<shift < lineSize {
		shift++
	}
	c := &Cache{
		Name:      name,
		kind:      kind,
		cpu:       cpu,
		sets:      cfg.Sets,
		ways:      cfg.Ways,
		lineSize:  lineSize,
		lineShift: shift,
		setMask:   uint64(cfg.Sets - 1),
		random:    cfg.Policy == models.PolicyRandom,
		mu:        make([]sync.Mutex, cfg.Sets),
		lines:     make([][]line, cfg.Sets),
		rnd:       0x2545f491,
		next:      next,
		bus:       bus,
	}
	for i := range c.lines {
		ways := make([]line, cfg.Ways)
		for j := range ways {
			ways[j].data = make([]byte, lineSize)
		}
		c.lines[i] = ways
	}
	if bus != nil {
		bus.register(c)
	}
	return c
}

func (c *Cache) LineSize() int {
	return c.lineSize
}

func (c *Cache) Stats() Stats {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.stats
}

func (c *Cache) count(hit bool) {
	c.statMu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.statMu.Unlock()
}

func (c *Cache) set(lineAddr uint64) int {
	return int(lineAddr & c.setMask)
}

// caller holds the set lock
func (c *Cache) find(set int, lineAddr uint64) *line {
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.state != Invalid && l.tag == lineAddr {
			return l
		}
	}
	return nil
}

// caller holds the set lock
func (c *Cache) touch(l *line) {
	c.tick++
	l.tick = c.tick
}

// xorshift; cheap and good enough for the random policy
func (c *Cache) nextRand() uint32 {
	x := c.rnd
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	c.rnd = x
	return x
}

// pick a victim way. caller holds the set lock.
func (c *Cache) victim(set int) *line {
	ways := c.lines[set]
	for i := range ways {
		if ways[i].state == Invalid {
			return &ways[i]
		}
	}
	if c.random {
		return &ways[c.nextRand()%uint32(len(ways))]
	}
	best := &ways[0]
	for i := range ways {
		if ways[i].tick < best.tick {
			best = &ways[i]
		}
	}
	return best
}

// write a Modified victim down one level. caller holds the set lock.
func (c *Cache) writeback(l *line) error {
	if l.state != Modified {
		return nil
	}
	c.statMu.Lock()
	c.stats.Writebacks++
	c.statMu.Unlock()
	return c.next.WriteBytes(l.tag<<c.lineShift, l.data)
}

// ReadBytes implements mem.Backend. The access may span lines.
func (c *Cache) ReadBytes(pa uint64, p []byte) error {
	for len(p) > 0 {
		off := pa & (uint64(c.lineSize) - 1)
		n := c.lineSize - int(off)
		if n > len(p) {
			n = len(p)
		}
		if err := c.access(pa>>c.lineShift, int(off), p[:n], false); err != nil {
			return err
		}
		pa += uint64(n)
		p = p[n:]
	}
	return nil
}

// WriteBytes implements mem.Backend.
func (c *Cache) WriteBytes(pa uint64, p []byte) error {
	for len(p) > 0 {
		off := pa & (uint64(c.lineSize) - 1)
		n := c.lineSize - int(off)
		if n > len(p) {
			n = len(p)
		}
		if err := c.access(pa>>c.lineShift, int(off), p[:n], true); err != nil {
			return err
		}
		pa += uint64(n)
		p = p[n:]
	}
	return nil
}

func (c *Cache) access(lineAddr uint64, off int, p []byte, write bool) error {
	set := c.set(lineAddr)

	// fast path: hit needing no state change
	c.mu[set].Lock()
	if l := c.find(set, lineAddr); l != nil {
		if !write {
			copy(p, l.data[off:])
			c.touch(l)
			c.mu[set].Unlock()
			c.count(true)
			return nil
		}
		if l.state == Modified || l.state == Exclusive {
			copy(l.data[off:], p)
			l.state = Modified
			c.touch(l)
			c.mu[set].Unlock()
			c.count(true)
			c.notifyStore(lineAddr)
			return nil
		}
		// Shared write needs a bus upgrade
	}
	c.mu[set].Unlock()

	// slow path: miss or upgrade, serialized on the bus
	err := c.transaction(lineAddr, set, off, p, write)
	if err == nil && write {
		c.notifyStore(lineAddr)
	}
	return err
}

func (c *Cache) transaction(lineAddr uint64, set, off int, p []byte, write bool) error {
	if c.bus != nil {
		c.bus.mu.Lock()
		defer c.bus.mu.Unlock()
	}
	var shared bool
	if c.bus != nil {
		// remote Modified copies are written back and downgraded here,
		// so the line fetched below is current
		var err error
		if shared, err = c.bus.probe(c, lineAddr, write); err != nil {
			return err
		}
	}

	c.mu[set].Lock()
	defer c.mu[set].Unlock()

	l := c.find(set, lineAddr)
	if l == nil {
		l = c.victim(set)
		if err := c.writeback(l); err != nil {
			return err
		}
		l.state = Invalid
		if err := c.next.ReadBytes(lineAddr<<c.lineShift, l.data); err != nil {
			return errors.Wrap(err, c.Name+" fill")
		}
		l.tag = lineAddr
		if shared && !write {
			l.state = Shared
		} else {
			l.state = Exclusive
		}
		c.count(false)
	} else {
		c.count(true)
	}
	c.touch(l)
	if write {
		copy(l.data[off:], p)
		l.state = Modified
	} else {
		copy(p, l.data[off:])
	}
	return nil
}

func (c *Cache) notifyStore(lineAddr uint64) {
	if c.bus != nil {
		c.bus.storeDone(c, lineAddr<<c.lineShift)
	}
}

// peerProbe handles a remote access to lineAddr. Called with the bus lock
// held by the requesting transaction.
func (c *Cache) peerProbe(lineAddr uint64, write bool) (held bool, err error) {
	set := c.set(lineAddr)
	c.mu[set].Lock()
	defer c.mu[set].Unlock()
	l := c.find(set, lineAddr)
	if l == nil {
		return false, nil
	}
	if l.state == Modified {
		// leave the line Modified on failure so the data is not lost
		if err := c.writeback(l); err != nil {
			return true, err
		}
	}
	if write {
		l.state = Invalid
		c.statMu.Lock()
		c.stats.Invalidations++
		c.statMu.Unlock()
	} else {
		l.state = Shared
	}
	return true, nil
}

// InvalidateLine drops a line without writeback; used for I-cache shootdown
// on self-modifying code.
func (c *Cache) InvalidateLine(pa uint64) {
	lineAddr := pa >> c.lineShift
	set := c.set(lineAddr)
	c.mu[set].Lock()
	if l := c.find(set, lineAddr); l != nil {
		l.state = Invalid
		c.statMu.Lock()
		c.stats.Invalidations++
		c.statMu.Unlock()
	}
	c.mu[set].Unlock()
}

// InvalidateAll drops every line without writeback (IMB on an I-cache).
func (c *Cache) InvalidateAll() {
	for set := range c.lines {
		c.mu[set].Lock()
		for i := range c.lines[set] {
			c.lines[set][i].state = Invalid
		}
		c.mu[set].Unlock()
	}
}

// FlushAll writes back every Modified line and invalidates. Used before
// snapshots so RAM is current.
func (c *Cache) FlushAll() error {
	for set := range c.lines {
		c.mu[set].Lock()
		for i := range c.lines[set] {
			l := &c.lines[set][i]
			if err := c.writeback(l); err != nil {
				c.mu[set].Unlock()
				return err
			}
			l.state = Invalid
		}
		c.mu[set].Unlock()
	}
	return nil
}

// state of a line for invariant checks
func (c *Cache) lineState(pa uint64) State {
	lineAddr := pa >> c.lineShift
	set := c.set(lineAddr)
	c.mu[set].Lock()
	defer c.mu[set].Unlock()
	if l := c.find(set, lineAddr); l != nil {
		return l.state
	}
	return Invalid
}
