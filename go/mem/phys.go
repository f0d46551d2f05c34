package mem

import (
	"sync"

	"github.com/pkg/errors"
)

// physical addresses are 64-bit but capped at 48 effective bits
const PhysBits = 48
const physMask = uint64(1)<<PhysBits - 1

// pages for lock striping; unrelated to guest MMU pages
const stripeShift = 13

// Backend is the contract between the cache hierarchy and whatever sits
// below it.
type Backend interface {
	ReadBytes(phys uint64, p []byte) error
	WriteBytes(phys uint64, p []byte) error
}

// Phys is flat guest RAM, shared between all CPUs. Accesses take per-stripe
// read-write locks so concurrent cache fills and writebacks to distinct
// pages do not serialize.
type Phys struct {
	data    []byte
	stripes []sync.RWMutex

	romMu sync.RWMutex
	rom   []romRegion
}

type romRegion struct {
	start, end uint64
}

func NewPhys(size uint64) (*Phys, error) {
	if size == 0 || size > physMask+1 {
		return nil, errors.Errorf("bad ram size %#x", size)
	}
	n := (size >> stripeShift) + 1
	return &Phys{
		data:    make([]byte, size),
		stripes: make([]sync.RWMutex, n),
	}, nil
}

func (m *Phys) Size() uint64 {
	return uint64(len(m.data))
}

func (m *Phys) check(addr uint64, n int) error {
	if addr&^physMask != 0 || addr+uint64(n) > uint64(len(m.data)) {
		return errors.Errorf("physical access out of range: %#x(%d)", addr, n)
	}
	return nil
}

// lock every stripe [addr, addr+n) touches, in order
func (m *Phys) each(addr uint64, n int, f func(mu *sync.RWMutex)) {
	first := addr >> stripeShift
	last := (addr + uint64(n) - 1) >> stripeShift
	for i := first; i <= last; i++ {
		f(&m.stripes[i])
	}
}

func (m *Phys) ReadBytes(addr uint64, p []byte) error {
	if err := m.check(addr, len(p)); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	m.each(addr, len(p), func(mu *sync.RWMutex) { mu.RLock() })
	copy(p, m.data[addr:])
	m.each(addr, len(p), func(mu *sync.RWMutex) { mu.RUnlock() })
	return nil
}

func (m *Phys) WriteBytes(addr uint64, p []byte) error {
	if err := m.check(addr, len(p)); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	m.romMu.RLock()
	for _, r := range m.rom {
		if addr <= r.end && addr+uint64(len(p)) > r.start {
			m.romMu.RUnlock()
			// firmware is write-protected; drop silently
			return nil
		}
	}
	m.romMu.RUnlock()
	m.each(addr, len(p), func(mu *sync.RWMutex) { mu.Lock() })
	copy(m.data[addr:], p)
	m.each(addr, len(p), func(mu *sync.RWMutex) { mu.Unlock() })
	return nil
}

// MarkROM write-protects [start, end] after firmware has been loaded.
func (m *Phys) MarkROM(start, end uint64) {
	m.romMu.Lock()
	m.rom = append(m.rom, romRegion{start, end})
	m.romMu.Unlock()
}

// Data exposes the raw array for snapshots. Callers must quiesce the
// machine first.
func (m *Phys) Data() []byte {
	return m.data
}
