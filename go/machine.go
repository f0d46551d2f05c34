package alphacorn

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lunixbochs/alphacorn/go/arch/alpha"
	"github.com/lunixbochs/alphacorn/go/cache"
	acpu "github.com/lunixbochs/alphacorn/go/cpu/alpha"
	"github.com/lunixbochs/alphacorn/go/jit"
	"github.com/lunixbochs/alphacorn/go/mem"
	"github.com/lunixbochs/alphacorn/go/models"
	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

// interrupts with an IPL at or above this are never masked by devices;
// vectors carry the OSF/1 a0 convention (0 ipi, 1 clock, 3 device)
const deviceIPL = 20

const (
	VecIPI    = 0
	VecClock  = 1
	VecDevice = 3
)

// Machine owns the physical side of the emulated system: RAM, the cache
// hierarchy, the MMIO router and the per-cpu cores. Everything a cpu core
// needs from the outside world goes through its cpuSys shim.
type Machine struct {
	config *models.Config
	arch   *models.Arch

	phys   *mem.Phys
	router *mem.Router
	bus    *cache.Bus
	l2, l3 *cache.Cache

	cpus []*cpuSys

	// block cache when jit is enabled; no translator is registered by
	// default, so it only tracks heat and invalidations
	jit *jit.Cache

	// serializes conditional stores across cores
	scMu sync.Mutex

	stop int32
}

// cpuSys binds one core to the shared machine. It implements the System
// contract the interpreter runs against.
type cpuSys struct {
	m   *Machine
	id  int
	cpu *acpu.AlphaCpu

	l1d *cache.Cache
	l1i *cache.Cache

	// line address << 1 | 1 while a LL reservation is held
	res uint64
	// consecutive failed conditional stores, bounded by Exec.SCAttemptsMax
	scFails int

	cycles uint64

	intrMu  sync.Mutex
	pending []uint32
}

func NewMachine(conf *models.Config) (*Machine, error) {
	if conf == nil {
		conf = &models.Config{}
	}
	if err := conf.Init(); err != nil {
		return nil, err
	}
	phys, err := mem.NewPhys(conf.RamSize)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		config: conf,
		arch:   alpha.Arch,
		phys:   phys,
		router: mem.NewRouter(conf.MMIO.Strict),
		bus:    cache.NewBus(),
	}

	line := conf.Cache.LineSize
	levels := conf.Cache.Levels
	var below mem.Backend = phys
	if len(levels) > 2 {
		m.l3 = cache.New("l3", levels[2], line, cache.KindUnified, -1, below, nil)
		below = m.l3
	}
	if len(levels) > 1 {
		m.l2 = cache.New("l2", levels[1], line, cache.KindUnified, -1, below, nil)
		below = m.l2
	}

	for i := 0; i < conf.Cpus; i++ {
		s := &cpuSys{m: m, id: i}
		s.l1d = cache.New("l1d", levels[0], line, cache.KindD, i, below, m.bus)
		s.l1i = cache.New("l1i", levels[0], line, cache.KindI, i, below, m.bus)
		core, err := acpu.NewCpu(s, i, conf)
		if err != nil {
			return nil, err
		}
		s.cpu = core
		m.cpus = append(m.cpus, s)
	}
	m.bus.WatchStores(m.killReservations)
	if conf.Jit.Enabled {
		m.jit = jit.NewCache(nil, conf)
		m.bus.WatchStores(m.jit.InvalidateRange)
	}
	return m, nil
}

// Jit exposes the block cache, nil unless enabled in config.
func (m *Machine) Jit() *jit.Cache {
	return m.jit
}

func (m *Machine) Config() *models.Config { return m.config }
func (m *Machine) Arch() *models.Arch    { return m.arch }
func (m *Machine) NumCpus() int          { return len(m.cpus) }

func (m *Machine) Cpu(i int) cpu.Cpu {
	return m.cpus[i].cpu
}

// Core exposes the concrete cpu for the monitor and tests.
func (m *Machine) Core(i int) *acpu.AlphaCpu {
	return m.cpus[i].cpu
}

func (m *Machine) CacheStats(i int) (l1d, l1i cache.Stats) {
	return m.cpus[i].l1d.Stats(), m.cpus[i].l1i.Stats()
}

func (m *Machine) SharedCacheStats() (l2, l3 cache.Stats) {
	if m.l2 != nil {
		l2 = m.l2.Stats()
	}
	if m.l3 != nil {
		l3 = m.l3.Stats()
	}
	return
}

// StepOne executes a single instruction on one cpu in the calling
// goroutine. The monitor single-steps through this.
func (m *Machine) StepOne(i int) error {
	s := m.cpus[i]
	err := s.cpu.Step()
	atomic.AddUint64(&s.cycles, 1)
	return err
}

func (m *Machine) Stop() {
	atomic.StoreInt32(&m.stop, 1)
	for _, s := range m.cpus {
		s.cpu.Stop()
	}
}

func (m *Machine) InjectInterrupt(i int, vector uint32) error {
	if i < 0 || i >= len(m.cpus) {
		return errors.Errorf("no cpu %d", i)
	}
	s := m.cpus[i]
	s.intrMu.Lock()
	s.pending = append(s.pending, vector)
	s.intrMu.Unlock()
	return nil
}

func (m *Machine) AttachMMIO(start, end uint64, h models.MMIOHandler) error {
	return m.router.Attach(start, end, h)
}

// PhysRead bypasses the cpu datapath but not coherence: private dirty
// lines are flushed first so the bytes seen match what the guest sees.
func (m *Machine) PhysRead(addr uint64, p []byte) error {
	if err := m.bus.FlushPrivate(); err != nil {
		return err
	}
	if err := m.flushShared(); err != nil {
		return err
	}
	return m.phys.ReadBytes(addr, p)
}

func (m *Machine) PhysWrite(addr uint64, p []byte) error {
	if err := m.bus.FlushPrivate(); err != nil {
		return err
	}
	if err := m.flushShared(); err != nil {
		return err
	}
	return m.phys.WriteBytes(addr, p)
}

func (m *Machine) flushShared() error {
	if m.l2 != nil {
		if err := m.l2.FlushAll(); err != nil {
			return err
		}
	}
	if m.l3 != nil {
		return m.l3.FlushAll()
	}
	return nil
}

// MarkROM write-protects a physical range once firmware has been loaded
// into it. Stores reaching RAM in the range are dropped.
func (m *Machine) MarkROM(start, end uint64) {
	m.phys.MarkROM(start, end)
}

func (m *Machine) Dis(i int, addr uint64, count int) ([]models.Ins, error) {
	buf := make([]byte, count*4)
	if err := m.PhysRead(addr, buf); err != nil {
		return nil, err
	}
	var d acpu.Dis
	return d.Dis(buf, addr)
}

// killReservations runs on the bus store path and drops any LL reservation
// covering the stored line. Lock-free: reservations are single words.
func (m *Machine) killReservations(pa uint64, size int) {
	line := pa >> m.lineShift()
	for _, s := range m.cpus {
		r := atomic.LoadUint64(&s.res)
		if r&1 != 0 && r>>1 == line {
			atomic.CompareAndSwapUint64(&s.res, r, 0)
		}
	}
}

func (m *Machine) lineShift() uint {
	shift := uint(0)
	for 1<<shift < m.config.Cache.LineSize {
		shift++
	}
	return shift
}

// System implementation

func (s *cpuSys) MemRead(pa uint64, size int) (uint64, error) {
	if s.m.router.Claims(pa) {
		return s.m.router.Read(pa, size)
	}
	var buf [8]byte
	if err := s.l1d.ReadBytes(pa, buf[:size]); err != nil {
		return 0, err
	}
	return cpu.UnpackUint(binary.LittleEndian, size, buf[:size])
}

func (s *cpuSys) MemWrite(pa uint64, size int, val uint64) error {
	if s.m.router.Claims(pa) {
		return s.m.router.Write(pa, size, val)
	}
	var buf [8]byte
	packed, err := cpu.PackUint(binary.LittleEndian, size, buf[:], val)
	if err != nil {
		return err
	}
	return s.l1d.WriteBytes(pa, packed)
}

func (s *cpuSys) Fetch(pa uint64) (uint32, error) {
	if s.m.router.Claims(pa) {
		// no execution out of device space
		return 0, &models.Fault{Kind: models.FaultBusError, VA: pa}
	}
	var buf [4]byte
	if err := s.l1i.ReadBytes(pa, buf[:]); err != nil {
		return 0, err
	}
	if s.m.jit != nil {
		// heat only: no translator is registered, so the artifact is nil
		// and the code closure is never invoked
		s.m.jit.Touch(pa, s.cpu.Get(acpu.ITB_ASN), func() ([]byte, error) {
			code := make([]byte, 4)
			copy(code, buf[:])
			return code, nil
		})
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadQuad feeds the page walker straight from RAM. Table updates made
// through the data caches are visible because the walk happens under a TLB
// miss, after the writing store already reached the coherence bus.
func (s *cpuSys) ReadQuad(pa uint64) (uint64, error) {
	var buf [8]byte
	if err := s.l1d.ReadBytes(pa&^7, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (s *cpuSys) LoadLocked(pa uint64, size int) (uint64, error) {
	// arm before reading so a store racing the load kills the reservation
	atomic.StoreUint64(&s.res, pa>>s.m.lineShift()<<1|1)
	val, err := s.MemRead(pa, size)
	if err != nil {
		atomic.StoreUint64(&s.res, 0)
		return 0, err
	}
	return val, nil
}

// StoreConditional publishes the store only if the reservation survived.
// scMu serializes conditional stores machine-wide so two cores racing the
// same line cannot both win; plain stores stay unserialized and invalidate
// through the bus watch instead.
func (s *cpuSys) StoreConditional(pa uint64, size int, val uint64) (bool, error) {
	s.m.scMu.Lock()
	defer s.m.scMu.Unlock()
	want := pa>>s.m.lineShift()<<1 | 1
	if atomic.LoadUint64(&s.res) != want {
		atomic.StoreUint64(&s.res, 0)
		s.scFails++
		if max := s.m.config.Exec.SCAttemptsMax; max > 0 && s.scFails >= max {
			return false, errors.Errorf("cpu %d: %d consecutive failed conditional stores", s.id, s.scFails)
		}
		return false, nil
	}
	atomic.StoreUint64(&s.res, 0)
	s.scFails = 0
	return true, s.MemWrite(pa, size, val)
}

func (s *cpuSys) ClearReservation() {
	atomic.StoreUint64(&s.res, 0)
}

func (s *cpuSys) PollInterrupt(ipl int) (uint32, bool) {
	if ipl >= deviceIPL {
		return 0, false
	}
	s.intrMu.Lock()
	defer s.intrMu.Unlock()
	if len(s.pending) == 0 {
		return 0, false
	}
	vec := s.pending[0]
	s.pending = s.pending[1:]
	return vec, true
}

func (s *cpuSys) IPI(target uint64) error {
	return s.m.InjectInterrupt(int(target), VecIPI)
}

func (s *cpuSys) Cycles() uint64 {
	return atomic.LoadUint64(&s.cycles)
}

func (s *cpuSys) SyncICache() {
	s.m.bus.InvalidateICaches(s.id)
	if s.m.jit != nil {
		s.m.jit.InvalidateAll()
	}
}
