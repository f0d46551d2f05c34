package models

import (
	"github.com/pkg/errors"
)

// replacement policies understood by the cache hierarchy
const (
	PolicyLRU    = "lru"
	PolicyRandom = "random"
)

type CacheLevelConfig struct {
	Sets int
	Ways int
	// PolicyLRU or PolicyRandom
	Policy string
}

type CacheConfig struct {
	// bytes per line, power of two
	LineSize int
	// Levels[0] configures the per-cpu L1 (both I and D),
	// Levels[1] the shared L2, Levels[2] the shared L3
	Levels []CacheLevelConfig
}

type TlbConfig struct {
	ITBEntries int
	DTBEntries int
	// page sizes in bytes, subset of 8K/64K/512K/4M
	PageSizes []int
}

type ExecConfig struct {
	StrictAlignment bool
	// bounds STx_C retry loops observed by the lock-flag bookkeeping
	SCAttemptsMax int
}

type MMIOConfig struct {
	// unclaimed accesses raise a bus error instead of read-ones/write-drop
	Strict bool
	// device timer cadence in cycles, consumed by device back-ends
	TimerInterval int
}

type JitConfig struct {
	Enabled bool
	// block heat before a translation is requested
	HotThreshold int
}

type Config struct {
	// cpu model name: EV4 EV5 EV56 PCA56 EV6 EV67 EV68 EV7 EV78
	Model string
	Cpus  int

	RamSize uint64

	Cache CacheConfig
	Tlb   TlbConfig
	Exec  ExecConfig
	MMIO  MMIOConfig
	Jit   JitConfig

	TraceExec bool
	TraceMem  bool
	TraceReg  bool
	Verbose   bool
}

var validPageSizes = map[int]bool{
	8 << 10: true, 64 << 10: true, 512 << 10: true, 4 << 20: true,
}

// Init fills defaults and validates. It is called before any machine state is
// allocated so a bad config never produces a half-built machine.
func (c *Config) Init() error {
	if c.Model == "" {
		c.Model = "EV6"
	}
	if c.Cpus == 0 {
		c.Cpus = 1
	}
	if c.RamSize == 0 {
		c.RamSize = 128 << 20
	}
	if c.Cache.LineSize == 0 {
		c.Cache.LineSize = 64
	}
	if c.Cache.LineSize&(c.Cache.LineSize-1) != 0 {
		return errors.Errorf("cache line size %d is not a power of two", c.Cache.LineSize)
	}
	if len(c.Cache.Levels) == 0 {
		c.Cache.Levels = []CacheLevelConfig{
			{Sets: 64, Ways: 2, Policy: PolicyLRU},
			{Sets: 512, Ways: 4, Policy: PolicyLRU},
			{Sets: 2048, Ways: 8, Policy: PolicyLRU},
		}
	}
	for i := range c.Cache.Levels {
		l := &c.Cache.Levels[i]
		if l.Policy == "" {
			l.Policy = PolicyLRU
		}
		if l.Policy != PolicyLRU && l.Policy != PolicyRandom {
			return errors.Errorf("unknown cache policy %q", l.Policy)
		}
		if l.Sets <= 0 || l.Sets&(l.Sets-1) != 0 {
			return errors.Errorf("cache level %d: sets %d not a power of two", i, l.Sets)
		}
		if l.Ways <= 0 {
			return errors.Errorf("cache level %d: bad ways %d", i, l.Ways)
		}
	}
	if c.Tlb.ITBEntries == 0 {
		c.Tlb.ITBEntries = 48
	}
	if c.Tlb.DTBEntries == 0 {
		c.Tlb.DTBEntries = 64
	}
	if len(c.Tlb.PageSizes) == 0 {
		c.Tlb.PageSizes = []int{8 << 10, 64 << 10, 512 << 10, 4 << 20}
	}
	for _, size := range c.Tlb.PageSizes {
		if !validPageSizes[size] {
			return errors.Errorf("unsupported page size %d", size)
		}
	}
	if c.Exec.SCAttemptsMax == 0 {
		c.Exec.SCAttemptsMax = 1000
	}
	if c.Jit.HotThreshold == 0 {
		c.Jit.HotThreshold = 50
	}
	return nil
}
