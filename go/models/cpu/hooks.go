package cpu

import (
	"github.com/pkg/errors"
)

// one subscription; start > end means "any address"
type hook struct {
	htype      int
	start, end uint64
	cb         interface{}
}

func (h *hook) contains(addr uint64) bool {
	return h.start > h.end || addr >= h.start && addr <= h.end
}

// Hooks fans instrumentation events out to subscribers. The interpreter
// calls the On* methods inline on its hot path, so dispatch is a slice walk
// with no allocation.
type Hooks struct {
	cpu Cpu

	code []*hook
	intr []*hook
	mem  []*hook
}

func NewHooks(cpu Cpu) *Hooks {
	return &Hooks{cpu: cpu}
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start uint64, end uint64, extra ...int) (Hook, error) {
	hh := &hook{htype, start, end, cb}
	switch htype {
	case HOOK_CODE:
		if _, ok := cb.(func(Cpu, uint64, uint32)); !ok {
			return nil, errors.Errorf("bad code hook callback: %T", cb)
		}
		h.code = append(h.code, hh)

	case HOOK_INTR:
		if _, ok := cb.(func(Cpu, uint32)); !ok {
			return nil, errors.Errorf("bad interrupt hook callback: %T", cb)
		}
		h.intr = append(h.intr, hh)

	case HOOK_MEM_READ, HOOK_MEM_WRITE, HOOK_MEM_READ | HOOK_MEM_WRITE:
		if _, ok := cb.(func(Cpu, int, uint64, int, int64)); !ok {
			return nil, errors.Errorf("bad memory hook callback: %T", cb)
		}
		h.mem = append(h.mem, hh)

	default:
		return nil, errors.Errorf("unknown hook type %d", htype)
	}
	return hh, nil
}

func removeHook(list []*hook, hh Hook) []*hook {
	var out []*hook
	for _, v := range list {
		if v != hh {
			out = append(out, v)
		}
	}
	return out
}

func (h *Hooks) HookDel(hh Hook) error {
	v, ok := hh.(*hook)
	if !ok {
		return errors.New("not a hook")
	}
	switch v.htype {
	case HOOK_CODE:
		h.code = removeHook(h.code, hh)
	case HOOK_INTR:
		h.intr = removeHook(h.intr, hh)
	default:
		h.mem = removeHook(h.mem, hh)
	}
	return nil
}

func (h *Hooks) OnCode(addr uint64, size uint32) {
	for _, v := range h.code {
		if v.contains(addr) {
			v.cb.(func(Cpu, uint64, uint32))(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnIntr(intno uint32) {
	for _, v := range h.intr {
		v.cb.(func(Cpu, uint32))(h.cpu, intno)
	}
}

// OnMem respects the read/write selectivity of each subscription.
func (h *Hooks) OnMem(access int, addr uint64, size int, val int64) {
	for _, v := range h.mem {
		if !v.contains(addr) {
			continue
		}
		if access == MEM_READ && v.htype&HOOK_MEM_READ == 0 {
			continue
		}
		if access == MEM_WRITE && v.htype&HOOK_MEM_WRITE == 0 {
			continue
		}
		v.cb.(func(Cpu, int, uint64, int, int64))(h.cpu, access, addr, size, val)
	}
}
