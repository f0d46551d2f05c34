package cpu

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func callAll(h *Hooks) {
	h.OnCode(0x1001, 4)
	h.OnIntr(3)
	h.OnMem(MEM_READ, 0x1002, 4, 0x55)
	h.OnMem(MEM_WRITE, 0x1003, 8, -2)
}

// this test ensures it's safe to dispatch all hooks while empty
func TestHooksEmpty(t *testing.T) {
	callAll(NewHooks(nil))
}

// checks if two lists of strings are equal
func strseq(a []string, b []string) error {
	if len(a) != len(b) {
		return errors.Errorf("output list length mismatch: %v != %v", a, b)
	}
	for i, v := range a {
		if v != b[i] {
			return errors.Errorf("output list value mismatch: %s != %s", v, b[i])
		}
	}
	return nil
}

func TestHooks(t *testing.T) {
	h := NewHooks(nil)
	compare := []string{
		"code(0x1001, 0x4)", "intr(3)",
		"mem(17, 0x1002, 4, 0x55)", "mem(16, 0x1003, 8, -0x2)",
	}
	var results []string
	codeCb := func(_ Cpu, addr uint64, size uint32) {
		results = append(results, fmt.Sprintf("code(%#x, %#x)", addr, size))
	}
	intrCb := func(_ Cpu, intno uint32) {
		results = append(results, fmt.Sprintf("intr(%d)", intno))
	}
	memCb := func(_ Cpu, access int, addr uint64, size int, val int64) {
		results = append(results, fmt.Sprintf("mem(%d, %#x, %d, %#x)", access, addr, size, val))
	}
	var hooks []Hook
	add := func(htype int, cb interface{}) {
		hh, err := h.HookAdd(htype, cb, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		hooks = append(hooks, hh)
	}
	add(HOOK_CODE, codeCb)
	add(HOOK_INTR, intrCb)
	add(HOOK_MEM_READ|HOOK_MEM_WRITE, memCb)

	callAll(h)
	if err := strseq(results, compare); err != nil {
		t.Fatal(err)
	}

	// hooks removed must not fire again
	for _, hh := range hooks {
		if err := h.HookDel(hh); err != nil {
			t.Fatal(err)
		}
	}
	results = nil
	callAll(h)
	if len(results) > 0 {
		t.Fatalf("deleted hooks fired: %v", results)
	}
}

// a read-only subscription must not see writes
func TestMemHookDirection(t *testing.T) {
	h := NewHooks(nil)
	var seen []int
	cb := func(_ Cpu, access int, addr uint64, size int, val int64) {
		seen = append(seen, access)
	}
	if _, err := h.HookAdd(HOOK_MEM_READ, cb, 1, 0); err != nil {
		t.Fatal(err)
	}
	h.OnMem(MEM_WRITE, 0x1000, 4, 1)
	h.OnMem(MEM_READ, 0x1000, 4, 1)
	if len(seen) != 1 || seen[0] != MEM_READ {
		t.Fatalf("seen = %v", seen)
	}
}

// a callback of the wrong shape must be rejected up front
func TestHookBadCallback(t *testing.T) {
	h := NewHooks(nil)
	if _, err := h.HookAdd(HOOK_CODE, func() {}, 1, 0); err == nil {
		t.Fatal("expected error")
	}
	if _, err := h.HookAdd(12345, func() {}, 1, 0); err == nil {
		t.Fatal("expected error")
	}
}

// hooks outside their range must not fire
func TestHookRange(t *testing.T) {
	h := NewHooks(nil)
	fired := 0
	cb := func(_ Cpu, addr uint64, size uint32) {
		fired++
	}
	if _, err := h.HookAdd(HOOK_CODE, cb, 0x2000, 0x2fff); err != nil {
		t.Fatal(err)
	}
	h.OnCode(0x1000, 4)
	h.OnCode(0x2000, 4)
	h.OnCode(0x2fff, 4)
	h.OnCode(0x3000, 4)
	if fired != 2 {
		t.Fatalf("expected 2 hook hits, got %d", fired)
	}
}
