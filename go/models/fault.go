package models

import "fmt"

// FaultKind enumerates the architected guest faults. These travel as error
// values from the memory system and interpreter up to the run loop, which
// converts them into a PAL entry instead of unwinding host frames.
type FaultKind int

const (
	FaultNone FaultKind = iota
	// translation not valid (invalid PTE on the walk)
	FaultTNV
	// access violation: mode or R/W/X permission, non-canonical VA,
	// unaligned PC at fetch
	FaultACV
	// software-managed reference/dirty faults
	FaultFOR
	FaultFOW
	FaultFOE
	// natural-alignment violation on a data access
	FaultAlign
	FaultRsvdOpcode
	FaultPriv
	// arithmetic trap, Summary holds the cause bits
	FaultArith
	// FP instruction with FP disabled in PS
	FaultFEN
	FaultMchk
	// MMIO strict-mode bus error
	FaultBusError
	FaultBpt
	FaultBugchk
	FaultSyscall
	FaultGentrap
	FaultInterrupt
)

var faultNames = map[FaultKind]string{
	FaultTNV:        "translation not valid",
	FaultACV:        "access violation",
	FaultFOR:        "fault on read",
	FaultFOW:        "fault on write",
	FaultFOE:        "fault on execute",
	FaultAlign:      "alignment",
	FaultRsvdOpcode: "reserved opcode",
	FaultPriv:       "privileged instruction",
	FaultArith:      "arithmetic trap",
	FaultFEN:        "floating disabled",
	FaultMchk:       "machine check",
	FaultBusError:   "bus error",
	FaultBpt:        "breakpoint",
	FaultBugchk:     "bugcheck",
	FaultSyscall:    "system call",
	FaultGentrap:    "gentrap",
	FaultInterrupt:  "interrupt",
}

// MM_STAT cause bits reported alongside memory faults
const (
	MMWr    = 1 << 0
	MMAcv   = 1 << 1
	MMFor   = 1 << 2
	MMFow   = 1 << 3
	MMTnv   = 1 << 4
	MMBadVa = 1 << 5
)

// arithmetic trap summary bits, written to the exception summary register
const (
	ArithSWC = 1 << 0 // software completion
	ArithINV = 1 << 1 // invalid operation
	ArithDZE = 1 << 2 // divide by zero
	ArithOVF = 1 << 3 // fp overflow
	ArithUNF = 1 << 4 // fp underflow
	ArithINE = 1 << 5 // inexact
	ArithIOV = 1 << 6 // integer overflow
)

type Fault struct {
	Kind FaultKind
	// faulting virtual address, valid for memory faults
	VA uint64
	// MM_STAT cause bits for memory faults
	MMStat uint64
	// arithmetic trap summary (ArithXXX bits)
	Summary uint64
	// destination register mask for arithmetic traps
	RegMask uint64
	// interrupt vector for FaultInterrupt
	Vector uint32
}

func (f *Fault) Error() string {
	name, ok := faultNames[f.Kind]
	if !ok {
		name = fmt.Sprintf("fault %d", f.Kind)
	}
	if f.VA != 0 || f.MMStat != 0 {
		return fmt.Sprintf("%s at %#x", name, f.VA)
	}
	return name
}

// IsFault reports whether err carries an architected guest fault.
func IsFault(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}
