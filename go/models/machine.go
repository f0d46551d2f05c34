package models

import (
	"io"

	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

// MMIOHandler is the device-side contract of the MMIO router. Offsets are
// relative to the region base. Size is 1, 2, 4 or 8.
type MMIOHandler interface {
	// identifies the device state blob inside a snapshot
	Ident() string
	Read(off uint64, size int) (uint64, error)
	Write(off uint64, size int, val uint64) error
}

// MMIOSnapshotter is optionally implemented by handlers that carry state
// worth persisting.
type MMIOSnapshotter interface {
	SaveState() ([]byte, error)
	LoadState(p []byte) error
}

// ClockSource yields monotonic cycles for RPCC and cycle accounting.
type ClockSource interface {
	Cycles() uint64
}

// InterruptSource drains (cpu, vector) events sampled at instruction
// boundaries.
type InterruptSource interface {
	Pending(cpu int) (vector uint32, ok bool)
}

// Machine is the top-level emulator object as seen by the CLI and monitor.
type Machine interface {
	Config() *Config
	Arch() *Arch

	NumCpus() int
	Cpu(i int) cpu.Cpu

	// single instruction on one cpu, in-thread
	StepOne(cpu int) error
	// run all cpus on workers until halt or error
	Run() error
	// run all cpus for at most the given number of cycles each
	RunUntil(cycles uint64) error
	// request a stop at the next instruction boundary
	Stop()

	InjectInterrupt(cpu int, vector uint32) error
	AttachMMIO(start, end uint64, h MMIOHandler) error

	PhysRead(addr uint64, p []byte) error
	PhysWrite(addr uint64, p []byte) error
	// write-protect a loaded firmware range
	MarkROM(start, end uint64)

	Snapshot(w io.Writer) error
	Restore(r io.Reader) error

	Dis(cpu int, addr uint64, count int) ([]Ins, error)
}
