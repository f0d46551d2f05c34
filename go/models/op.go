package models

// Binary trace records. A trace file is the magic "ALPHATRC", a uint32
// version, then a stream of records: a two-byte header (kind, cpu) followed
// by the kind's payload, all little-endian.

const (
	OpExec = iota + 1
	OpMemRead
	OpMemWrite
	OpIrq
)

var TraceMagic = [8]byte{'A', 'L', 'P', 'H', 'A', 'T', 'R', 'C'}

const TraceVersion = 1

type OpHdr struct {
	Op  uint8
	Cpu uint8
}

type ExecOp struct {
	Addr uint64
}

type MemOp struct {
	Addr  uint64
	Size  uint8
	Value uint64
}

type IrqOp struct {
	Vector uint32
}
