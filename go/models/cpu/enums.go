package cpu

const (
	// hook CPU interrupts and faults delivered to PALcode
	HOOK_INTR = 1 << iota

	// hook each executed instruction
	HOOK_CODE

	// hook each data memory access; OR the two to see both directions
	HOOK_MEM_READ
	HOOK_MEM_WRITE
)

// access kinds passed to memory hooks
const (
	MEM_WRITE = 16
	MEM_READ  = 17
)
