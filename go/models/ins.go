package models

// Ins is a decoded instruction as exposed to the monitor and tracing.
type Ins interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string
	String() string
}
