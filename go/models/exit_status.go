package models

import "fmt"

// ExitStatus is returned by a cpu worker when the guest halts on purpose
// (PAL HALT). It is an error so it can travel the same path as faults.
type ExitStatus int

func (e ExitStatus) Error() string {
	return fmt.Sprintf("halt %d", e)
}
