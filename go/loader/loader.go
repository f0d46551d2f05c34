package loader

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

var UnknownMagic = errors.New("could not identify file magic")

// Segment is a run of bytes destined for physical RAM.
type Segment struct {
	Addr uint64
	Data []byte
}

// Loader produces an initial RAM image and a start pc for the machine.
type Loader interface {
	Entry() uint64
	Segments() ([]Segment, error)
}

// LoadFile sniffs the file and picks a loader: Alpha ELF images load at
// their program headers, anything else is rejected (use NewRawLoader for
// flat images).
func LoadFile(path string) (Loader, error) {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(bytes.NewReader(p))
}

func Load(r io.ReaderAt) (Loader, error) {
	if MatchElf(r) {
		return NewElfLoader(r)
	}
	return nil, errors.WithStack(UnknownMagic)
}

func getMagic(r io.ReaderAt) []byte {
	magic := make([]byte, 4)
	if n, _ := r.ReadAt(magic, 0); n == 4 {
		return magic
	}
	return nil
}
