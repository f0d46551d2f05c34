package loader

import (
	"bytes"
	"debug/elf"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r), elfMagic)
}

// ElfLoader maps the PT_LOAD segments of an Alpha executable into guest
// physical memory at their p_paddr (or p_vaddr when p_paddr is zero).
type ElfLoader struct {
	file  *elf.File
	entry uint64
}

func NewElfLoader(r io.ReaderAt) (*ElfLoader, error) {
	file, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	if file.Class != elf.ELFCLASS64 {
		return nil, errors.New("not a 64-bit ELF")
	}
	if file.Machine != elf.EM_ALPHA && file.Machine != elf.EM_ALPHA_STD {
		return nil, errors.Errorf("unsupported machine: %s", file.Machine)
	}
	if file.ByteOrder != nil && file.ByteOrder.String() != "LittleEndian" {
		return nil, errors.New("alpha images are little endian")
	}
	return &ElfLoader{file: file, entry: file.Entry}, nil
}

func (e *ElfLoader) Entry() uint64 {
	return e.entry
}

func (e *ElfLoader) Segments() ([]Segment, error) {
	var ret []Segment
	for _, prog := range e.file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data, err := ioutil.ReadAll(prog.Open())
		if err != nil {
			return nil, errors.Wrap(err, "reading segment")
		}
		if prog.Memsz > prog.Filesz {
			// bss tail
			data = append(data, make([]byte, prog.Memsz-prog.Filesz)...)
		}
		addr := prog.Paddr
		if addr == 0 {
			addr = prog.Vaddr
		}
		ret = append(ret, Segment{Addr: addr, Data: data})
	}
	return ret, nil
}
