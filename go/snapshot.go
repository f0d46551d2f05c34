package alphacorn

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/ioutil"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	acpu "github.com/lunixbochs/alphacorn/go/cpu/alpha"
	"github.com/lunixbochs/alphacorn/go/mmu"
	"github.com/lunixbochs/alphacorn/go/models"
)

// snapshot format:
//
// file header (raw little endian)
//   [8]byte magic "ALPHASNP"
//   uint32  format version
//   uint32  crc32 of the compressed body
//   uint64  length of the compressed body
// remainder is a snappy block
//
// -- body start --
// uint32(cpu count), uint64(ram size)
// per cpu:
//   NREGS x uint64 register file
//   pal context (entry points, ksp/usp/kgp, sysval, vptptr)
//   itb, dtb: uint32(count), entries
// raw ram bytes
// uint32(device blob count), per blob: ident, bytes
//
// LL reservations and cache contents are deliberately not saved: both are
// allowed to be empty at any instruction boundary.

var snapMagic = [8]byte{'A', 'L', 'P', 'H', 'A', 'S', 'N', 'P'}

const snapVersion = 1

type snapHeader struct {
	Magic   [8]byte
	Version uint32
	CRC     uint32
	BodyLen uint64
}

type snapEntry struct {
	VPN       uint64
	ASN       uint64
	PFN       uint64
	PageShift uint32
	ReadMask  uint8
	WriteMask uint8
	// bit 0 global, 1 FOR, 2 FOW, 3 FOE
	Flags uint8
}

func packEntry(e mmu.Entry) snapEntry {
	var flags uint8
	if e.Global {
		flags |= 1
	}
	if e.FOR {
		flags |= 2
	}
	if e.FOW {
		flags |= 4
	}
	if e.FOE {
		flags |= 8
	}
	return snapEntry{e.VPN, e.ASN, e.PFN, uint32(e.PageShift), e.ReadMask, e.WriteMask, flags}
}

func (s snapEntry) unpack() mmu.Entry {
	return mmu.Entry{
		VPN: s.VPN, ASN: s.ASN, PFN: s.PFN,
		PageShift: uint(s.PageShift),
		ReadMask:  s.ReadMask, WriteMask: s.WriteMask,
		Global: s.Flags&1 != 0,
		FOR:    s.Flags&2 != 0,
		FOW:    s.Flags&4 != 0,
		FOE:    s.Flags&8 != 0,
	}
}

func (m *Machine) Snapshot(w io.Writer) error {
	if err := m.bus.FlushPrivate(); err != nil {
		return err
	}
	if err := m.flushShared(); err != nil {
		return err
	}

	var body bytes.Buffer
	s := &models.StrucStream{Stream: &body, Order: binary.LittleEndian}

	s.Pack(uint32(len(m.cpus)), m.phys.Size())
	for _, sl := range m.cpus {
		c := sl.cpu
		for enum := 0; enum < acpu.NREGS; enum++ {
			val, err := c.RegRead(enum)
			if err != nil {
				return err
			}
			s.Pack(val)
		}
		pal := c.PalState()
		s.Pack(&pal)
		for _, tlb := range []*mmu.TLB{c.ITB(), c.DTB()} {
			entries := tlb.Entries()
			s.Pack(uint32(len(entries)))
			for _, e := range entries {
				se := packEntry(e)
				s.Pack(&se)
			}
		}
	}
	body.Write(m.phys.Data())

	blobs, err := m.deviceBlobs()
	if err != nil {
		return err
	}
	s.Pack(uint32(len(blobs)))
	for _, b := range blobs {
		s.Pack(uint32(len(b.ident)))
		body.WriteString(b.ident)
		s.Pack(uint32(len(b.data)))
		body.Write(b.data)
	}
	if s.Error != nil {
		return s.Error
	}

	packed := snappy.Encode(nil, body.Bytes())
	hdr := snapHeader{
		Magic:   snapMagic,
		Version: snapVersion,
		CRC:     crc32.ChecksumIEEE(packed),
		BodyLen: uint64(len(packed)),
	}
	hs := &models.StrucStream{Stream: writerStream{w}, Order: binary.LittleEndian}
	if err := hs.Pack(&hdr); err != nil {
		return err
	}
	_, err = w.Write(packed)
	return err
}

type deviceBlob struct {
	ident string
	data  []byte
}

func (m *Machine) deviceBlobs() ([]deviceBlob, error) {
	var blobs []deviceBlob
	for _, reg := range m.router.Regions() {
		snap, ok := reg.Handler.(models.MMIOSnapshotter)
		if !ok {
			continue
		}
		data, err := snap.SaveState()
		if err != nil {
			return nil, errors.Wrapf(err, "saving device %q", reg.Handler.Ident())
		}
		blobs = append(blobs, deviceBlob{reg.Handler.Ident(), data})
	}
	return blobs, nil
}

// Restore loads a snapshot taken from an identically configured machine.
// The file is parsed and verified in full before any machine state is
// touched, so a truncated or corrupt snapshot leaves the machine intact.
func (m *Machine) Restore(r io.Reader) error {
	var hdr snapHeader
	hs := &models.StrucStream{Stream: readerStream{r}, Order: binary.LittleEndian}
	if err := hs.Unpack(&hdr); err != nil {
		return err
	}
	if hdr.Magic != snapMagic {
		return errors.New("not a snapshot file")
	}
	if hdr.Version != snapVersion {
		return errors.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	packed, err := ioutil.ReadAll(io.LimitReader(r, int64(hdr.BodyLen)))
	if err != nil {
		return err
	}
	if uint64(len(packed)) != hdr.BodyLen {
		return errors.New("truncated snapshot")
	}
	if crc32.ChecksumIEEE(packed) != hdr.CRC {
		return errors.New("snapshot checksum mismatch")
	}
	raw, err := snappy.Decode(nil, packed)
	if err != nil {
		return errors.Wrap(err, "snapshot decompress")
	}

	body := bytes.NewReader(raw)
	s := &models.StrucStream{Stream: readerStream{body}, Order: binary.LittleEndian}

	var ncpu uint32
	var ramSize uint64
	if err := s.Unpack(&ncpu, &ramSize); err != nil {
		return err
	}
	if int(ncpu) != len(m.cpus) {
		return errors.Errorf("snapshot has %d cpus, machine has %d", ncpu, len(m.cpus))
	}
	if ramSize != m.phys.Size() {
		return errors.Errorf("snapshot ram size %#x does not match machine %#x", ramSize, m.phys.Size())
	}

	type cpuState struct {
		regs     []uint64
		pal      acpu.PalContext
		itb, dtb []mmu.Entry
	}
	states := make([]cpuState, ncpu)
	for i := range states {
		st := &states[i]
		st.regs = make([]uint64, acpu.NREGS)
		for j := range st.regs {
			if err := s.Unpack(&st.regs[j]); err != nil {
				return err
			}
		}
		if err := s.Unpack(&st.pal); err != nil {
			return err
		}
		for _, which := range []*[]mmu.Entry{&st.itb, &st.dtb} {
			var count uint32
			if err := s.Unpack(&count); err != nil {
				return err
			}
			entries := make([]mmu.Entry, count)
			for k := range entries {
				var se snapEntry
				if err := s.Unpack(&se); err != nil {
					return err
				}
				entries[k] = se.unpack()
			}
			*which = entries
		}
	}
	ram := make([]byte, ramSize)
	if _, err := io.ReadFull(body, ram); err != nil {
		return errors.Wrap(err, "snapshot ram")
	}
	blobs := make(map[string][]byte)
	var nblob uint32
	if err := s.Unpack(&nblob); err != nil {
		return err
	}
	for i := uint32(0); i < nblob; i++ {
		var ilen uint32
		if err := s.Unpack(&ilen); err != nil {
			return err
		}
		ident := make([]byte, ilen)
		if _, err := io.ReadFull(body, ident); err != nil {
			return err
		}
		var dlen uint32
		if err := s.Unpack(&dlen); err != nil {
			return err
		}
		data := make([]byte, dlen)
		if _, err := io.ReadFull(body, data); err != nil {
			return err
		}
		blobs[string(ident)] = data
	}

	// parse complete; apply. Flush failures abort before any guest state
	// has been touched.
	if err := m.bus.FlushPrivate(); err != nil {
		return errors.Wrap(err, "snapshot flush")
	}
	if err := m.flushShared(); err != nil {
		return errors.Wrap(err, "snapshot flush")
	}
	// drop what FlushPrivate just wrote back, RAM is about to be replaced
	for _, sl := range m.cpus {
		sl.l1d.InvalidateAll()
		sl.l1i.InvalidateAll()
	}
	copy(m.phys.Data(), ram)
	for i, sl := range m.cpus {
		st := &states[i]
		for enum, val := range st.regs {
			if err := sl.cpu.RegWrite(enum, val); err != nil {
				return err
			}
		}
		sl.cpu.SetPalState(st.pal)
		for which, entries := range [][]mmu.Entry{st.itb, st.dtb} {
			tlb := sl.cpu.ITB()
			if which == 1 {
				tlb = sl.cpu.DTB()
			}
			tlb.InvalidateAll()
			for _, e := range entries {
				tlb.Insert(e)
			}
		}
		sl.ClearReservation()
	}
	for _, reg := range m.router.Regions() {
		snap, ok := reg.Handler.(models.MMIOSnapshotter)
		if !ok {
			continue
		}
		data, ok := blobs[reg.Handler.Ident()]
		if !ok {
			continue
		}
		if err := snap.LoadState(data); err != nil {
			return errors.Wrapf(err, "restoring device %q", reg.Handler.Ident())
		}
	}
	return nil
}

// StrucStream wants an io.ReadWriter; snapshots only go one direction at
// a time.
type writerStream struct {
	io.Writer
}

func (writerStream) Read([]byte) (int, error) { return 0, errors.New("write-only stream") }

type readerStream struct {
	io.Reader
}

func (readerStream) Write([]byte) (int, error) { return 0, errors.New("read-only stream") }
