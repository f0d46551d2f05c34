package loader

// RawLoader drops a flat image at a fixed physical base. Used for PAL and
// firmware blobs that carry no headers.
type RawLoader struct {
	base  uint64
	entry uint64
	data  []byte
}

func NewRawLoader(data []byte, base, entry uint64) *RawLoader {
	return &RawLoader{base: base, entry: entry, data: data}
}

func (l *RawLoader) Entry() uint64 {
	return l.entry
}

func (l *RawLoader) Segments() ([]Segment, error) {
	return []Segment{{Addr: l.base, Data: l.data}}, nil
}

// NullLoader boots a machine whose RAM comes from somewhere else, like a
// snapshot restore.
type NullLoader struct {
	entry uint64
}

func NewNullLoader(entry uint64) *NullLoader {
	return &NullLoader{entry: entry}
}

func (l *NullLoader) Entry() uint64 {
	return l.entry
}

func (l *NullLoader) Segments() ([]Segment, error) {
	return nil, nil
}
