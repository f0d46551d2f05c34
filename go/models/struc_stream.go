package models

import (
	"encoding/binary"
	"github.com/lunixbochs/struc"
	"io"
)

// StrucStream packs/unpacks a sequence of values against one stream with a
// fixed byte order, sticky-error style so callers can chain without checks.
type StrucStream struct {
	Stream io.ReadWriter
	Order  binary.ByteOrder
	Error  error
}

func (s *StrucStream) Options() *struc.Options {
	return &struc.Options{Order: s.Order}
}

func (s *StrucStream) Pack(vals ...interface{}) error {
	for _, v := range vals {
		if s.Error != nil {
			return s.Error
		}
		s.Error = struc.PackWithOptions(s.Stream, v, s.Options())
	}
	return s.Error
}

func (s *StrucStream) Unpack(vals ...interface{}) error {
	for _, v := range vals {
		if s.Error != nil {
			return s.Error
		}
		s.Error = struc.UnpackWithOptions(s.Stream, v, s.Options())
	}
	return s.Error
}
