package protocol

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

// Uint16At returns the big-endian 16-bit value stored in slot of buf, that
// is at byte offset slot*2.
func Uint16At(buf []byte, slot int) (uint16, error) {
	if slot < 0 || len(buf) < slot*2+2 {
		return 0, truncated("slot", slot*2+2, len(buf))
	}
	return binary.BigEndian.Uint16(buf[slot*2:]), nil
}

// PutUint16At stores v in slot of buf.
func PutUint16At(buf []byte, slot int, v uint16) error {
	if slot < 0 || len(buf) < slot*2+2 {
		return truncated("slot", slot*2+2, len(buf))
	}
	binary.BigEndian.PutUint16(buf[slot*2:], v)
	return nil
}

// slotReader decodes consecutive slots from one buffer and keeps the first
// error, so record decoders can read a whole layout and check once.
type slotReader struct {
	buf []byte
	err error
}

func (r *slotReader) u16(slot int) uint16 {
	if r.err != nil {
		return 0
	}
	v, err := Uint16At(r.buf, slot)
	if err != nil {
		r.err = err
	}
	return v
}

// fixedText decodes a NUL-padded fixed-width text field.
func fixedText(field []byte, name string) (string, error) {
	if !utf8.Valid(field) {
		return "", &textError{field: name, raw: field}
	}
	return strings.TrimRight(string(field), "\x00"), nil
}

type textError struct {
	field string
	raw   []byte
}

func (e *textError) Error() string {
	return ErrTextDecode.Error() + " in " + e.field + ": " + printable(e.raw)
}

func (e *textError) Unwrap() error { return ErrTextDecode }
