package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Error kinds. Every failure returned by this package wraps exactly one of
// these so callers can classify it with errors.Is.
var (
	ErrConnection       = errors.New("connection error")
	ErrProtocolMismatch = errors.New("protocol mismatch")
	ErrServerFull       = errors.New("server is full")
	ErrTruncatedFrame   = errors.New("truncated frame")
	ErrInvalidEnum      = errors.New("invalid enum value")
	ErrTextDecode       = errors.New("invalid text")
)

// ProtocolMismatchError reports a handshake answer that did not carry the
// expected version token.
type ProtocolMismatchError struct {
	Got []byte
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("invalid protocol version: %s (want %s)", printable(e.Got), ProtocolVersion)
}

// Is makes errors.Is(err, ErrProtocolMismatch) hold.
func (e *ProtocolMismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

// printable renders raw bytes as quoted text when they are valid UTF-8 and
// as hex otherwise.
func printable(b []byte) string {
	if utf8.Valid(b) {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("0x%x", b)
}

func truncated(what string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncatedFrame, what, need, have)
}
