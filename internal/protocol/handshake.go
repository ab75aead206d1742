package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// Handshake writes the magic string and validates the server's answer.
//
// The answer is the 8-byte version token followed by one byte holding the
// id the server assigned to this connection, or ServerFull when there is
// no free slot.
func Handshake(rw io.ReadWriter) error {
	if _, err := io.WriteString(rw, Magic); err != nil {
		return fmt.Errorf("%w: failed to send magic: %w", ErrConnection, err)
	}

	var resp [HandshakeSize]byte
	if _, err := io.ReadFull(rw, resp[:]); err != nil {
		return fmt.Errorf("%w: failed to read handshake: %w", ErrConnection, err)
	}

	version := resp[:len(ProtocolVersion)]
	if !bytes.Equal(version, []byte(ProtocolVersion)) {
		return &ProtocolMismatchError{Got: bytes.Clone(version)}
	}

	if resp[len(ProtocolVersion)] == ServerFull {
		return ErrServerFull
	}

	return nil
}
