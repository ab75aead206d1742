package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendCommand writes a zero-length request frame carrying code.
// Frame format: [length:2 = 0][code:2]
func SendCommand(w io.Writer, code MsgCode) error {
	frame := [FrameHeaderSize]byte{0, 0, code[0], code[1]}
	if _, err := w.Write(frame[:]); err != nil {
		return fmt.Errorf("%w: failed to send %s: %w", ErrConnection, code, err)
	}
	return nil
}

// ReadMatching reads frames until one carrying code arrives, copies its
// payload into buf and returns buf[:length]. Frames with any other code
// are read in full and dropped. The loop only ends on a match or an error;
// callers bound it with a deadline on the underlying connection.
// Frame format: [length:2 BE][code:2][payload:length]
func ReadMatching(r io.Reader, buf []byte, code MsgCode) ([]byte, error) {
	payload, _, err := readMatching(r, buf, code)
	return payload, err
}

func readMatching(r io.Reader, buf []byte, code MsgCode) ([]byte, int, error) {
	var header [FrameHeaderSize]byte
	discarded := 0

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, discarded, fmt.Errorf("%w: failed to read frame header: %w", ErrConnection, err)
		}

		length := int(binary.BigEndian.Uint16(header[:2]))
		got := MsgCode{header[2], header[3]}

		if got != code {
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, discarded, fmt.Errorf("%w: failed to skip %s frame (%d bytes): %w", ErrConnection, got, length, err)
			}
			discarded++
			continue
		}

		if length > len(buf) {
			return nil, discarded, fmt.Errorf("%w: %s frame of %d bytes exceeds buffer of %d", ErrTruncatedFrame, code, length, len(buf))
		}

		if _, err := io.ReadFull(r, buf[:length]); err != nil {
			return nil, discarded, fmt.Errorf("%w: failed to read %s payload (%d bytes): %w", ErrConnection, code, length, err)
		}

		return buf[:length], discarded, nil
	}
}

// Transport runs the query exchange over one byte stream. Payloads it
// returns alias an internal buffer and are only valid until the next call.
type Transport struct {
	rw     io.ReadWriter
	buf    [BufferSize]byte
	logger zerolog.Logger

	sent      int
	received  int
	discarded int
}

// NewTransport wraps rw.
func NewTransport(rw io.ReadWriter) *Transport {
	return &Transport{
		rw:     rw,
		logger: log.With().Str("component", "transport").Logger(),
	}
}

// WithLogger replaces the transport's logger.
func (t *Transport) WithLogger(logger zerolog.Logger) *Transport {
	t.logger = logger
	return t
}

// Handshake performs the magic/version exchange.
func (t *Transport) Handshake() error {
	return Handshake(t.rw)
}

// Command sends code and waits for the response frame with the same code.
func (t *Transport) Command(code MsgCode) ([]byte, error) {
	if err := SendCommand(t.rw, code); err != nil {
		return nil, err
	}
	t.sent++
	t.logger.Trace().Str("code", code.String()).Msg("command sent")
	return t.Await(code)
}

// Await waits for the next frame with code, dropping any others.
func (t *Transport) Await(code MsgCode) ([]byte, error) {
	payload, discarded, err := readMatching(t.rw, t.buf[:], code)
	t.discarded += discarded
	if discarded > 0 {
		t.logger.Debug().
			Str("code", code.String()).
			Int("discarded", discarded).
			Msg("skipped unrequested frames")
	}
	if err != nil {
		return nil, err
	}

	t.received++
	t.logger.Trace().
		Str("code", code.String()).
		Int("length", len(payload)).
		Msg("frame received")

	return payload, nil
}

// Stats returns the number of frames sent, matched and discarded.
func (t *Transport) Stats() (sent, received, discarded int) {
	return t.sent, t.received, t.discarded
}
