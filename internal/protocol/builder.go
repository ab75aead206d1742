package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs server-side payloads. The query client never
// sends these; they back the fake servers used in tests.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteFixedString writes s NUL-padded (or cut) to exactly n bytes.
func (b *PacketBuilder) WriteFixedString(s string, n int) *PacketBuilder {
	field := make([]byte, n)
	copy(field, s)
	b.buf.Write(field)
	return b
}

// Build returns the constructed payload bytes.
func (b *PacketBuilder) Build() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// BuildFrame returns the payload prefixed with the 4-byte frame header.
func (b *PacketBuilder) BuildFrame(code MsgCode) []byte {
	return Frame(code, b.buf.Bytes())
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Response constructors ----

// Frame wraps payload in a frame header.
func Frame(code MsgCode, payload []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(out[:2], uint16(len(payload)))
	out[2], out[3] = code[0], code[1]
	copy(out[FrameHeaderSize:], payload)
	return out
}

// HandshakeResponse builds the 9-byte server answer to the magic string.
func HandshakeResponse(version string, status byte) []byte {
	b := NewPacketBuilder()
	b.WriteFixedString(version, len(ProtocolVersion))
	b.WriteByte(status)
	return b.Build()
}

// BuildGameConfig encodes cfg as a qg payload.
func BuildGameConfig(cfg GameConfig) []byte {
	buf := make([]byte, GameConfigSize)
	put := func(slot int, v uint16) { binary.BigEndian.PutUint16(buf[slot*2:], v) }

	put(slotStyle, uint16(cfg.Style))
	put(slotOptions, cfg.Options.ToMask())
	put(slotMaxPlayers, cfg.MaxPlayers)
	put(slotMaxShots, cfg.MaxShots)
	put(slotObserverSize, cfg.ObserverSize)
	for i, v := range cfg.MaxTeamSizes {
		put(slotMaxTeamSize+i, v)
	}
	put(slotShakeWins, cfg.ShakeWins)
	put(slotShakeTimeout, cfg.ShakeTimeout)
	put(slotMaxPlayerScore, cfg.MaxPlayerScore)
	put(slotMaxTeamScore, cfg.MaxTeamScore)
	put(slotMaxTime, cfg.MaxTime)
	put(slotElapsedTime, cfg.ElapsedTime)

	return buf
}

// BuildPlayerCount encodes a qp payload: team count then player count.
func BuildPlayerCount(teams, players uint16) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(teams)
	b.WriteUint16(players)
	return b.Build()
}

// BuildTeamUpdate encodes teams as a tu payload. MaxSize is not carried on
// the wire and is ignored.
func BuildTeamUpdate(teams []Team) []byte {
	b := NewPacketBuilder()
	b.WriteByte(byte(len(teams)))
	for _, t := range teams {
		b.WriteUint16(uint16(t.Color))
		b.WriteUint16(t.Size)
		b.WriteUint16(t.Wins)
		b.WriteUint16(t.Losses)
	}
	return b.Build()
}

// BuildPlayerAdd encodes p as an ap payload.
func BuildPlayerAdd(p Player) []byte {
	b := NewPacketBuilder()
	b.WriteByte(p.ID)
	b.WriteUint16(p.Type)
	b.WriteUint16(uint16(p.Team))
	b.WriteUint16(p.Wins)
	b.WriteUint16(p.Losses)
	b.WriteUint16(p.TeamKills)
	b.WriteFixedString(p.Callsign, CallsignLen)
	b.WriteFixedString(p.Motto, MottoLen)
	return b.Build()
}
