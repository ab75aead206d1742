// Package protocol implements the client side of the BZFlag server query
// protocol: the handshake, the length-prefixed frame exchange, and the
// fixed-offset decoders for the query responses. All multi-byte fields are
// big-endian 16-bit values.
package protocol

// MsgCode is the two-byte command code carried in every frame header.
type MsgCode [2]byte

// String returns the code as its two ASCII characters.
func (c MsgCode) String() string {
	return string(c[:])
}

// Message codes, must match include/Protocol.h of BZFlag 2.4.
var (
	MsgQueryGame    = MsgCode{'q', 'g'} // request: game configuration
	MsgQueryPlayers = MsgCode{'q', 'p'} // request: team and player roster
	MsgTeamUpdate   = MsgCode{'t', 'u'} // response: team standings
	MsgAddPlayer    = MsgCode{'a', 'p'} // response: one player record
)

const (
	// Magic is written by the client to open the connection.
	Magic = "BZFLAG\r\n\r\n"

	// ProtocolVersion is the only server version token this package speaks.
	ProtocolVersion = "BZFS0221"

	// HandshakeSize is the number of bytes the server answers the magic with:
	// the 8-byte version token followed by one status byte.
	HandshakeSize = len(ProtocolVersion) + 1

	// ServerFull is the status byte sent when the server has no free slot.
	ServerFull byte = 0xFF

	// BufferSize must match MaxPacketLen in include/Protocol.h.
	BufferSize = 1024

	// FrameHeaderSize is the 2-byte length plus the 2-byte code.
	FrameHeaderSize = 4
)

// Game option bits, must match GameOptions in include/global.h.
const (
	OptionSuperFlags  uint16 = 0x0002
	OptionJumping     uint16 = 0x0008
	OptionInertia     uint16 = 0x0010
	OptionRicochet    uint16 = 0x0020
	OptionShaking     uint16 = 0x0040
	OptionAntidote    uint16 = 0x0080
	OptionHandicap    uint16 = 0x0100
	OptionNoTeamKills uint16 = 0x0400
)

// Field sizes of the player-add record.
const (
	CallsignLen = 32
	MottoLen    = 128

	// playerNumericSlots is type, team, wins, losses, team kills.
	playerNumericSlots = 5

	// PlayerAddSize is id + numeric slots + callsign + motto.
	PlayerAddSize = 1 + playerNumericSlots*2 + CallsignLen + MottoLen
)

// Slot indices of the game-config (qg) response, must match sendQueryGame
// in src/bzfs/bzfs.cxx.
const (
	slotStyle          = 0
	slotOptions        = 1
	slotMaxPlayers     = 2
	slotMaxShots       = 3
	slotObserverSize   = 9
	slotMaxTeamSize    = 10 // first of six, colors 0..5
	slotShakeWins      = 16
	slotShakeTimeout   = 17
	slotMaxPlayerScore = 18
	slotMaxTeamScore   = 19
	slotMaxTime        = 20
	slotElapsedTime    = 21

	// GameConfigSize is the minimum qg payload length.
	GameConfigSize = (slotElapsedTime + 1) * 2

	// MaxTeamSizeEntries covers Rogue through Observer.
	MaxTeamSizeEntries = 6
)

// Slot indices of the query-players (qp) response.
const (
	slotPlayerCount = 1

	// PlayerCountSize is the minimum qp payload length.
	PlayerCountSize = (slotPlayerCount + 1) * 2
)

// teamSlots is the number of u16 fields per team in a tu record:
// color, size, wins, losses.
const teamSlots = 4
