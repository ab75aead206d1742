package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGameConfig() GameConfig {
	return GameConfig{
		Style:          StyleCaptureTheFlag,
		Options:        Options{SuperFlags: true, Jumping: true, Ricochet: true, NoTeamKills: true},
		MaxPlayers:     200,
		MaxShots:       3,
		ObserverSize:   2,
		MaxTeamSizes:   [MaxTeamSizeEntries]uint16{0, 20, 20, 0, 0, 10},
		ShakeWins:      4,
		ShakeTimeout:   150,
		MaxPlayerScore: 0,
		MaxTeamScore:   25,
		MaxTime:        3600,
		ElapsedTime:    120,
	}
}

func TestDecodeGameConfig(t *testing.T) {
	want := sampleGameConfig()

	got, err := DecodeGameConfig(BuildGameConfig(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeGameConfig_SlotLayout(t *testing.T) {
	payload := make([]byte, GameConfigSize)
	for slot := 0; slot < GameConfigSize/2; slot++ {
		require.NoError(t, PutUint16At(payload, slot, uint16(100+slot)))
	}
	require.NoError(t, PutUint16At(payload, 0, uint16(StyleRabbit)))

	cfg, err := DecodeGameConfig(payload)
	require.NoError(t, err)

	assert.Equal(t, StyleRabbit, cfg.Style)
	assert.Equal(t, uint16(102), cfg.MaxPlayers)
	assert.Equal(t, uint16(103), cfg.MaxShots)
	assert.Equal(t, uint16(109), cfg.ObserverSize)
	assert.Equal(t, [MaxTeamSizeEntries]uint16{110, 111, 112, 113, 114, 115}, cfg.MaxTeamSizes)
	assert.Equal(t, uint16(116), cfg.ShakeWins)
	assert.Equal(t, uint16(117), cfg.ShakeTimeout)
	assert.Equal(t, uint16(118), cfg.MaxPlayerScore)
	assert.Equal(t, uint16(119), cfg.MaxTeamScore)
	assert.Equal(t, uint16(120), cfg.MaxTime)
	assert.Equal(t, uint16(121), cfg.ElapsedTime)
}

func TestDecodeGameConfig_OptionMasks(t *testing.T) {
	masks := []uint16{0, 0xFFFF, 0x0002, 0x0400, 0x05FA, 0x0001, 0x0004, 0x0200, 0xF800, 0x00A8}

	for _, mask := range masks {
		payload := BuildGameConfig(GameConfig{})
		require.NoError(t, PutUint16At(payload, slotOptions, mask))

		cfg, err := DecodeGameConfig(payload)
		require.NoError(t, err)

		o := cfg.Options
		assert.Equal(t, mask&OptionSuperFlags != 0, o.SuperFlags, "mask %#04x", mask)
		assert.Equal(t, mask&OptionJumping != 0, o.Jumping, "mask %#04x", mask)
		assert.Equal(t, mask&OptionInertia != 0, o.Inertia, "mask %#04x", mask)
		assert.Equal(t, mask&OptionRicochet != 0, o.Ricochet, "mask %#04x", mask)
		assert.Equal(t, mask&OptionShaking != 0, o.Shaking, "mask %#04x", mask)
		assert.Equal(t, mask&OptionAntidote != 0, o.Antidote, "mask %#04x", mask)
		assert.Equal(t, mask&OptionHandicap != 0, o.Handicap, "mask %#04x", mask)
		assert.Equal(t, mask&OptionNoTeamKills != 0, o.NoTeamKills, "mask %#04x", mask)
	}
}

func TestDecodeGameConfig_InvalidStyle(t *testing.T) {
	payload := BuildGameConfig(GameConfig{})
	require.NoError(t, PutUint16At(payload, slotStyle, 4))

	_, err := DecodeGameConfig(payload)
	assert.ErrorIs(t, err, ErrInvalidEnum)
}

func TestDecodeGameConfig_Truncated(t *testing.T) {
	payload := BuildGameConfig(sampleGameConfig())

	_, err := DecodeGameConfig(payload[:GameConfigSize-1])
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDecodePlayerCount(t *testing.T) {
	n, err := DecodePlayerCount(BuildPlayerCount(3, 7))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = DecodePlayerCount([]byte{0, 3, 0})
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDecodeTeamUpdate_AppendsObserver(t *testing.T) {
	cfg := sampleGameConfig()
	payload := BuildTeamUpdate([]Team{
		{Color: TeamRed, Size: 4, Wins: 10, Losses: 3},
		{Color: TeamGreen, Size: 5, Wins: 2, Losses: 9},
	})

	teams, err := DecodeTeamUpdate(payload, cfg)
	require.NoError(t, err)
	require.Len(t, teams, 3)

	assert.Equal(t, Team{Color: TeamRed, Size: 4, MaxSize: 20, Wins: 10, Losses: 3}, teams[0])
	assert.Equal(t, Team{Color: TeamGreen, Size: 5, MaxSize: 20, Wins: 2, Losses: 9}, teams[1])
	assert.Equal(t, Team{Color: TeamObserver, Size: 2, MaxSize: 10}, teams[2])
}

func TestDecodeTeamUpdate_WinsAndLossesAreDistinctSlots(t *testing.T) {
	payload := BuildTeamUpdate([]Team{{Color: TeamBlue, Size: 1, Wins: 0x0102, Losses: 0x0304}})

	teams, err := DecodeTeamUpdate(payload, GameConfig{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), teams[0].Wins)
	assert.Equal(t, uint16(0x0304), teams[0].Losses)
}

func TestDecodeTeamUpdate_ColorWithoutMaxEntry(t *testing.T) {
	cfg := sampleGameConfig()
	payload := BuildTeamUpdate([]Team{{Color: TeamHunter, Size: 1}})

	teams, err := DecodeTeamUpdate(payload, cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), teams[0].MaxSize)
}

func TestDecodeTeamUpdate_Empty(t *testing.T) {
	teams, err := DecodeTeamUpdate([]byte{0}, sampleGameConfig())
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, TeamObserver, teams[0].Color)
}

func TestDecodeTeamUpdate_Errors(t *testing.T) {
	_, err := DecodeTeamUpdate(nil, GameConfig{})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	full := BuildTeamUpdate([]Team{{Color: TeamRed}, {Color: TeamBlue}})
	_, err = DecodeTeamUpdate(full[:len(full)-1], GameConfig{})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	bad := BuildTeamUpdate([]Team{{Color: TeamRed}})
	require.NoError(t, PutUint16At(bad[1:], 0, 8))
	_, err = DecodeTeamUpdate(bad, GameConfig{})
	assert.ErrorIs(t, err, ErrInvalidEnum)
}

func TestDecodePlayerAdd(t *testing.T) {
	want := Player{
		ID:        42,
		Type:      1,
		Team:      TeamPurple,
		Wins:      12,
		Losses:    5,
		TeamKills: 1,
		Callsign:  "Nexus",
		Motto:     "hold the flag",
	}

	payload := BuildPlayerAdd(want)
	require.Len(t, payload, PlayerAddSize)

	got, err := DecodePlayerAdd(payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 7, got.Score())
}

func TestDecodePlayerAdd_FieldOffsets(t *testing.T) {
	payload := make([]byte, PlayerAddSize)
	payload[0] = 9
	copy(payload[11:], "Nexus")
	copy(payload[43:], "motto")

	got, err := DecodePlayerAdd(payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), got.ID)
	assert.Equal(t, "Nexus", got.Callsign)
	assert.Equal(t, "motto", got.Motto)
}

func TestDecodePlayerAdd_FullWidthText(t *testing.T) {
	callsign := "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345"
	require.Len(t, callsign, CallsignLen)

	got, err := DecodePlayerAdd(BuildPlayerAdd(Player{Callsign: callsign}))
	require.NoError(t, err)
	assert.Equal(t, callsign, got.Callsign)
	assert.Equal(t, "", got.Motto)
}

func TestDecodePlayerAdd_Errors(t *testing.T) {
	valid := BuildPlayerAdd(Player{ID: 1, Callsign: "a"})

	_, err := DecodePlayerAdd(valid[:PlayerAddSize-1])
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	badTeam := append([]byte(nil), valid...)
	require.NoError(t, PutUint16At(badTeam[1:], 1, 99))
	_, err = DecodePlayerAdd(badTeam)
	assert.ErrorIs(t, err, ErrInvalidEnum)

	badText := append([]byte(nil), valid...)
	badText[11+CallsignLen] = 0xC3
	badText[12+CallsignLen] = 0x28
	_, err = DecodePlayerAdd(badText)
	assert.ErrorIs(t, err, ErrTextDecode)
}
