package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// GameStyle is the game type a server runs. Order must match GameType in
// include/global.h.
type GameStyle uint8

const (
	StyleFreeForAll GameStyle = iota
	StyleCaptureTheFlag
	StyleOpenFreeForAll
	StyleRabbit
)

var gameStyleNames = [...]string{"FFA", "CTF", "OFFA", "Rabbit"}

// ParseGameStyle converts a wire index to a GameStyle.
func ParseGameStyle(v uint16) (GameStyle, error) {
	if int(v) >= len(gameStyleNames) {
		return 0, fmt.Errorf("%w: game style %d", ErrInvalidEnum, v)
	}
	return GameStyle(v), nil
}

func (s GameStyle) String() string {
	if int(s) < len(gameStyleNames) {
		return gameStyleNames[s]
	}
	return fmt.Sprintf("GameStyle(%d)", uint8(s))
}

// MarshalJSON serializes GameStyle by name (e.g. "CTF").
func (s GameStyle) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the name written by MarshalJSON.
func (s *GameStyle) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range gameStyleNames {
		if n == name {
			*s = GameStyle(i)
			return nil
		}
	}
	return fmt.Errorf("%w: game style %q", ErrInvalidEnum, name)
}

// TeamColor identifies a team. Order must match TeamColor in
// include/global.h.
type TeamColor uint8

const (
	TeamRogue TeamColor = iota
	TeamRed
	TeamGreen
	TeamBlue
	TeamPurple
	TeamObserver
	TeamRabbit
	TeamHunter
)

var teamColorNames = [...]string{"Rogue", "Red", "Green", "Blue", "Purple", "Observer", "Rabbit", "Hunter"}

// ParseTeamColor converts a wire index to a TeamColor.
func ParseTeamColor(v uint16) (TeamColor, error) {
	if int(v) >= len(teamColorNames) {
		return 0, fmt.Errorf("%w: team color %d", ErrInvalidEnum, v)
	}
	return TeamColor(v), nil
}

func (c TeamColor) String() string {
	if int(c) < len(teamColorNames) {
		return teamColorNames[c]
	}
	return fmt.Sprintf("TeamColor(%d)", uint8(c))
}

// MarshalJSON serializes TeamColor by name (e.g. "Red").
func (c TeamColor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the name written by MarshalJSON.
func (c *TeamColor) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range teamColorNames {
		if n == name {
			*c = TeamColor(i)
			return nil
		}
	}
	return fmt.Errorf("%w: team color %q", ErrInvalidEnum, name)
}

// Options are the game option flags of a server.
type Options struct {
	SuperFlags  bool `json:"superflags"`
	Jumping     bool `json:"jumping"`
	Inertia     bool `json:"inertia"`
	Ricochet    bool `json:"ricochet"`
	Shaking     bool `json:"shaking"`
	Antidote    bool `json:"antidote"`
	Handicap    bool `json:"handicap"`
	NoTeamKills bool `json:"no_team_kills"`
}

// OptionsFromMask unpacks the qg option bitmask.
func OptionsFromMask(mask uint16) Options {
	return Options{
		SuperFlags:  mask&OptionSuperFlags != 0,
		Jumping:     mask&OptionJumping != 0,
		Inertia:     mask&OptionInertia != 0,
		Ricochet:    mask&OptionRicochet != 0,
		Shaking:     mask&OptionShaking != 0,
		Antidote:    mask&OptionAntidote != 0,
		Handicap:    mask&OptionHandicap != 0,
		NoTeamKills: mask&OptionNoTeamKills != 0,
	}
}

// ToMask packs the flags back into the wire bitmask.
func (o Options) ToMask() uint16 {
	var mask uint16
	set := func(on bool, bit uint16) {
		if on {
			mask |= bit
		}
	}
	set(o.SuperFlags, OptionSuperFlags)
	set(o.Jumping, OptionJumping)
	set(o.Inertia, OptionInertia)
	set(o.Ricochet, OptionRicochet)
	set(o.Shaking, OptionShaking)
	set(o.Antidote, OptionAntidote)
	set(o.Handicap, OptionHandicap)
	set(o.NoTeamKills, OptionNoTeamKills)
	return mask
}

// Team is one entry of the team standings.
type Team struct {
	Color   TeamColor `json:"color"`
	Size    uint16    `json:"size"`
	MaxSize uint16    `json:"max_size"`
	Wins    uint16    `json:"wins"`
	Losses  uint16    `json:"losses"`
}

// Score is wins minus losses.
func (t Team) Score() int {
	return int(t.Wins) - int(t.Losses)
}

// Player is one roster entry.
type Player struct {
	ID        uint8     `json:"id"`
	Type      uint16    `json:"type"`
	Team      TeamColor `json:"team"`
	Wins      uint16    `json:"wins"`
	Losses    uint16    `json:"losses"`
	TeamKills uint16    `json:"team_kills"`
	Callsign  string    `json:"callsign"`
	Motto     string    `json:"motto"`
}

// Score is wins minus losses.
func (p Player) Score() int {
	return int(p.Wins) - int(p.Losses)
}

// GameConfig is the decoded qg response. ObserverSize and MaxTeamSizes are
// not part of the Snapshot; they feed DecodeTeamUpdate.
type GameConfig struct {
	Style          GameStyle
	Options        Options
	MaxPlayers     uint16
	MaxShots       uint16
	ObserverSize   uint16
	MaxTeamSizes   [MaxTeamSizeEntries]uint16
	ShakeWins      uint16
	ShakeTimeout   uint16
	MaxPlayerScore uint16
	MaxTeamScore   uint16
	MaxTime        uint16
	ElapsedTime    uint16
}

// MaxTeamSize returns the configured maximum for color, zero for colors
// the server does not report a limit for.
func (g GameConfig) MaxTeamSize(c TeamColor) uint16 {
	if int(c) < len(g.MaxTeamSizes) {
		return g.MaxTeamSizes[c]
	}
	return 0
}

// Snapshot is the fully decoded result of one query.
type Snapshot struct {
	Address   string    `json:"address,omitempty"`
	QueriedAt time.Time `json:"queried_at"`

	Style          GameStyle `json:"style"`
	Options        Options   `json:"options"`
	MaxPlayers     uint16    `json:"max_players"`
	MaxShots       uint16    `json:"max_shots"`
	ShakeWins      uint16    `json:"shake_wins"`
	ShakeTimeout   uint16    `json:"shake_timeout"` // tenths of a second
	MaxPlayerScore uint16    `json:"max_player_score"`
	MaxTeamScore   uint16    `json:"max_team_score"`
	MaxTime        uint16    `json:"max_time"`
	ElapsedTime    uint16    `json:"elapsed_time"`

	Teams   []Team   `json:"teams"`
	Players []Player `json:"players"`
}

// NewSnapshot copies the scalar fields of cfg into a snapshot with the
// given teams and players.
func NewSnapshot(cfg GameConfig, teams []Team, players []Player) *Snapshot {
	if teams == nil {
		teams = []Team{}
	}
	if players == nil {
		players = []Player{}
	}
	return &Snapshot{
		Style:          cfg.Style,
		Options:        cfg.Options,
		MaxPlayers:     cfg.MaxPlayers,
		MaxShots:       cfg.MaxShots,
		ShakeWins:      cfg.ShakeWins,
		ShakeTimeout:   cfg.ShakeTimeout,
		MaxPlayerScore: cfg.MaxPlayerScore,
		MaxTeamScore:   cfg.MaxTeamScore,
		MaxTime:        cfg.MaxTime,
		ElapsedTime:    cfg.ElapsedTime,
		Teams:          teams,
		Players:        players,
	}
}

// ShakeTimeoutDuration converts ShakeTimeout to a time.Duration.
func (s *Snapshot) ShakeTimeoutDuration() time.Duration {
	return time.Duration(s.ShakeTimeout) * 100 * time.Millisecond
}
