package protocol

import "fmt"

// DecodeGameConfig decodes a qg response payload.
// Layout must match sendQueryGame in src/bzfs/bzfs.cxx.
func DecodeGameConfig(payload []byte) (GameConfig, error) {
	var cfg GameConfig
	if len(payload) < GameConfigSize {
		return cfg, truncated("game config", GameConfigSize, len(payload))
	}

	r := slotReader{buf: payload}
	rawStyle := r.u16(slotStyle)
	mask := r.u16(slotOptions)
	cfg.MaxPlayers = r.u16(slotMaxPlayers)
	cfg.MaxShots = r.u16(slotMaxShots)
	cfg.ObserverSize = r.u16(slotObserverSize)
	for i := range cfg.MaxTeamSizes {
		cfg.MaxTeamSizes[i] = r.u16(slotMaxTeamSize + i)
	}
	cfg.ShakeWins = r.u16(slotShakeWins)
	cfg.ShakeTimeout = r.u16(slotShakeTimeout)
	cfg.MaxPlayerScore = r.u16(slotMaxPlayerScore)
	cfg.MaxTeamScore = r.u16(slotMaxTeamScore)
	cfg.MaxTime = r.u16(slotMaxTime)
	cfg.ElapsedTime = r.u16(slotElapsedTime)
	if r.err != nil {
		return cfg, r.err
	}

	style, err := ParseGameStyle(rawStyle)
	if err != nil {
		return cfg, err
	}
	cfg.Style = style
	cfg.Options = OptionsFromMask(mask)

	return cfg, nil
}

// DecodePlayerCount decodes a qp response payload and returns the number
// of ap records the server is about to send.
// Layout must match sendQueryPlayers in src/bzfs/bzfs.cxx.
func DecodePlayerCount(payload []byte) (int, error) {
	n, err := Uint16At(payload, slotPlayerCount)
	if err != nil {
		return 0, fmt.Errorf("player count: %w", err)
	}
	return int(n), nil
}

// DecodeTeamUpdate decodes a tu response payload. Max sizes are taken from
// cfg. The Observer team is not part of tu and is appended last.
// Layout must match sendTeamUpdate in src/bzfs/bzfs.cxx.
func DecodeTeamUpdate(payload []byte, cfg GameConfig) ([]Team, error) {
	if len(payload) < 1 {
		return nil, truncated("team update", 1, 0)
	}

	count := int(payload[0])
	need := 1 + count*teamSlots*2
	if len(payload) < need {
		return nil, truncated("team update", need, len(payload))
	}

	r := slotReader{buf: payload[1:]}
	teams := make([]Team, 0, count+1)
	for i := 0; i < count; i++ {
		base := i * teamSlots
		rawColor := r.u16(base)
		size := r.u16(base + 1)
		wins := r.u16(base + 2)
		losses := r.u16(base + 3)
		if r.err != nil {
			return nil, r.err
		}

		color, err := ParseTeamColor(rawColor)
		if err != nil {
			return nil, fmt.Errorf("team %d: %w", i, err)
		}

		teams = append(teams, Team{
			Color:   color,
			Size:    size,
			MaxSize: cfg.MaxTeamSize(color),
			Wins:    wins,
			Losses:  losses,
		})
	}

	teams = append(teams, Team{
		Color:   TeamObserver,
		Size:    cfg.ObserverSize,
		MaxSize: cfg.MaxTeamSize(TeamObserver),
	})

	return teams, nil
}

// DecodePlayerAdd decodes an ap response payload.
// Layout must match sendPlayerUpdate in src/bzfs/bzfs.cxx.
func DecodePlayerAdd(payload []byte) (Player, error) {
	var p Player
	if len(payload) < PlayerAddSize {
		return p, truncated("player", PlayerAddSize, len(payload))
	}

	p.ID = payload[0]
	body := payload[1:]

	r := slotReader{buf: body}
	p.Type = r.u16(0)
	rawTeam := r.u16(1)
	p.Wins = r.u16(2)
	p.Losses = r.u16(3)
	p.TeamKills = r.u16(4)
	if r.err != nil {
		return p, r.err
	}

	team, err := ParseTeamColor(rawTeam)
	if err != nil {
		return p, fmt.Errorf("player %d: %w", p.ID, err)
	}
	p.Team = team

	const callsignStart = playerNumericSlots * 2
	const mottoStart = callsignStart + CallsignLen

	if p.Callsign, err = fixedText(body[callsignStart:mottoStart], "callsign"); err != nil {
		return p, fmt.Errorf("player %d: %w", p.ID, err)
	}
	if p.Motto, err = fixedText(body[mottoStart:mottoStart+MottoLen], "motto"); err != nil {
		return p, fmt.Errorf("player %d: %w", p.ID, err)
	}

	return p, nil
}
