package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/scheduler"
)

// RenderSnapshot writes the Configuration, Teams and Players sections of
// snap as tables.
func RenderSnapshot(w io.Writer, snap *protocol.Snapshot) {
	fmt.Fprintln(w, "Configuration")
	tw := newTable(w, "Setting", "Value")
	tw.Append([]string{"Game style", snap.Style.String()})
	tw.Append([]string{"Max players", strconv.Itoa(int(snap.MaxPlayers))})
	tw.Append([]string{"Max shots", strconv.Itoa(int(snap.MaxShots))})
	tw.Append([]string{"Flags", yesNo(snap.Options.SuperFlags)})
	tw.Append([]string{"Jumping", yesNo(snap.Options.Jumping)})
	tw.Append([]string{"Ricochet", yesNo(snap.Options.Ricochet)})
	tw.Append([]string{"Team kills", yesNo(!snap.Options.NoTeamKills)})
	if snap.Options.Shaking {
		tw.Append([]string{"Shake wins", strconv.Itoa(int(snap.ShakeWins))})
		tw.Append([]string{"Shake timeout", snap.ShakeTimeoutDuration().String()})
	}
	if snap.MaxTime > 0 {
		tw.Append([]string{"Time limit", (time.Duration(snap.MaxTime) * time.Second).String()})
	}
	tw.Render()
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Teams")
	tw = newTable(w, "Team", "Players", "Max", "Score")
	for _, team := range snap.Teams {
		// Teams the server does not allow.
		if team.MaxSize == 0 {
			continue
		}
		tw.Append([]string{
			team.Color.String(),
			strconv.Itoa(int(team.Size)),
			strconv.Itoa(int(team.MaxSize)),
			strconv.Itoa(team.Score()),
		})
	}
	tw.Render()
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Players")
	if len(snap.Players) == 0 {
		fmt.Fprintln(w, " No players online")
		return
	}
	tw = newTable(w, "Callsign", "Score", "Team")
	for _, p := range snap.Players {
		tw.Append([]string{p.Callsign, strconv.Itoa(p.Score()), p.Team.String()})
	}
	tw.Render()
}

// RenderJSON writes snap as indented JSON.
func RenderJSON(w io.Writer, snap *protocol.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// RenderStatuses writes one row per polled server.
func RenderStatuses(w io.Writer, statuses []scheduler.ServerStatus) {
	tw := newTable(w, "Server", "Address", "State", "Players", "Stage", "Error")
	for _, s := range statuses {
		players := "-"
		if s.State == events.PollStateOnline {
			players = strconv.Itoa(s.Players)
		}
		stage := s.Stage
		if stage == "" {
			stage = "-"
		}
		tw.Append([]string{s.Name, s.Address, s.State.String(), players, stage, s.Error})
	}
	tw.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
