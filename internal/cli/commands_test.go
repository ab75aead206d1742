package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/scheduler"
)

func sampleSnapshot() *protocol.Snapshot {
	return &protocol.Snapshot{
		Style:      protocol.StyleCaptureTheFlag,
		Options:    protocol.Options{SuperFlags: true, Jumping: true, NoTeamKills: true},
		MaxPlayers: 32,
		MaxShots:   3,
		Teams: []protocol.Team{
			{Color: protocol.TeamRogue, Size: 0, MaxSize: 0},
			{Color: protocol.TeamRed, Size: 2, MaxSize: 8, Wins: 5, Losses: 7},
			{Color: protocol.TeamBlue, Size: 1, MaxSize: 8, Wins: 3},
		},
		Players: []protocol.Player{
			{ID: 0, Team: protocol.TeamRed, Wins: 10, Losses: 4, Callsign: "Nexus"},
			{ID: 1, Team: protocol.TeamBlue, Wins: 1, Losses: 6, Callsign: "tank"},
		},
	}
}

func TestRenderSnapshot(t *testing.T) {
	var buf bytes.Buffer
	RenderSnapshot(&buf, sampleSnapshot())
	out := buf.String()

	for _, want := range []string{"Configuration", "Teams", "Players", "CTF", "Nexus", "tank"} {
		assert.Contains(t, out, want)
	}
	assert.Regexp(t, `Flags\s*\|\s*yes`, out)
	assert.Regexp(t, `Ricochet\s*\|\s*no`, out)
	assert.Regexp(t, `Team kills\s*\|\s*no`, out)
	assert.Regexp(t, `Red\s*\|\s*2\s*\|\s*8\s*\|\s*-2`, out)
	assert.Regexp(t, `Nexus\s*\|\s*6\s*\|\s*Red`, out)
	assert.NotContains(t, out, "Rogue")
	assert.NotContains(t, out, "No players online")
}

func TestRenderSnapshot_NoPlayers(t *testing.T) {
	snap := sampleSnapshot()
	snap.Players = nil

	var buf bytes.Buffer
	RenderSnapshot(&buf, snap)
	assert.Contains(t, buf.String(), " No players online")
}

func TestRenderStatuses(t *testing.T) {
	var buf bytes.Buffer
	RenderStatuses(&buf, []scheduler.ServerStatus{
		{Name: "alpha", Address: "a:5154", State: events.PollStateOnline, Players: 4},
		{Name: "beta", Address: "b:5154", State: events.PollStateFailed, Stage: "connect", Error: "refused"},
	})
	out := buf.String()
	assert.Regexp(t, `alpha\s*\|\s*a:5154\s*\|\s*online\s*\|\s*4`, out)
	assert.Regexp(t, `beta\s*\|\s*b:5154\s*\|\s*failed\s*\|\s*-\s*\|\s*connect\s*\|\s*refused`, out)
}

// fakeServer answers every connection with a one-player FFA game.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	cfg := protocol.GameConfig{
		Style:        protocol.StyleFreeForAll,
		MaxPlayers:   8,
		MaxTeamSizes: [protocol.MaxTeamSizeEntries]uint16{8},
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.SetDeadline(time.Now().Add(5 * time.Second))

				magic := make([]byte, len(protocol.Magic))
				if _, err := io.ReadFull(conn, magic); err != nil {
					return
				}
				conn.Write(protocol.HandshakeResponse(protocol.ProtocolVersion, 1))

				req := make([]byte, protocol.FrameHeaderSize)
				io.ReadFull(conn, req)
				conn.Write(protocol.Frame(protocol.MsgQueryGame, protocol.BuildGameConfig(cfg)))
				io.ReadFull(conn, req)
				conn.Write(protocol.Frame(protocol.MsgQueryPlayers, protocol.BuildPlayerCount(1, 1)))
				conn.Write(protocol.Frame(protocol.MsgTeamUpdate,
					protocol.BuildTeamUpdate([]protocol.Team{{Color: protocol.TeamRogue, Size: 1}})))
				conn.Write(protocol.Frame(protocol.MsgAddPlayer,
					protocol.BuildPlayerAdd(protocol.Player{Team: protocol.TeamRogue, Wins: 2, Callsign: "solo"})))
			}()
		}
	}()

	return ln.Addr().String()
}

func TestQueryCommand(t *testing.T) {
	addr := fakeServer(t)

	var out bytes.Buffer
	err := NewCLI(&out, nil).Execute(context.Background(), []string{addr})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "FFA")
	assert.Regexp(t, `solo\s*\|\s*2\s*\|\s*Rogue`, out.String())
}

func TestQueryCommand_JSON(t *testing.T) {
	addr := fakeServer(t)

	var out bytes.Buffer
	err := NewCLI(&out, nil).Execute(context.Background(), []string{"--json", addr})
	require.NoError(t, err)

	var snap protocol.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, protocol.StyleFreeForAll, snap.Style)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "solo", snap.Players[0].Callsign)
}

func TestQueryCommand_Errors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := ln.Addr().String()
	ln.Close()

	for _, args := range [][]string{
		{},
		{"host:notaport"},
		{"[::1"},
		{"--timeout", "2s", closed},
	} {
		var out bytes.Buffer
		err := NewCLI(&out, nil).Execute(context.Background(), args)
		assert.Error(t, err, args)
		assert.Empty(t, out.String(), args)
	}
}

func TestCheckCommand(t *testing.T) {
	addr := fakeServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Servers = []config.ServerTarget{{Name: "local", Host: host, Port: port}}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFile), data, 0644))

	var out bytes.Buffer
	err = NewCLI(&out, nil).Execute(context.Background(), []string{"check", "--config", dir})
	require.NoError(t, err)
	assert.Regexp(t, `local\s*\|.*\|\s*online\s*\|\s*1`, out.String())
}

func TestServeCommand(t *testing.T) {
	var gotDir string
	serve := func(ctx context.Context, configDir string) error {
		gotDir = configDir
		return nil
	}

	var out bytes.Buffer
	require.NoError(t, NewCLI(&out, serve).Execute(context.Background(), []string{"serve", "--config", "/etc/bzfquery"}))
	assert.Equal(t, "/etc/bzfquery", gotDir)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, NewCLI(&out, nil).Execute(context.Background(), []string{"version"}))
	assert.Contains(t, out.String(), protocol.ProtocolVersion)
}
