package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/db"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/query"
	"github.com/bzfquery/bzfquery/internal/scheduler"
)

// fakeBZFS answers every connection with a fixed game: one red team and
// the given callsigns. A version other than ProtocolVersion ends the
// exchange after the handshake.
func fakeBZFS(t *testing.T, version string, callsigns ...string) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	cfg := protocol.GameConfig{
		Style:        protocol.StyleCaptureTheFlag,
		MaxPlayers:   16,
		MaxTeamSizes: [protocol.MaxTeamSizeEntries]uint16{0, 8},
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
				conn.Write(protocol.HandshakeResponse(version, 1))
				if version != protocol.ProtocolVersion {
					return
				}

				req := make([]byte, protocol.FrameHeaderSize)
				io.ReadFull(conn, req)
				conn.Write(protocol.Frame(protocol.MsgQueryGame, protocol.BuildGameConfig(cfg)))
				io.ReadFull(conn, req)
				conn.Write(protocol.Frame(protocol.MsgQueryPlayers, protocol.BuildPlayerCount(1, uint16(len(callsigns)))))
				conn.Write(protocol.Frame(protocol.MsgTeamUpdate,
					protocol.BuildTeamUpdate([]protocol.Team{{Color: protocol.TeamRed, Size: uint16(len(callsigns))}})))
				for i, cs := range callsigns {
					conn.Write(protocol.Frame(protocol.MsgAddPlayer,
						protocol.BuildPlayerAdd(protocol.Player{ID: uint8(i), Team: protocol.TeamRed, Callsign: cs})))
				}
			}()
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

type testEnv struct {
	cfg    *config.Config
	server *Server
	sched  *scheduler.Scheduler
	store  *db.Store
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	goodPort := fakeBZFS(t, protocol.ProtocolVersion, "Nexus", "tank")
	badPort := fakeBZFS(t, "BZFS0026")

	cfg := config.DefaultConfig()
	cfg.API.RateLimitRPS = 0
	cfg.API.AllowLiveQuery = true
	cfg.Servers = []config.ServerTarget{
		{Name: "good", Host: "127.0.0.1", Port: int(goodPort)},
		{Name: "old", Host: "127.0.0.1", Port: int(badPort)},
	}

	client := query.NewClient(5 * time.Second)
	bus := events.NewEventBus()
	env := &testEnv{cfg: cfg}

	var store HistoryStore
	if withStore {
		s, err := db.NewStore(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		env.store = s
		store = s
	}

	env.sched = scheduler.NewScheduler(cfg, bus, client, nil)
	env.server = NewServer(cfg, client, env.sched, store)
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	e.server.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestPingAndInfo(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.get(t, "/api/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, body = env.get(t, "/api/info")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.ProtocolVersion, body["protocol"])
	assert.EqualValues(t, 2, body["servers"])
	assert.Contains(t, body, "system")
}

func TestLiveQuery(t *testing.T) {
	env := newTestEnv(t, false)
	port := env.cfg.Servers[0].Port

	rec, body := env.get(t, "/api/query?host=127.0.0.1&port="+strconv.Itoa(port))
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "CTF", body["style"])
	players := body["players"].([]interface{})
	require.Len(t, players, 2)
	assert.Equal(t, "Nexus", players[0].(map[string]interface{})["callsign"])

	// host:port form
	rec, _ = env.get(t, "/api/query?host=127.0.0.1:"+strconv.Itoa(port))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveQuery_BadInput(t *testing.T) {
	env := newTestEnv(t, false)

	for _, path := range []string{
		"/api/query",
		"/api/query?host=",
		"/api/query?host=localhost&port=0",
		"/api/query?host=localhost&port=99999",
		"/api/query?host=localhost:abc",
	} {
		rec, body := env.get(t, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, body, "error")
	}
}

func TestLiveQuery_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	env.cfg.API.AllowLiveQuery = false
	port := env.cfg.Servers[0].Port

	rec, body := env.get(t, "/api/query?host=127.0.0.1&port="+strconv.Itoa(port))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "live queries are disabled", body["error"])
	assert.NotContains(t, body, "players")
}

func TestLiveQuery_Failure(t *testing.T) {
	env := newTestEnv(t, false)
	port := env.cfg.Servers[1].Port

	rec, body := env.get(t, "/api/query?host=127.0.0.1&port="+strconv.Itoa(port))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "handshake", body["stage"])
	assert.Equal(t, "protocol_mismatch", body["kind"])
	assert.Contains(t, body["error"], "BZFS0026")
}

func TestServers(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.get(t, "/api/servers")
	require.Equal(t, http.StatusOK, rec.Code)
	servers := body["servers"].([]interface{})
	require.Len(t, servers, 2)
	assert.Equal(t, "pending", servers[0].(map[string]interface{})["state"])

	// Nothing polled yet.
	rec, _ = env.get(t, "/api/servers/good/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ctx := context.Background()
	snap, err := env.sched.PollOnce(ctx, env.cfg.Servers[0])
	require.NoError(t, err)
	_, err = env.store.SaveSnapshot("good", snap)
	require.NoError(t, err)

	_, err = env.sched.PollOnce(ctx, env.cfg.Servers[1])
	require.Error(t, err)

	rec, body = env.get(t, "/api/servers")
	servers = body["servers"].([]interface{})
	assert.Equal(t, "online", servers[0].(map[string]interface{})["state"])
	assert.Equal(t, "failed", servers[1].(map[string]interface{})["state"])
	assert.Equal(t, "handshake", servers[1].(map[string]interface{})["stage"])

	rec, body = env.get(t, "/api/servers/good/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["players"], 2)

	rec, body = env.get(t, "/api/servers/good/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["snapshots"], 1)

	rec, _ = env.get(t, "/api/servers/good/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.get(t, "/api/servers/missing/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = env.get(t, "/api/servers/old/failures")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["failures"])
}

func TestLatest_FallsBackToPoller(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.sched.PollOnce(context.Background(), env.cfg.Servers[0])
	require.NoError(t, err)

	rec, body := env.get(t, "/api/servers/good/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CTF", body["style"])

	rec, body = env.get(t, "/api/servers/good/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["snapshots"], 1)
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t, false)
	rec, body := env.get(t, "/api/nothing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint not found", body["error"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	assert.True(t, NewRateLimiter(0).Allow("a"))
}
