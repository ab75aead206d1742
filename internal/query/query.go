// Package query drives one BZFlag server query from connect to decoded
// snapshot: handshake, game configuration, player count, team standings
// and one record per player. Each query owns its connection and closes it
// on return.
package query

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/util"
)

const (
	// DefaultPort is the standard bzfs port.
	DefaultPort = 5154

	// DefaultTimeout bounds a whole query, dial included.
	DefaultTimeout = 10 * time.Second
)

// Stage names the step of a query that failed.
type Stage string

const (
	StageConnect     Stage = "connect"
	StageHandshake   Stage = "handshake"
	StageGameConfig  Stage = "game_config"
	StagePlayerCount Stage = "player_count"
	StageTeamUpdate  Stage = "team_update"
	StagePlayers     Stage = "players"
)

// StageError wraps the error that aborted a query with the stage it
// happened in. The wrapped error matches one of the protocol.Err* kinds.
type StageError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("query %s failed at %s: %v", e.Address, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or "" if err is not a
// StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Client runs queries. The zero value is not usable; use NewClient.
type Client struct {
	dialer  net.Dialer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient creates a client whose queries are bounded by timeout. A zero
// timeout leaves queries bounded only by the caller's context; a server
// that never answers then blocks the query until the context ends.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		dialer:  net.Dialer{Timeout: timeout},
		timeout: timeout,
		logger:  util.ComponentLogger("query"),
	}
}

var defaultClient = NewClient(DefaultTimeout)

// Query runs a query with the default client.
func Query(ctx context.Context, host string, port uint16) (*protocol.Snapshot, error) {
	return defaultClient.Query(ctx, host, port)
}

// Timeout returns the per-query timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Query connects to host:port and returns the decoded snapshot. Any
// failure aborts the whole query; no partial snapshot is returned.
func (c *Client) Query(ctx context.Context, host string, port uint16) (*protocol.Snapshot, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &StageError{
			Stage:   StageConnect,
			Address: addr,
			Err:     fmt.Errorf("%w: %w", protocol.ErrConnection, err),
		}
	}
	defer conn.Close()

	return c.run(ctx, conn, addr)
}

// QueryConn runs the query exchange over an already established
// connection. The connection is closed before QueryConn returns.
func (c *Client) QueryConn(ctx context.Context, conn net.Conn) (*protocol.Snapshot, error) {
	defer conn.Close()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.run(ctx, conn, conn.RemoteAddr().String())
}

func (c *Client) run(ctx context.Context, conn net.Conn, addr string) (*protocol.Snapshot, error) {
	logger := c.logger.With().Str("addr", addr).Logger()
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, &StageError{
				Stage:   StageConnect,
				Address: addr,
				Err:     fmt.Errorf("%w: failed to set deadline: %w", protocol.ErrConnection, err),
			}
		}
	}

	// Cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	fail := func(stage Stage, err error) (*protocol.Snapshot, error) {
		ctxErr := ctx.Err()
		if ctxErr == nil && errors.Is(err, os.ErrDeadlineExceeded) {
			ctxErr = context.DeadlineExceeded
		}
		if ctxErr != nil {
			err = fmt.Errorf("%w (%w)", err, ctxErr)
		}
		logger.Debug().Err(err).Str("stage", string(stage)).Msg("query failed")
		return nil, &StageError{Stage: stage, Address: addr, Err: err}
	}

	tr := protocol.NewTransport(conn).WithLogger(logger)

	if err := tr.Handshake(); err != nil {
		return fail(StageHandshake, err)
	}

	payload, err := tr.Command(protocol.MsgQueryGame)
	if err != nil {
		return fail(StageGameConfig, err)
	}
	cfg, err := protocol.DecodeGameConfig(payload)
	if err != nil {
		return fail(StageGameConfig, err)
	}

	payload, err = tr.Command(protocol.MsgQueryPlayers)
	if err != nil {
		return fail(StagePlayerCount, err)
	}
	count, err := protocol.DecodePlayerCount(payload)
	if err != nil {
		return fail(StagePlayerCount, err)
	}

	payload, err = tr.Await(protocol.MsgTeamUpdate)
	if err != nil {
		return fail(StageTeamUpdate, err)
	}
	teams, err := protocol.DecodeTeamUpdate(payload, cfg)
	if err != nil {
		return fail(StageTeamUpdate, err)
	}

	players := make([]protocol.Player, 0, count)
	for i := 0; i < count; i++ {
		payload, err = tr.Await(protocol.MsgAddPlayer)
		if err != nil {
			return fail(StagePlayers, fmt.Errorf("player %d of %d: %w", i+1, count, err))
		}
		p, err := protocol.DecodePlayerAdd(payload)
		if err != nil {
			return fail(StagePlayers, fmt.Errorf("player %d of %d: %w", i+1, count, err))
		}
		players = append(players, p)
	}

	snap := protocol.NewSnapshot(cfg, teams, players)
	snap.Address = addr
	snap.QueriedAt = start.UTC()

	_, _, discarded := tr.Stats()
	logger.Debug().
		Str("style", snap.Style.String()).
		Int("teams", len(snap.Teams)).
		Int("players", len(snap.Players)).
		Int("discarded_frames", discarded).
		Dur("duration", time.Since(start)).
		Msg("query complete")

	return snap, nil
}
