package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/util"
)

// ErrNotFound is returned when a server has no stored snapshot.
var ErrNotFound = errors.New("not found")

// Store keeps the snapshot and failure history of polled servers.
type Store struct {
	db     *Database
	logger zerolog.Logger
}

// Failure is one stored failed poll.
type Failure struct {
	ID       int64     `json:"id"`
	Server   string    `json:"server"`
	Address  string    `json:"address"`
	Stage    string    `json:"stage"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NewStore opens the database at dbPath and migrates the schema.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     database,
		logger: util.ComponentLogger("store"),
	}

	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate snapshot database: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			address TEXT NOT NULL,
			queried_at INTEGER NOT NULL,
			style TEXT NOT NULL,
			player_count INTEGER NOT NULL,
			body TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS query_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			address TEXT NOT NULL,
			stage TEXT NOT NULL,
			error TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_server_time ON snapshots(server, queried_at);
		CREATE INDEX IF NOT EXISTS idx_failures_server_time ON query_failures(server, failed_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	s.logger.Debug().Msg("database schema migrated")
	return nil
}

// SaveSnapshot stores snap under server and returns its row id.
func (s *Store) SaveSnapshot(server string, snap *protocol.Snapshot) (int64, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO snapshots (server, address, queried_at, style, player_count, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		server, snap.Address, snap.QueriedAt.UnixNano(), snap.Style.String(), len(snap.Players), string(body))
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot for %s: %w", server, err)
	}

	return res.LastInsertId()
}

// SaveFailure stores a failed poll.
func (s *Store) SaveFailure(f events.QueryFailedPayload) error {
	failedAt := f.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO query_failures (server, address, stage, error, failed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.Server, f.Address, f.Stage, f.Error, failedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert failure for %s: %w", f.Server, err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot stored for server, or
// ErrNotFound.
func (s *Store) LatestSnapshot(server string) (*protocol.Snapshot, error) {
	var body string
	err := s.db.QueryRow(
		`SELECT body FROM snapshots WHERE server = ? ORDER BY queried_at DESC, id DESC LIMIT 1`,
		server).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", server, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", server, err)
	}

	return decodeSnapshot(body)
}

// History returns up to limit snapshots for server, newest first.
func (s *Store) History(server string, limit int) ([]*protocol.Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT body FROM snapshots WHERE server = ? ORDER BY queried_at DESC, id DESC LIMIT ?`,
		server, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", server, err)
	}
	defer rows.Close()

	history := []*protocol.Snapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(body)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}

	return history, rows.Err()
}

// Failures returns up to limit failures for server, newest first.
func (s *Store) Failures(server string, limit int) ([]Failure, error) {
	rows, err := s.db.Query(
		`SELECT id, server, address, stage, error, failed_at FROM query_failures
		 WHERE server = ? ORDER BY failed_at DESC, id DESC LIMIT ?`,
		server, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures for %s: %w", server, err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var (
			f  Failure
			ns int64
		)
		if err := rows.Scan(&f.ID, &f.Server, &f.Address, &f.Stage, &f.Error, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.FailedAt = time.Unix(0, ns).UTC()
		failures = append(failures, f)
	}

	return failures, rows.Err()
}

// Prune deletes rows recorded before cutoff and returns how many were
// removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	var removed int64

	err := s.db.Transaction(func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM snapshots WHERE queried_at < ?`,
			`DELETE FROM query_failures WHERE failed_at < ?`,
		} {
			res, err := tx.Exec(stmt, cutoff.UnixNano())
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	if removed > 0 {
		s.logger.Info().Int64("rows", removed).Time("cutoff", cutoff).Msg("pruned history")
	}
	return removed, nil
}

// Subscribe records every poll result published on bus.
func (s *Store) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSnapshotCollected, "store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SnapshotPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		_, err := s.SaveSnapshot(p.Server, p.Snapshot)
		return err
	})

	bus.Subscribe(events.EventQueryFailed, "store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.QueryFailedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return s.SaveFailure(p)
	})
}

func decodeSnapshot(body string) (*protocol.Snapshot, error) {
	var snap protocol.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode stored snapshot: %w", err)
	}
	return &snap, nil
}
