// Package scheduler polls the configured bzfs servers on an interval and
// prunes stored history once a day.
package scheduler

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/query"
	"github.com/bzfquery/bzfquery/internal/util"
)

// Querier runs one server query.
type Querier interface {
	Query(ctx context.Context, host string, port uint16) (*protocol.Snapshot, error)
}

// Pruner removes history older than a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// ServerStatus is the poll state of one configured server.
type ServerStatus struct {
	Name                string           `json:"name"`
	Address             string           `json:"address"`
	State               events.PollState `json:"state"`
	LastPoll            time.Time        `json:"last_poll,omitempty"`
	LastSuccess         time.Time        `json:"last_success,omitempty"`
	Players             int              `json:"players"`
	Stage               string           `json:"stage,omitempty"`
	Error               string           `json:"error,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// Scheduler polls every configured server on its own goroutine.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	querier  Querier
	pruner   Pruner
	logger   zerolog.Logger

	interval      time.Duration
	pruneInterval time.Duration

	mu       sync.RWMutex
	statuses map[string]*ServerStatus
	latest   map[string]*protocol.Snapshot
}

// NewScheduler creates a scheduler for the servers in cfg. pruner may be
// nil, in which case history is never pruned.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, querier Querier, pruner Pruner) *Scheduler {
	s := &Scheduler{
		cfg:           cfg,
		eventBus:      eventBus,
		querier:       querier,
		pruner:        pruner,
		logger:        util.ComponentLogger("scheduler"),
		interval:      cfg.PollInterval(),
		pruneInterval: time.Duration(cfg.Poller.PruneIntervalHours) * time.Hour,
		statuses:      make(map[string]*ServerStatus),
		latest:        make(map[string]*protocol.Snapshot),
	}

	for _, target := range cfg.GetServers() {
		s.statuses[target.Name] = &ServerStatus{
			Name:    target.Name,
			Address: targetAddress(target),
			State:   events.PollStatePending,
		}
	}

	return s
}

// Start runs the poll and prune loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	servers := s.cfg.GetServers()
	s.logger.Info().
		Int("servers", len(servers)).
		Dur("interval", s.interval).
		Msg("scheduler started")

	var wg sync.WaitGroup

	if s.cfg.Poller.Enabled && s.interval > 0 {
		for _, target := range servers {
			target := target
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runPollLoop(ctx, target)
			}()
		}
	}

	if s.pruner != nil && s.pruneInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPruneLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// runPollLoop polls target immediately and then once per interval.
func (s *Scheduler) runPollLoop(ctx context.Context, target config.ServerTarget) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.PollOnce(ctx, target)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce queries target, records the result and publishes it.
func (s *Scheduler) PollOnce(ctx context.Context, target config.ServerTarget) (*protocol.Snapshot, error) {
	addr := targetAddress(target)
	started := time.Now()

	snap, err := s.querier.Query(ctx, target.Host, uint16(target.Port))
	if ctx.Err() != nil {
		// Shutting down; the failure says nothing about the server.
		return nil, ctx.Err()
	}

	s.mu.Lock()
	status, ok := s.statuses[target.Name]
	if !ok {
		status = &ServerStatus{Name: target.Name, Address: addr}
		s.statuses[target.Name] = status
	}
	status.LastPoll = started.UTC()
	if err != nil {
		status.State = events.PollStateFailed
		status.Stage = string(query.StageOf(err))
		status.Error = err.Error()
		status.ConsecutiveFailures++
	} else {
		status.State = events.PollStateOnline
		status.LastSuccess = snap.QueriedAt
		status.Players = len(snap.Players)
		status.Stage = ""
		status.Error = ""
		status.ConsecutiveFailures = 0
		s.latest[target.Name] = snap
	}
	failures := status.ConsecutiveFailures
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("server", target.Name).
			Int("consecutive_failures", failures).
			Msg("poll failed")

		s.eventBus.Emit(ctx, events.Event{
			Type:   events.EventQueryFailed,
			Source: "scheduler",
			Payload: events.QueryFailedPayload{
				Server:   target.Name,
				Address:  addr,
				Stage:    string(query.StageOf(err)),
				Error:    err.Error(),
				FailedAt: started.UTC(),
			},
		})
		return nil, err
	}

	s.logger.Debug().
		Str("server", target.Name).
		Int("players", len(snap.Players)).
		Dur("duration", time.Since(started)).
		Msg("poll complete")

	s.eventBus.Emit(ctx, events.Event{
		Type:    events.EventSnapshotCollected,
		Source:  "scheduler",
		Payload: events.SnapshotPayload{Server: target.Name, Snapshot: snap},
	})
	return snap, nil
}

// runPruneLoop deletes history older than the configured retention.
func (s *Scheduler) runPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Scheduler) prune() {
	cutoff := time.Now().Add(-s.cfg.Retention())
	removed, err := s.pruner.Prune(cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history prune failed")
		return
	}
	s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("history pruned")
}

// Latest returns the most recent successful snapshot for a server.
func (s *Scheduler) Latest(name string) (*protocol.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[name]
	return snap, ok
}

// Status returns the poll status of one server.
func (s *Scheduler) Status(name string) (ServerStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[name]
	if !ok {
		return ServerStatus{}, false
	}
	return *status, true
}

// Statuses returns the poll status of every server, sorted by name.
func (s *Scheduler) Statuses() []ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServerStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func targetAddress(target config.ServerTarget) string {
	return net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
}

// String implements fmt.Stringer for log output.
func (s ServerStatus) String() string {
	return fmt.Sprintf("%s (%s): %s", s.Name, s.Address, s.State)
}
