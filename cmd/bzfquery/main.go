// bzfquery queries BZFlag game servers.
//
// Run with a host[:port] argument it performs a single query and prints the
// game configuration, team standings and player roster. The serve command
// polls the configured servers, keeps their history in SQLite, serves it
// over a REST API and optionally publishes results to an MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bzfquery/bzfquery/internal/api"
	"github.com/bzfquery/bzfquery/internal/cli"
	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/db"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/query"
	"github.com/bzfquery/bzfquery/internal/scheduler"
	"github.com/bzfquery/bzfquery/internal/telemetry"
	"github.com/bzfquery/bzfquery/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewCLI(os.Stdout, runServe).Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// runServe starts the poller, history store, REST API and MQTT telemetry and
// blocks until ctx is cancelled or a critical component fails.
func runServe(ctx context.Context, configDir string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to initialize file logging, using console only")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("hostname", sysInfo.Hostname).
		Int("servers", len(cfg.GetServers())).
		Msg("starting bzfquery")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eventBus := events.NewEventBus()

	store, err := db.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()
	store.Subscribe(eventBus)

	client := query.NewClient(cfg.QueryTimeout())
	sched := scheduler.NewScheduler(cfg, eventBus, client, store)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, client, sched, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	reason := "signal"
	if runErr != nil {
		reason = runErr.Error()
	}
	if err := eventBus.EmitSync(context.Background(), events.Event{
		Type:    events.EventShutdown,
		Source:  "main",
		Payload: events.ShutdownPayload{Reason: reason},
	}); err != nil {
		log.Warn().Err(err).Msg("shutdown handler failed")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("bzfquery stopped")
	return runErr
}

// startWithRetry retries startFn on bind errors at a fixed interval and
// returns the last error once maxRetries is exhausted.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
