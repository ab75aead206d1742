// Package api serves live queries and poll history over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/db"
	"github.com/bzfquery/bzfquery/internal/network"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/scheduler"
)

// Querier runs a live query.
type Querier interface {
	Query(ctx context.Context, host string, port uint16) (*protocol.Snapshot, error)
}

// PollStatus exposes the poller's in-memory state.
type PollStatus interface {
	Statuses() []scheduler.ServerStatus
	Status(name string) (scheduler.ServerStatus, bool)
	Latest(name string) (*protocol.Snapshot, bool)
}

// HistoryStore exposes stored poll results.
type HistoryStore interface {
	LatestSnapshot(server string) (*protocol.Snapshot, error)
	History(server string, limit int) ([]*protocol.Snapshot, error)
	Failures(server string, limit int) ([]db.Failure, error)
}

// Server is the REST API server.
type Server struct {
	cfg     *config.Config
	querier Querier
	poller  PollStatus
	store   HistoryStore

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates an API server. store may be nil, in which case
// history endpoints fall back to the poller's latest results.
func NewServer(cfg *config.Config, querier Querier, poller PollStatus, store HistoryStore) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		querier: querier,
		poller:  poller,
		store:   store,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.API.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/info", s.handleInfo)
		api.GET("/query", s.handleQuery)

		servers := api.Group("/servers")
		servers.GET("", s.handleListServers)
		servers.GET("/:name/latest", s.handleLatest)
		servers.GET("/:name/history", s.handleHistory)
		servers.GET("/:name/failures", s.handleFailures)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
