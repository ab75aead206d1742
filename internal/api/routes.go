package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bzfquery/bzfquery/internal/db"
	"github.com/bzfquery/bzfquery/internal/protocol"
	"github.com/bzfquery/bzfquery/internal/query"
	"github.com/bzfquery/bzfquery/internal/scheduler"
	"github.com/bzfquery/bzfquery/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "bzfquery",
		"version": util.Version,
	})
}

// handleInfo reports the version, protocol and host.
func (s *Server) handleInfo(c *gin.Context) {
	resp := gin.H{
		"version":  util.Version,
		"protocol": protocol.ProtocolVersion,
		"servers":  len(s.cfg.GetServers()),
		"system":   util.GetSystemInfo(),
	}
	if usage, err := util.GetResourceUsage("."); err == nil {
		resp["usage"] = usage
	}
	c.JSON(http.StatusOK, resp)
}

// handleQuery runs a live query: /api/query?host=...&port=...
func (s *Server) handleQuery(c *gin.Context) {
	if !s.cfg.API.AllowLiveQuery {
		c.JSON(http.StatusForbidden, gin.H{"error": "live queries are disabled"})
		return
	}

	defaultPort := uint16(s.cfg.Query.DefaultPort)

	host, port, err := query.ParseAddress(c.Query("host"), defaultPort)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p := c.Query("port"); p != "" {
		port, err = query.ParsePort(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	snap, err := s.querier.Query(c.Request.Context(), host, port)
	if err != nil {
		log.Debug().Err(err).Str("host", host).Uint16("port", port).Msg("live query failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"stage": query.StageOf(err),
			"kind":  query.KindOf(err),
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleListServers returns every configured server with its poll status.
func (s *Server) handleListServers(c *gin.Context) {
	statuses := s.poller.Statuses()
	if statuses == nil {
		statuses = []scheduler.ServerStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"servers": statuses})
}

// handleLatest returns the newest snapshot of a configured server.
func (s *Server) handleLatest(c *gin.Context) {
	name, ok := s.knownServer(c)
	if !ok {
		return
	}

	if s.store != nil {
		snap, err := s.store.LatestSnapshot(name)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, snap)
			return
		case !errors.Is(err, db.ErrNotFound):
			s.internalError(c, err)
			return
		}
	}

	if snap, ok := s.poller.Latest(name); ok {
		c.JSON(http.StatusOK, snap)
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot collected yet"})
}

// handleHistory returns stored snapshots, newest first.
func (s *Server) handleHistory(c *gin.Context) {
	name, ok := s.knownServer(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	if s.store == nil {
		history := []*protocol.Snapshot{}
		if snap, ok := s.poller.Latest(name); ok {
			history = append(history, snap)
		}
		c.JSON(http.StatusOK, gin.H{"server": name, "snapshots": history})
		return
	}

	history, err := s.store.History(name, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": name, "snapshots": history})
}

// handleFailures returns stored failed polls, newest first.
func (s *Server) handleFailures(c *gin.Context) {
	name, ok := s.knownServer(c)
	if !ok {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	failures := []db.Failure{}
	if s.store != nil {
		var err error
		failures, err = s.store.Failures(name, limit)
		if err != nil {
			s.internalError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"server": name, "failures": failures})
}

func (s *Server) knownServer(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if _, ok := s.cfg.FindServer(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
		return "", false
	}
	return name, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("api request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}
