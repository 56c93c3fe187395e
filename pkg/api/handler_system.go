package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// health handles GET /health: database reachability through the pool,
// worker state, breaker state per tier, and degraded sources.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy"}
	healthy := true

	if s.opts.Pool != nil {
		pool := s.opts.Pool.Health(ctx)
		body["workers"] = pool
		if !pool.IsHealthy {
			healthy = false
		}
	}
	if s.opts.Breakers != nil {
		body["model_tiers"] = s.opts.Breakers.BreakerStates()
	}
	if s.opts.Warnings != nil {
		body["degraded_sources"] = s.opts.Warnings.DegradedSources()
	}

	status := http.StatusOK
	if !healthy {
		body["status"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

// systemStats handles GET /api/v1/system/stats: queue tab counts, backlog
// depth and status breakdown, note counts, calibration table sizes.
func (s *Server) systemStats(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{}

	queueStats, err := s.opts.Queue.Stats(ctx)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	body["queue"] = queueStats

	backlog, err := s.opts.Ingest.StatusCounts(ctx)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	body["backlog"] = backlog

	if s.opts.Feedback != nil {
		buckets, patterns, err := s.opts.Feedback.TableSizes(ctx)
		if err != nil {
			s.mapServiceError(c, err)
			return
		}
		body["calibration"] = gin.H{"buckets": buckets, "sender_patterns": patterns}
	}

	if s.opts.Notes != nil {
		live, deleted := s.opts.Notes.Counts(ctx)
		body["notes"] = gin.H{"live": live, "deleted": deleted}
	}

	c.JSON(http.StatusOK, body)
}

// systemWarnings handles GET /api/v1/system/warnings.
func (s *Server) systemWarnings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"warnings": s.opts.Warnings.GetWarnings()})
}
