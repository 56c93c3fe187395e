// Package api exposes the operational HTTP surface: approval queue
// operations, note search and review, cross-source search, reanalysis, a
// server-sent event stream with journal catchup, and health/stats.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/events"
	"github.com/majordome-ai/majordome/pkg/queue"
	"github.com/majordome-ai/majordome/pkg/services"
)

// PoolHealthReporter is the worker-pool surface the health endpoint reads.
type PoolHealthReporter interface {
	Health(ctx context.Context) queue.PoolHealth
}

// BreakerReporter reports circuit-breaker state per model tier.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Options wires a Server. Pool, Breakers, Journal, and Bus may be nil; the
// corresponding endpoints degrade (health omits those sections, the event
// stream rejects requests).
type Options struct {
	Queue    *services.QueueService
	Notes    *services.NotesService
	Search   *services.SearchService
	Ingest   *services.IngestService
	Feedback *services.FeedbackService
	Warnings *services.SystemWarningsService

	Journal  *events.Journal
	Bus      *bus.Bus
	Pool     PoolHealthReporter
	Breakers BreakerReporter

	Logger *slog.Logger
}

// Server is the HTTP server over the service layer. Handlers stay thin:
// bind, validate, call the service, map the error.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:   opts,
		logger: logger.With("component", "api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the underlying engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), securityHeaders())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/queue", s.listQueue)
		v1.GET("/queue/stats", s.queueStats)
		v1.GET("/queue/:id", s.getQueueItem)
		v1.POST("/queue/:id/approve", s.approveQueueItem)
		v1.POST("/queue/:id/reject", s.rejectQueueItem)
		v1.POST("/queue/:id/snooze", s.snoozeQueueItem)
		v1.POST("/queue/:id/cancel-snooze", s.cancelSnooze)
		v1.POST("/queue/:id/undo", s.undoQueueItem)

		v1.GET("/events/:id", s.getBacklogEvent)
		v1.POST("/events/:id/reanalyze", s.reanalyzeEvent)
		v1.GET("/events/stream", s.streamEvents)

		v1.GET("/notes/search", s.searchNotes)
		v1.POST("/notes/rebuild-index", s.rebuildIndex)
		v1.GET("/notes/:id", s.getNote)
		v1.POST("/notes/:id/review", s.reviewNote)
		v1.GET("/notes/:id/versions", s.listNoteVersions)
		v1.POST("/notes/:id/restore", s.restoreNote)

		v1.POST("/search", s.crossSourceSearch)

		v1.GET("/system/stats", s.systemStats)
		v1.GET("/system/warnings", s.systemWarnings)
	}

	return router
}

// Start serves on addr until Shutdown. Blocks; returns http.ErrServerClosed
// on a clean shutdown like net/http does.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
