package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/majordome-ai/majordome/pkg/bus"
)

// getBacklogEvent handles GET /api/v1/events/:id.
func (s *Server) getBacklogEvent(c *gin.Context) {
	row, err := s.opts.Ingest.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// reanalyzeEvent handles POST /api/v1/events/:id/reanalyze. The backlog row
// returns to pending with a strong-tier marker; a worker picks it up.
func (s *Server) reanalyzeEvent(c *gin.Context) {
	eventID := c.Param("id")
	if err := s.opts.Ingest.Reanalyze(c.Request.Context(), eventID); err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": eventID, "status": "pending"})
}

// streamEvents handles GET /api/v1/events/stream?kinds=&last_event_id=.
// Events are sent as SSE frames; a reconnecting client passes the id of the
// last frame it saw and receives the journalled gap before the live stream.
func (s *Server) streamEvents(c *gin.Context) {
	if s.opts.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	kinds := parseKinds(c.Query("kinds"))
	sub := s.opts.Bus.Subscribe(kinds...)
	defer s.opts.Bus.Unsubscribe(sub)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	// Catchup happens after subscribing so nothing falls in the gap; the
	// client deduplicates by frame id on the rare overlap.
	lastEventID := c.Query("last_event_id")
	if lastEventID == "" {
		lastEventID = c.GetHeader("Last-Event-ID")
	}
	if lastEventID != "" && s.opts.Journal != nil {
		ctx := c.Request.Context()
		seq, err := s.opts.Journal.SeqOf(ctx, lastEventID)
		if err != nil {
			s.logger.Warn("Failed to resolve last event id", "last_event_id", lastEventID, "error", err)
		} else if seq > 0 {
			entries, err := s.opts.Journal.ListSince(ctx, seq, kinds, 0)
			if err != nil {
				s.logger.Warn("Failed to read journal for catchup", "error", err)
			}
			for _, entry := range entries {
				if !writeFrame(c.Writer, entry.Event) {
					return
				}
			}
		}
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if !writeFrame(c.Writer, ev) {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeFrame(w io.Writer, ev bus.Event) bool {
	err := sse.Encode(w, sse.Event{
		Id:    ev.ID,
		Event: string(ev.Kind),
		Data:  ev,
	})
	return err == nil
}

func parseKinds(raw string) []bus.Kind {
	if raw == "" {
		return nil
	}
	var kinds []bus.Kind
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			kinds = append(kinds, bus.Kind(name))
		}
	}
	return kinds
}
