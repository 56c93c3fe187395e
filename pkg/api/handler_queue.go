package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/majordome-ai/majordome/pkg/models"
)

// approveRequest is the body for POST /api/v1/queue/:id/approve.
type approveRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

// rejectRequest is the body for POST /api/v1/queue/:id/reject.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// snoozeRequest is the body for POST /api/v1/queue/:id/snooze.
type snoozeRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

// listQueue handles GET /api/v1/queue?tab=&limit=&offset=.
func (s *Server) listQueue(c *gin.Context) {
	tab := models.QueueTab(c.DefaultQuery("tab", string(models.TabToProcess)))

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := s.opts.Queue.ListByTab(c.Request.Context(), tab, limit, offset)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tab":    tab,
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

// queueStats handles GET /api/v1/queue/stats.
func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.opts.Queue.Stats(c.Request.Context())
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getQueueItem handles GET /api/v1/queue/:id.
func (s *Server) getQueueItem(c *gin.Context) {
	item, err := s.opts.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// approveQueueItem handles POST /api/v1/queue/:id/approve.
func (s *Server) approveQueueItem(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option_id is required"})
		return
	}

	item, err := s.opts.Queue.Approve(c.Request.Context(), c.Param("id"), req.OptionID)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// rejectQueueItem handles POST /api/v1/queue/:id/reject.
func (s *Server) rejectQueueItem(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	item, err := s.opts.Queue.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// snoozeQueueItem handles POST /api/v1/queue/:id/snooze.
func (s *Server) snoozeQueueItem(c *gin.Context) {
	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "until is required and must be RFC 3339"})
		return
	}

	item, err := s.opts.Queue.Snooze(c.Request.Context(), c.Param("id"), req.Until)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// cancelSnooze handles POST /api/v1/queue/:id/cancel-snooze.
func (s *Server) cancelSnooze(c *gin.Context) {
	item, err := s.opts.Queue.CancelSnooze(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// undoQueueItem handles POST /api/v1/queue/:id/undo.
func (s *Server) undoQueueItem(c *gin.Context) {
	item, err := s.opts.Queue.Undo(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
