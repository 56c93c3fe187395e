package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// reviewRequest is the body for POST /api/v1/notes/:id/review.
type reviewRequest struct {
	Quality *int `json:"quality" binding:"required"`
}

// restoreRequest is the body for POST /api/v1/notes/:id/restore.
type restoreRequest struct {
	Version *int `json:"version" binding:"required"`
}

// searchNotes handles GET /api/v1/notes/search?q=&k=.
func (s *Server) searchNotes(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	k := 10
	if v := c.Query("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			k = n
		}
	}

	results, err := s.opts.Notes.Search(c.Request.Context(), query, k)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results})
}

// getNote handles GET /api/v1/notes/:id.
func (s *Server) getNote(c *gin.Context) {
	note, err := s.opts.Notes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// reviewNote handles POST /api/v1/notes/:id/review.
func (s *Server) reviewNote(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quality is required (0..5)"})
		return
	}

	note, err := s.opts.Notes.Review(c.Request.Context(), c.Param("id"), *req.Quality)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// listNoteVersions handles GET /api/v1/notes/:id/versions.
func (s *Server) listNoteVersions(c *gin.Context) {
	versions, err := s.opts.Notes.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note_id": c.Param("id"), "versions": versions})
}

// restoreNote handles POST /api/v1/notes/:id/restore.
func (s *Server) restoreNote(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}

	note, err := s.opts.Notes.Restore(c.Request.Context(), c.Param("id"), *req.Version)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// rebuildIndex handles POST /api/v1/notes/rebuild-index. Re-embeds every
// live note and swaps the index atomically; slow but safe to call online.
func (s *Server) rebuildIndex(c *gin.Context) {
	if err := s.opts.Notes.RebuildIndex(c.Request.Context()); err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}
