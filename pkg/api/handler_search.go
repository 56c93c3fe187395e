package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/majordome-ai/majordome/pkg/models"
)

// crossSourceSearch handles POST /api/v1/search.
func (s *Server) crossSourceSearch(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.opts.Search.Search(c.Request.Context(), req)
	if err != nil {
		s.mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
