package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth is the liveness probe
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handleStatus returns the node's aggregate diagnostic report
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.StatusReport())
}
