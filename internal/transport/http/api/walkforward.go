package apihttp

import (
	"net/http"
	"strings"

	"quantdesk/internal/walkforward"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleWalkForward(c *gin.Context) {
	if s.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "walk-forward 未启用"})
		return
	}
	var req walkforward.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rep, err := s.analyzer.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (s *Server) handleWalkForwardDetail(c *gin.Context) {
	if s.results == nil {
		storeDisabled(c)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	rep, ok, err := s.results.GetWalkForward(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		notFound(c, "报告 "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}
