package apihttp

import (
	"net/http"
	"strings"

	"quantdesk/internal/optimizer"
	"quantdesk/internal/report"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleOptimizeStart(c *gin.Context) {
	if s.optimizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "优化器未启用"})
		return
	}
	var req optimizer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.optimizer.Validate(req); err != nil {
		writeError(c, err)
		return
	}
	job := s.jobs.Submit(req, s.optimizer.Optimize)
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleOptimizeList(c *gin.Context) {
	if s.results == nil {
		storeDisabled(c)
		return
	}
	list, err := s.results.ListOptimizations(c.Request.Context(), listFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optimizations": list})
}

// handleOptimizeDetail 接受任务 ID 或优化结果 ID。
func (s *Server) handleOptimizeDetail(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if job, ok := s.jobs.Get(id); ok {
		c.JSON(http.StatusOK, gin.H{"job": job})
		return
	}
	res, ok := s.lookupOptimization(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleOptimizeChart(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var res optimizer.OptimizationResult
	if job, ok := s.jobs.Get(id); ok {
		if job.Result == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "任务尚未完成", "status": job.Status})
			return
		}
		res = *job.Result
	} else {
		found, ok := s.lookupOptimization(c, id)
		if !ok {
			return
		}
		res = found
	}
	html, err := report.ConvergenceChart(res)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeChart(c, html)
}

func (s *Server) lookupOptimization(c *gin.Context, id string) (optimizer.OptimizationResult, bool) {
	if job, ok := s.jobs.FindByResult(id); ok && job.Result != nil {
		return *job.Result, true
	}
	if s.results == nil {
		notFound(c, "优化 "+id)
		return optimizer.OptimizationResult{}, false
	}
	res, ok, err := s.results.GetOptimization(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return optimizer.OptimizationResult{}, false
	}
	if !ok {
		notFound(c, "优化 "+id)
		return optimizer.OptimizationResult{}, false
	}
	return res, true
}
