package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"quantdesk/internal/backtest"
	"quantdesk/internal/report"
	"quantdesk/internal/store/gormstore"
	"quantdesk/internal/strategy"

	"github.com/gin-gonic/gin"
)

type backtestRequest struct {
	Strategy       string              `json:"strategy_name" binding:"required"`
	Symbol         string              `json:"symbol" binding:"required"`
	Timeframe      string              `json:"timeframe"`
	Range          backtest.DateRange  `json:"date_range"`
	Parameters     strategy.Parameters `json:"parameters"`
	InitialCapital float64             `json:"initial_capital"`
}

func (r backtestRequest) toRequest() backtest.Request {
	return backtest.Request{
		Strategy:       r.Strategy,
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		Range:          r.Range,
		Parameters:     r.Parameters,
		InitialCapital: r.InitialCapital,
		Persist:        true,
	}
}

func (s *Server) handleBacktestRun(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.runner.Run(c.Request.Context(), req.toRequest())
	if err != nil {
		writeError(c, err)
		return
	}
	s.recent.Set(res)
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	if s.results == nil {
		storeDisabled(c)
		return
	}
	list, err := s.results.ListBacktests(c.Request.Context(), listFilter(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtests": list})
}

func (s *Server) handleBacktestDetail(c *gin.Context) {
	res, ok := s.lookupBacktest(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) handleBacktestAnalysis(c *gin.Context) {
	res, ok := s.lookupBacktest(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": backtest.Analyze(res)})
}

func (s *Server) handleBacktestChart(c *gin.Context) {
	res, ok := s.lookupBacktest(c, c.Param("id"))
	if !ok {
		return
	}
	html, err := report.EquityChart(res)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeChart(c, html)
}

// lookupBacktest 先查内存中的最近结果，再查结果库；未命中时已写好响应。
func (s *Server) lookupBacktest(c *gin.Context, id string) (backtest.Result, bool) {
	id = strings.TrimSpace(id)
	if res, ok := s.recent.Get(id); ok {
		return res, true
	}
	if s.results == nil {
		notFound(c, "回测 "+id)
		return backtest.Result{}, false
	}
	res, ok, err := s.results.GetBacktest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return backtest.Result{}, false
	}
	if !ok {
		notFound(c, "回测 "+id)
		return backtest.Result{}, false
	}
	return res, true
}

// writeChart 默认返回 HTML；format=png 时用 headless chrome 截图。
func (s *Server) writeChart(c *gin.Context, html []byte) {
	if strings.EqualFold(c.Query("format"), "png") {
		png, err := report.Snapshot(c.Request.Context(), html, 0, 0, s.snapshotTimeout)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func listFilter(c *gin.Context) gormstore.Filter {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return gormstore.Filter{
		Strategy: c.Query("strategy"),
		Symbol:   c.Query("symbol"),
		Limit:    limit,
		Offset:   offset,
	}
}
