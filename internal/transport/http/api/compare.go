package apihttp

import (
	"fmt"
	"net/http"

	"quantdesk/internal/backtest"
	"quantdesk/internal/strategy"

	"github.com/gin-gonic/gin"
)

type compareEntry struct {
	Strategy   string              `json:"strategy_name"`
	Parameters strategy.Parameters `json:"parameters"`
}

// compareRequest 可以引用已有回测，也可以在同一品种与区间上现跑多组策略，两者可混用。
type compareRequest struct {
	ResultIDs      []string           `json:"result_ids"`
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	Range          backtest.DateRange `json:"date_range"`
	InitialCapital float64            `json:"initial_capital"`
	Strategies     []compareEntry     `json:"strategies"`
}

const compareWorkers = 4

func (s *Server) handleCompare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.ResultIDs)+len(req.Strategies) < 2 {
		badRequest(c, fmt.Errorf("至少需要两组结果才能对比"))
		return
	}

	results := make([]backtest.Result, 0, len(req.ResultIDs)+len(req.Strategies))
	for _, id := range req.ResultIDs {
		res, ok := s.lookupBacktest(c, id)
		if !ok {
			return
		}
		results = append(results, res)
	}
	if len(req.Strategies) > 0 {
		reqs := make([]backtest.Request, len(req.Strategies))
		for i, e := range req.Strategies {
			reqs[i] = backtest.Request{
				Strategy:       e.Strategy,
				Symbol:         req.Symbol,
				Timeframe:      req.Timeframe,
				Range:          req.Range,
				Parameters:     e.Parameters,
				InitialCapital: req.InitialCapital,
				Persist:        true,
			}
		}
		ran, err := s.runner.RunAll(c.Request.Context(), reqs, compareWorkers)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, res := range ran {
			s.recent.Set(res)
		}
		results = append(results, ran...)
	}
	c.JSON(http.StatusOK, gin.H{"comparison": backtest.Compare(results)})
}
