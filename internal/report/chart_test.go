package report

import (
	"math"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/strategy"

	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func sampleResult() backtest.Result {
	times := make([]int64, 5)
	for i := range times {
		times[i] = t0.Add(time.Duration(i) * time.Hour).UnixMilli()
	}
	return backtest.Result{
		ID:          "bt-1",
		Strategy:    strategy.RSIStrategyID,
		Symbol:      "BTCUSDT",
		Timeframe:   "1h",
		EquityTimes: times,
		EquityCurve: []float64{10000, 10200, 9900, 10100, 10400},
		Trades: []backtest.Trade{
			{EntryTime: t0.Add(time.Hour), ExitTime: t0.Add(3 * time.Hour), ExitReason: backtest.ExitSignal},
		},
		Metrics: backtest.Metrics{TotalTrades: 1, TotalReturnPct: 4},
	}
}

func TestEquityChart(t *testing.T) {
	html, err := EquityChart(sampleResult())
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "echarts")
	assert.Contains(t, page, "资金")
	assert.Contains(t, page, "开仓")
	assert.Contains(t, page, "回撤")

	_, err = EquityChart(backtest.Result{ID: "empty"})
	assert.Error(t, err)
}

func TestTradeMarkersAlignWithEquity(t *testing.T) {
	entries, exits := tradeMarkers(sampleResult())
	require.Len(t, entries, 5)
	require.Len(t, exits, 5)
	assert.Equal(t, 10200.0, entries[1].Value)
	assert.Nil(t, entries[0].Value)
	assert.Equal(t, 10100.0, exits[3].Value)
	assert.Nil(t, exits[1].Value)
}

func TestConvergenceChart(t *testing.T) {
	res := optimizer.OptimizationResult{
		ID:        "opt-1",
		Strategy:  strategy.RSIStrategyID,
		Symbol:    "BTCUSDT",
		Method:    optimizer.MethodGenetic,
		Objective: optimizer.ObjectiveMaxDrawdown,
		Status:    optimizer.StatusCompleted,
		Trials: []optimizer.Trial{
			{Score: -0.3},
			{Score: optimizer.WorstScore, Err: "boom"},
			{Score: -0.1},
		},
		Generations: []optimizer.GenerationStat{{Generation: 0, Best: -0.1, Mean: -0.2, BestEver: -0.1}},
	}
	html, err := ConvergenceChart(res)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "历史最优")
	assert.Contains(t, page, "每代统计")

	_, err = ConvergenceChart(optimizer.OptimizationResult{ID: "none"})
	assert.Error(t, err)
}

func TestToLineDataDropsNonFinite(t *testing.T) {
	data := toLineData([]float64{1.23456, math.NaN(), math.Inf(1)})
	assert.Equal(t, []opts.LineData{{Value: 1.2346}, {Value: nil}, {Value: nil}}, data)
}
