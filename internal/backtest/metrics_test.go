package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func trade(pnl, pct float64, hours int) Trade {
	entry := baseTime
	exit := entry.Add(time.Duration(hours) * time.Hour)
	return Trade{EntryTime: entry, ExitTime: exit, PnL: pnl, PnLPct: pct, Duration: exit.Sub(entry), DurationHours: float64(hours), ExitReason: ExitSignal}
}

func TestComputeMetricsDegenerate(t *testing.T) {
	m := ComputeMetrics(nil, []float64{500}, 500, DefaultAnnualization)
	assert.Equal(t, Metrics{FinalCapital: 500}, m)

	m = ComputeMetrics(nil, nil, 500, DefaultAnnualization)
	assert.Equal(t, 500.0, m.FinalCapital)
	assert.Zero(t, m.SharpeRatio)
}

func TestComputeMetricsMixedTrades(t *testing.T) {
	trades := []Trade{trade(100, 2, 2), trade(-50, -1, 4), trade(200, 4, 6)}
	equity := []float64{1000, 1100, 1050, 1250}
	m := ComputeMetrics(trades, equity, 1000, DefaultAnnualization)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 250.0, m.TotalReturn, 1e-9)
	assert.InDelta(t, 25.0, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-12)
	assert.InDelta(t, 6.0, m.ProfitFactor, 1e-12)
	assert.False(t, m.ProfitFactorUnbounded)
	assert.InDelta(t, 250.0/3, m.AverageTrade, 1e-9)
	assert.Equal(t, 150.0, m.AverageWin)
	assert.Equal(t, -50.0, m.AverageLoss)
	assert.Equal(t, 200.0, m.LargestWin)
	assert.Equal(t, -50.0, m.LargestLoss)
	assert.Equal(t, 4.0, m.AverageDurationHours)
	assert.Equal(t, 12.0, m.TotalDurationHours)
	assert.InDelta(t, 50.0/1100, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.25/(50.0/1100), m.CalmarRatio, 1e-9)
	assert.Equal(t, 1250.0, m.FinalCapital)
}

func TestComputeMetricsProfitFactorSentinel(t *testing.T) {
	m := ComputeMetrics([]Trade{trade(10, 1, 1)}, []float64{1000, 1010}, 1000, DefaultAnnualization)
	assert.Equal(t, InfiniteProfitFactor, m.ProfitFactor)
	assert.True(t, m.ProfitFactorUnbounded)

	m = ComputeMetrics([]Trade{trade(0, 0, 1)}, []float64{1000, 1000}, 1000, DefaultAnnualization)
	assert.Zero(t, m.ProfitFactor)
	assert.False(t, m.ProfitFactorUnbounded)
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, SharpeRatio([]float64{100, 110, 121}, 252))
	assert.InDelta(t, math.Sqrt(252), SharpeRatio([]float64{100, 110, 110}, 252), 1e-9)
	assert.Zero(t, SharpeRatio([]float64{100}, 252))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{100, 120, 90, 130, 65}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{1, 2, 3}))
	assert.Zero(t, MaxDrawdown(nil))
}
