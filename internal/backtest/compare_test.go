package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareRanksAndComposite(t *testing.T) {
	results := []Result{
		{ID: "1", Strategy: "a", Metrics: Metrics{TotalReturnPct: 10, SharpeRatio: 1.0, WinRate: 0.5, MaxDrawdown: 0.10}},
		{ID: "2", Strategy: "b", Metrics: Metrics{TotalReturnPct: 20, SharpeRatio: 2.0, WinRate: 0.6, MaxDrawdown: 0.05}},
		{ID: "3", Strategy: "c", Metrics: Metrics{TotalReturnPct: -5, SharpeRatio: -0.5, WinRate: 0.3, MaxDrawdown: 0.30}},
	}
	cmp := Compare(results)

	assert.Equal(t, []string{"b", "a", "c"}, cmp.Rankings["total_return_pct"])
	assert.Equal(t, []string{"b", "a", "c"}, cmp.Rankings["max_drawdown"])
	assert.Equal(t, "b", cmp.Best)
	require.Len(t, cmp.Entries, 3)
	assert.InDelta(t, 1.0, cmp.Entries[0].CompositeScore, 1e-12)
	assert.InDelta(t, 2.0/3.0, cmp.Entries[1].CompositeScore, 1e-12)
	assert.InDelta(t, 1.0/3.0, cmp.Entries[2].CompositeScore, 1e-12)
	assert.Equal(t, 3, cmp.Entries[2].Ranks["sharpe_ratio"])
	assert.Equal(t, [2]float64{-5, 20}, cmp.ReturnRange)
	assert.Equal(t, [2]float64{-0.5, 2.0}, cmp.SharpeRange)
}

func TestCompareLabelsDuplicates(t *testing.T) {
	cmp := Compare([]Result{{Strategy: "x"}, {Strategy: "x"}, {Strategy: "y"}})
	labels := []string{cmp.Entries[0].Label, cmp.Entries[1].Label, cmp.Entries[2].Label}
	assert.ElementsMatch(t, []string{"x#1", "x#2", "y"}, labels)
	assert.Empty(t, Compare(nil).Entries)
}

func TestAnalyze(t *testing.T) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	trades := []Trade{
		{ExitTime: jan, PnL: 100, PnLPct: 2, ExitReason: ExitTakeProfit},
		{ExitTime: jan, PnL: 50, PnLPct: 1, ExitReason: ExitSignal},
		{ExitTime: feb, PnL: -80, PnLPct: -1.5, ExitReason: ExitStopLoss},
		{ExitTime: feb, PnL: -20, PnLPct: -0.5, ExitReason: ExitStopLoss},
	}
	equity := []float64{1000, 1100, 1150, 1070, 1050}
	times := []int64{0, 1, 2, 3, 4}
	res := Result{ID: "r", Strategy: "s", Trades: trades, EquityCurve: equity, EquityTimes: times,
		Metrics: ComputeMetrics(trades, equity, 1000, DefaultAnnualization)}

	a := Analyze(res)
	assert.Equal(t, 2, a.Trades.MaxConsecutiveWins)
	assert.Equal(t, 2, a.Trades.MaxConsecutiveLosses)
	assert.Equal(t, 2, a.Trades.ExitReasons[ExitStopLoss])
	require.Len(t, a.Monthly.Months, 2)
	assert.Equal(t, "2024-01", a.Monthly.Months[0].Month)
	assert.Equal(t, 150.0, a.Monthly.Months[0].PnL)
	assert.Equal(t, -100.0, a.Monthly.Months[1].PnL)
	assert.Equal(t, 1, a.Monthly.PositiveMonths)
	assert.Equal(t, 150.0, a.Monthly.BestMonth)

	require.Len(t, a.Drawdowns.Periods, 1)
	p := a.Drawdowns.Periods[0]
	assert.False(t, p.Recovered)
	assert.Equal(t, 2, p.Bars)
	assert.InDelta(t, 100.0/1150, p.Depth, 1e-12)
	assert.InDelta(t, 100.0/1150, a.Drawdowns.CurrentDrawdown, 1e-12)
	assert.Greater(t, a.Risk.Volatility, 0.0)
	assert.Greater(t, a.Risk.SortinoRatio, 0.0)

	// 胜率 0.5、盈亏比 1.5、回撤 8.7%，均在阈值内
	assert.Equal(t, []string{"表现处于可接受范围"}, a.Recommendations)

	res.Metrics.WinRate = 0.3
	res.Metrics.MaxDrawdown = 0.35
	res.Metrics.SharpeRatio = 0.2
	assert.Equal(t, []string{
		"胜率偏低 (<40%)，考虑收紧入场条件",
		"夏普比率偏低 (<1.0)，考虑降低波动",
		"最大回撤过高 (>20%)，加强风险控制",
	}, Analyze(res).Recommendations)
}

func TestAnalyzeNoTrades(t *testing.T) {
	a := Analyze(Result{EquityCurve: []float64{100, 100}, Metrics: Metrics{FinalCapital: 100}})
	assert.Len(t, a.Recommendations, 1)
	assert.Empty(t, a.Drawdowns.Periods)
	assert.Empty(t, a.Monthly.Months)
}
