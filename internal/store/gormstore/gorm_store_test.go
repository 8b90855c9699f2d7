package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/strategy"
	"quantdesk/internal/walkforward"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(id, strategyID, symbol string, created time.Time) backtest.Result {
	return backtest.Result{
		ID:             id,
		Strategy:       strategyID,
		Symbol:         symbol,
		Timeframe:      "1h",
		Range:          backtest.DateRange{Start: t0, End: t0.Add(48 * time.Hour)},
		Parameters:     strategy.Parameters{"rsi_period": 14, "oversold_level": 30.0},
		InitialCapital: 10000,
		Bars:           3,
		EquityTimes:    []int64{t0.UnixMilli(), t0.Add(time.Hour).UnixMilli(), t0.Add(2 * time.Hour).UnixMilli()},
		EquityCurve:    []float64{10000, 10100, 10050},
		Trades: []backtest.Trade{{
			EntryTime: t0, ExitTime: t0.Add(2 * time.Hour), EntryPrice: 100, ExitPrice: 100.5,
			Quantity: 95, PnL: 50, PnLPct: 0.5, ExitReason: backtest.ExitSignal,
		}},
		Metrics:   backtest.Metrics{TotalTrades: 1, TotalReturnPct: 0.5, SharpeRatio: 1.2, MaxDrawdown: 0.005, WinRate: 1, FinalCapital: 10050},
		CreatedAt: created,
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveBacktest(ctx, sampleResult("a", strategy.RSIStrategyID, "BTCUSDT", t0)))
	require.NoError(t, s.SaveBacktest(ctx, sampleResult("b", strategy.MACDStrategyID, "ETHUSDT", t0.Add(time.Minute))))
	// 重复写入覆盖而不是新增
	require.NoError(t, s.SaveBacktest(ctx, sampleResult("a", strategy.RSIStrategyID, "BTCUSDT", t0)))

	got, ok, err := s.GetBacktest(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, []float64{10000, 10100, 10050}, got.EquityCurve)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, backtest.ExitSignal, got.Trades[0].ExitReason)
	assert.Equal(t, 1.2, got.Metrics.SharpeRatio)
	assert.True(t, got.Range.Start.Equal(t0))

	_, ok, err = s.GetBacktest(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListBacktests(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "按创建时间倒序")
	assert.Equal(t, 14.0, all[1].Parameters["rsi_period"])

	filtered, err := s.ListBacktests(ctx, Filter{Symbol: "btcusdt"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].ID)

	byStrategy, err := s.ListBacktests(ctx, Filter{Strategy: strategy.MACDStrategyID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byStrategy, 1)
	assert.Equal(t, "b", byStrategy[0].ID)

	assert.Error(t, s.SaveBacktest(ctx, backtest.Result{}))
}

func TestOptimizationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	failed := optimizer.OptimizationResult{
		ID: "opt-1", Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Method: optimizer.MethodGrid,
		Objective: optimizer.ObjectiveSharpe, Status: optimizer.StatusFailed, BestScore: optimizer.WorstScore,
		Trials:    []optimizer.Trial{{Parameters: strategy.Parameters{"rsi_period": 5}, Score: optimizer.WorstScore, Err: "offline"}},
		CreatedAt: t0,
	}
	require.NoError(t, s.SaveOptimization(ctx, failed))

	best := sampleResult("r1", strategy.RSIStrategyID, "BTCUSDT", t0)
	ok := optimizer.OptimizationResult{
		ID: "opt-2", Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Method: optimizer.MethodGenetic,
		Objective: optimizer.ObjectiveSharpe, Status: optimizer.StatusCompleted, BestScore: 1.2,
		BestParameters: strategy.Parameters{"rsi_period": 14}, BestResult: &best,
		Trials:         []optimizer.Trial{{Parameters: strategy.Parameters{"rsi_period": 14}, Score: 1.2}},
		Duration:       1500 * time.Millisecond,
		CreatedAt:      t0.Add(time.Minute),
	}
	require.NoError(t, s.SaveOptimization(ctx, ok))

	got, found, err := s.GetOptimization(ctx, "opt-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, optimizer.WorstScore, got.BestScore)
	require.Len(t, got.Trials, 1)
	assert.Equal(t, optimizer.WorstScore, got.Trials[0].Score)
	assert.Equal(t, "offline", got.Trials[0].Err)

	got, found, err = s.GetOptimization(ctx, "opt-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.2, got.BestScore)
	require.NotNil(t, got.BestResult)
	assert.Equal(t, "r1", got.BestResult.ID)

	list, err := s.ListOptimizations(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "opt-2", list[0].ID)
	require.NotNil(t, list[0].BestScore)
	assert.Equal(t, 1.2, *list[0].BestScore)
	assert.Equal(t, int64(1500), list[0].DurationMs)
	assert.Nil(t, list[1].BestScore)
}

func TestWalkForwardRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rep := walkforward.Report{
		ID: "wf-1", Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT",
		Parameters: strategy.Parameters{"rsi_period": 14},
		Windows:    []walkforward.WindowResult{{Index: 0, Bars: 10, Err: "窗口内无 K 线"}},
		Score:      42.5, Grade: "D", CreatedAt: t0,
	}
	require.NoError(t, s.SaveWalkForward(ctx, rep))

	got, ok, err := s.GetWalkForward(ctx, "wf-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.5, got.Score)
	assert.Equal(t, "D", got.Grade)
	require.Len(t, got.Windows, 1)
	assert.Equal(t, "窗口内无 K 线", got.Windows[0].Err)
}

func TestNewStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewStore("  ")
	assert.Error(t, err)
}
