package walkforward

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) PriceSeries(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	args := m.Called(ctx, symbol, timeframe, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Bar), args.Error(1)
}

type memoryStore struct {
	reports []Report
}

func (s *memoryStore) SaveWalkForward(_ context.Context, rep Report) error {
	s.reports = append(s.reports, rep)
	return nil
}

func hourlyBars(n int) []market.Bar {
	rng := rand.New(rand.NewSource(3))
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 100 + 8*math.Sin(float64(i)/9) + rng.Float64()*2
		open := baseTime.Add(time.Duration(i) * time.Hour).UnixMilli()
		bars[i] = market.Bar{OpenTime: open, CloseTime: open + time.Hour.Milliseconds() - 1, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func newTestAnalyzer(t *testing.T, src market.Source, store ReportStore) *Analyzer {
	t.Helper()
	ev, err := backtest.NewEvaluator(strategy.NewDefaultRegistry(), backtest.EvaluatorConfig{AllocationFraction: 0.95})
	require.NoError(t, err)
	runner, err := backtest.NewRunner(src, ev, nil, backtest.RunnerConfig{Timeframe: "1h", InitialCapital: 10000})
	require.NoError(t, err)
	a, err := NewAnalyzer(runner, store, Config{})
	require.NoError(t, err)
	return a
}

func TestPlanWindowsCount(t *testing.T) {
	cases := []struct {
		days, window, step int
		want               int
	}{
		{365, 90, 30, 10},
		{90, 90, 30, 1},
		{89, 90, 30, 0},
		{100, 10, 10, 10},
		{100, 30, 7, 11},
	}
	for _, c := range cases {
		rng := backtest.DateRange{Start: baseTime, End: baseTime.Add(Days(c.days))}
		windows, err := PlanWindows(rng, Days(c.window), Days(c.step))
		require.NoError(t, err)
		want := 0
		if c.days >= c.window {
			want = (c.days-c.window)/c.step + 1
		}
		assert.Equal(t, want, c.want)
		assert.Len(t, windows, c.want, "D=%d W=%d S=%d", c.days, c.window, c.step)
		for i, w := range windows {
			assert.Equal(t, baseTime.Add(Days(i*c.step)), w.Start)
			assert.False(t, w.End.After(rng.End))
		}
	}

	_, err := PlanWindows(backtest.DateRange{Start: baseTime, End: baseTime.Add(day)}, day, 0)
	assert.ErrorIs(t, err, backtest.ErrInvalidRequest)
}

func TestScoreRubric(t *testing.T) {
	agg := Aggregate{TotalWindows: 4, WinRate: 0.5, AverageSharpe: 1, SharpeStd: 0.5, MaxDrawdown: 0.2, AverageReturnPct: 10}
	score, b := Score(agg, config.DefaultScoreWeights())
	assert.InDelta(t, 15.0, b.WinRate, 1e-9)
	assert.InDelta(t, 12.5, b.Sharpe, 1e-9)
	assert.InDelta(t, 20.0, b.Drawdown, 1e-9)
	assert.InDelta(t, 10.0, b.Return, 1e-9)
	assert.InDelta(t, 57.5, score, 1e-9)
	assert.Equal(t, "C", Grade(score))

	// 权重总和不是 100 时按比例换算到 0–100
	score, _ = Score(agg, config.ScoreWeights{WinRate: 1})
	assert.InDelta(t, 50.0, score, 1e-9)

	score, _ = Score(Aggregate{}, config.DefaultScoreWeights())
	assert.Zero(t, score)
	assert.Equal(t, "F", Grade(score))

	perfect := Aggregate{TotalWindows: 3, WinRate: 1, AverageSharpe: 2, MaxDrawdown: 0, AverageReturnPct: 40}
	score, _ = Score(perfect, config.DefaultScoreWeights())
	assert.InDelta(t, 100.0, score, 1e-9)
	assert.Equal(t, "A", Grade(score))
}

func TestAggregateSkipsFailedWindows(t *testing.T) {
	windows := []WindowResult{
		{Metrics: &backtest.Metrics{TotalReturnPct: 10, SharpeRatio: 2, MaxDrawdown: 0.1}},
		{Metrics: &backtest.Metrics{TotalReturnPct: -4, SharpeRatio: 0, MaxDrawdown: 0.3}},
		{Err: "窗口内无 K 线"},
	}
	agg := aggregate(windows)
	assert.Equal(t, 2, agg.TotalWindows)
	assert.Equal(t, 1, agg.FailedWindows)
	assert.Equal(t, 1, agg.PositiveWindows)
	assert.InDelta(t, 0.5, agg.WinRate, 1e-12)
	assert.InDelta(t, 3.0, agg.AverageReturnPct, 1e-12)
	assert.InDelta(t, 7.0, agg.ReturnStd, 1e-12)
	assert.InDelta(t, 2.0, agg.AverageSharpe, 1e-12)
	assert.Zero(t, agg.SharpeStd)
	assert.InDelta(t, 0.3, agg.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.2, agg.AverageDrawdown, 1e-12)
}

func TestAnalyzerRun(t *testing.T) {
	src := new(MockSource)
	rng := backtest.DateRange{Start: baseTime, End: baseTime.Add(Days(21))}
	// 四个 5 天窗口，最后一个结束于第 20 天，只拉取一次
	src.On("PriceSeries", mock.Anything, "ETHUSDT", "1h", baseTime, baseTime.Add(Days(20))).Return(hourlyBars(20*24), nil).Once()
	store := &memoryStore{}
	a := newTestAnalyzer(t, src, store)

	rep, err := a.Run(context.Background(), Request{
		Strategy:   strategy.RSIStrategyID,
		Symbol:     "ETH/USDT",
		Range:      rng,
		Parameters: strategy.Parameters{"rsi_period": 7},
		WindowDays: 5,
		StepDays:   5,
	})
	require.NoError(t, err)
	require.Len(t, rep.Windows, 4)
	for i, w := range rep.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, 120, w.Bars)
		require.NotNil(t, w.Metrics)
		assert.Empty(t, w.Err)
	}
	assert.Equal(t, 7, rep.Parameters["rsi_period"])
	assert.Equal(t, 30.0, rep.Parameters["oversold_level"])
	assert.Equal(t, 4, rep.Aggregate.TotalWindows)
	assert.GreaterOrEqual(t, rep.Score, 0.0)
	assert.LessOrEqual(t, rep.Score, 100.0)
	assert.NotEmpty(t, rep.Grade)
	assert.Equal(t, 5.0, rep.WindowDays)
	require.Len(t, store.reports, 1)
	src.AssertExpectations(t)
}

func TestAnalyzerRecordsEmptyWindows(t *testing.T) {
	src := new(MockSource)
	src.On("PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(hourlyBars(10*24), nil)
	a := newTestAnalyzer(t, src, nil)

	rep, err := a.Run(context.Background(), Request{
		Strategy:   strategy.MACrossoverID,
		Symbol:     "BTCUSDT",
		Range:      backtest.DateRange{Start: baseTime, End: baseTime.Add(Days(20))},
		Parameters: strategy.Parameters{"fast_ma": 10, "slow_ma": 30},
		WindowDays: 5,
		StepDays:   5,
	})
	require.NoError(t, err)
	require.Len(t, rep.Windows, 4)
	assert.NotNil(t, rep.Windows[1].Metrics)
	assert.Equal(t, "窗口内无 K 线", rep.Windows[2].Err)
	assert.Equal(t, 2, rep.Aggregate.FailedWindows)
	assert.Equal(t, 2, rep.Aggregate.TotalWindows)
}

func TestAnalyzerRejects(t *testing.T) {
	src := new(MockSource)
	a := newTestAnalyzer(t, src, nil)
	rng := backtest.DateRange{Start: baseTime, End: baseTime.Add(Days(30))}

	_, err := a.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Range: rng, Parameters: strategy.Parameters{"lookback": 3}})
	assert.True(t, strategy.IsConfigError(err))

	_, err = a.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Range: rng, WindowDays: 60})
	assert.ErrorIs(t, err, backtest.ErrInvalidRequest)

	src.AssertNotCalled(t, "PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyzerPropagatesDataUnavailable(t *testing.T) {
	src := new(MockSource)
	src.On("PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, market.Unavailable("BTCUSDT", "1h", "offline", nil))
	a := newTestAnalyzer(t, src, nil)
	_, err := a.Run(context.Background(), Request{
		Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT",
		Range: backtest.DateRange{Start: baseTime, End: baseTime.Add(Days(100))},
	})
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}
