package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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

type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveBacktest(ctx context.Context, res Result) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

type captureRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (c *captureRecorder) Record(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func testRange() DateRange {
	return DateRange{Start: baseTime, End: baseTime.Add(100 * time.Hour)}
}

func newTestRunner(t *testing.T, src market.Source, rec Recorder) *Runner {
	t.Helper()
	r, err := NewRunner(src, newTestEvaluator(t, EvaluatorConfig{}), rec, RunnerConfig{Timeframe: "1h", InitialCapital: 1000})
	require.NoError(t, err)
	return r
}

func TestRunnerRun(t *testing.T) {
	src := new(MockSource)
	rng := testRange()
	src.On("PriceSeries", mock.Anything, "BTCUSDT", "1h", rng.Start, rng.End).Return(flatBars(100, 1000.0), nil).Once()
	rec := &captureRecorder{}
	r := newTestRunner(t, src, rec)

	res, err := r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "btc/usdt", Range: rng, Persist: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, "1h", res.Timeframe)
	assert.Equal(t, 1000.0, res.InitialCapital)
	assert.Equal(t, 100, res.Bars)
	assert.Len(t, res.EquityCurve, 100)
	assert.Len(t, res.EquityTimes, 100)
	assert.Equal(t, 14, res.Parameters["rsi_period"])
	assert.Zero(t, res.Metrics.TotalTrades)
	require.Len(t, rec.results, 1)
	assert.Equal(t, res.ID, rec.results[0].ID)
	src.AssertExpectations(t)
}

func TestRunnerDoesNotPersistByDefault(t *testing.T) {
	src := new(MockSource)
	src.On("PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(flatBars(60, 10), nil)
	rec := &captureRecorder{}
	r := newTestRunner(t, src, rec)
	_, err := r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "ETHUSDT", Range: testRange()})
	require.NoError(t, err)
	assert.Empty(t, rec.results)
}

func TestRunnerEmptySeriesIsDataUnavailable(t *testing.T) {
	src := new(MockSource)
	src.On("PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]market.Bar{}, nil)
	r := newTestRunner(t, src, nil)
	_, err := r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Range: testRange()})
	assert.True(t, errors.Is(err, market.ErrDataUnavailable))
}

func TestRunnerPropagatesSourceError(t *testing.T) {
	src := new(MockSource)
	srcErr := market.Unavailable("BTCUSDT", "1h", "offline", nil)
	src.On("PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, srcErr)
	r := newTestRunner(t, src, nil)
	_, err := r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Range: testRange()})
	assert.True(t, errors.Is(err, market.ErrDataUnavailable))
}

func TestRunnerRejectsBadRequestBeforeFetch(t *testing.T) {
	src := new(MockSource)
	r := newTestRunner(t, src, nil)

	_, err := r.Run(context.Background(), Request{Strategy: "nope", Symbol: "BTCUSDT", Range: testRange()})
	assert.True(t, strategy.IsConfigError(err))

	_, err = r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "", Range: testRange()})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "FOO", Range: testRange()})
	assert.ErrorContains(t, err, "无法识别的交易对")

	_, err = r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Range: DateRange{Start: baseTime, End: baseTime}})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), Request{Strategy: strategy.RSIStrategyID, Symbol: "BTCUSDT", Timeframe: "7m", Range: testRange()})
	assert.Error(t, err)

	src.AssertNotCalled(t, "PriceSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAsyncSinkStoresQueuedResults(t *testing.T) {
	sink := new(MockSink)
	sink.On("SaveBacktest", mock.Anything, mock.MatchedBy(func(r Result) bool { return r.ID == "a" })).Return(nil).Once()
	sink.On("SaveBacktest", mock.Anything, mock.MatchedBy(func(r Result) bool { return r.ID == "b" })).Return(errors.New("disk full")).Once()

	async := NewAsyncSink(sink, 4)
	async.Record(Result{ID: "a"})
	async.Record(Result{ID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- async.Run(ctx) }()
	require.Eventually(t, func() bool {
		s := async.Stats()
		return s.Stored+s.Failed == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, SinkStats{Stored: 1, Failed: 1}, async.Stats())
	sink.AssertExpectations(t)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	sink := new(MockSink)
	async := NewAsyncSink(sink, 1)
	async.Record(Result{ID: "a"})
	async.Record(Result{ID: "b"})
	assert.Equal(t, int64(1), async.Stats().Dropped)

	// 退出时写完已入队的结果
	sink.On("SaveBacktest", mock.Anything, mock.Anything).Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, async.Run(ctx))
	assert.Equal(t, int64(1), async.Stats().Stored)
}

func TestRunnerRunAllSharesFetch(t *testing.T) {
	src := new(MockSource)
	rng := testRange()
	src.On("PriceSeries", mock.Anything, "ETHUSDT", "1h", rng.Start, rng.End).Return(noisyBars(100, 5), nil).Once()
	r := newTestRunner(t, src, nil)

	reqs := []Request{
		{Strategy: strategy.RSIStrategyID, Symbol: "ETHUSDT", Range: rng},
		{Strategy: strategy.MACDStrategyID, Symbol: "eth/usdt", Range: rng},
		{Strategy: strategy.RSIStrategyID, Symbol: "ETHUSDT", Range: rng, Parameters: strategy.Parameters{"rsi_period": 7}},
	}
	results, err := r.RunAll(context.Background(), reqs, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, strategy.RSIStrategyID, results[0].Strategy)
	assert.Equal(t, strategy.MACDStrategyID, results[1].Strategy)
	assert.Equal(t, 7, results[2].Parameters["rsi_period"])
	src.AssertExpectations(t)

	_, err = r.RunAll(context.Background(), []Request{{Strategy: "nope", Symbol: "ETHUSDT", Range: rng}}, 0)
	assert.True(t, strategy.IsConfigError(err))
}
