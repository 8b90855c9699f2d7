package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quantdesk/internal/market"
	"quantdesk/internal/market/store"
	"quantdesk/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Bar, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Bar), args.Error(1)
}

func (m *MockFetcher) Name() string { return "mock" }

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourly(from time.Time, n int) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		ts := from.Add(time.Duration(i) * time.Hour).UnixMilli()
		out[i] = market.Bar{OpenTime: ts, CloseTime: ts + time.Hour.Milliseconds() - 1, Open: 1, High: 1, Low: 1, Close: float64(i + 1), Volume: 1}
	}
	return out
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFeedFillsGapsFromFetcher(t *testing.T) {
	st := newStore(t)
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(r market.FetchRequest) bool {
		return r.Symbol == "BTCUSDT" && r.Interval == "1h" && r.Limit == 24
	})).Return(hourly(base, 24), nil).Once()

	f, err := New(Config{Store: st, Fetcher: fetcher, RateLimitPerMin: 6000})
	require.NoError(t, err)

	bars, err := f.PriceSeries(context.Background(), "BTC/USDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, bars, 24)

	// 第二次完全命中本地缓存，不再回源
	bars, err = f.PriceSeries(context.Background(), "BTCUSDT", "1h", base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	fetcher.AssertExpectations(t)
}

func TestFeedOfflineEmptyIsUnavailable(t *testing.T) {
	f, err := New(Config{Store: newStore(t)})
	require.NoError(t, err)

	_, err = f.PriceSeries(context.Background(), "BTCUSDT", "1h", base, base.Add(time.Hour))
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	_, err = f.PriceSeries(context.Background(), "BTCUSDT", "1h", base, base)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestFeedRetriesThenServesPartialData(t *testing.T) {
	st := newStore(t)
	_, err := st.InsertBars(context.Background(), "ETHUSDT", "1h", hourly(base, 2))
	require.NoError(t, err)

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("502")).Times(2)

	f, err := New(Config{Store: st, Fetcher: fetcher, RateLimitPerMin: 6000, RetryAttempts: 1, RetryBaseDelay: time.Millisecond})
	require.NoError(t, err)

	bars, err := f.PriceSeries(context.Background(), "ETHUSDT", "1h", base, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestFeedBreakerStopsHammering(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	breaker := circuit.NewCircuitBreaker("test", 1, time.Hour)

	f, err := New(Config{Store: newStore(t), Fetcher: fetcher, RateLimitPerMin: 6000, RetryAttempts: 3, RetryBaseDelay: time.Millisecond, Breaker: breaker})
	require.NoError(t, err)

	_, err = f.PriceSeries(context.Background(), "BTCUSDT", "1h", base, base.Add(time.Hour))
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	assert.Equal(t, circuit.StateOpen, breaker.State())
}

func TestDropUnclosed(t *testing.T) {
	bars := hourly(base, 3)
	now := time.UnixMilli(bars[2].CloseTime)
	assert.Len(t, dropUnclosed(bars, now), 2)
	assert.Len(t, dropUnclosed(bars, now.Add(time.Millisecond)), 3)
}

func TestSessionCacheSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	src := market.SourceFunc(func(ctx context.Context, symbol, tf string, start, end time.Time) ([]market.Bar, error) {
		calls.Add(1)
		<-release
		return hourly(start, 5), nil
	})
	cache := NewSessionCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bars, err := cache.PriceSeries(context.Background(), "BTCUSDT", "1h", base, base.Add(5*time.Hour))
			assert.NoError(t, err)
			assert.Len(t, bars, 5)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	_, err := cache.PriceSeries(context.Background(), "btc/usdt", "1H", base, base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), misses)
	assert.GreaterOrEqual(t, hits, int64(1))
}

func TestSessionCacheKeepsUnavailable(t *testing.T) {
	var calls atomic.Int32
	src := market.SourceFunc(func(ctx context.Context, symbol, tf string, start, end time.Time) ([]market.Bar, error) {
		calls.Add(1)
		return nil, market.Unavailable(symbol, tf, "empty", nil)
	})
	cache := NewSessionCache(src)
	for i := 0; i < 3; i++ {
		_, err := cache.PriceSeries(context.Background(), "BTCUSDT", "1h", base, base.Add(time.Hour))
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
	}
	assert.Equal(t, int32(1), calls.Load())
}
