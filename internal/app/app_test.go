package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.LoadDefaults()
	cfg.App.HTTPAddr = "127.0.0.1:0"
	cfg.Market.DataRoot = filepath.Join(dir, "candles")
	cfg.Market.Offline = true
	cfg.Storage.ResultsDB = filepath.Join(dir, "db", "results.db")
	cfg.Strategies.CatalogPath = filepath.Join(dir, "missing.yaml")
	return cfg
}

func staticSource(n int) market.Source {
	bars := make([]market.Bar, n)
	for i := range bars {
		c := 100 + float64(i%24)
		open := t0.Add(time.Duration(i) * time.Hour).UnixMilli()
		bars[i] = market.Bar{OpenTime: open, CloseTime: open + time.Hour.Milliseconds() - 1, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return market.SourceFunc(func(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
		return market.SliceSeries(bars, start, end), nil
	})
}

func TestBuildOfflineWiresEverything(t *testing.T) {
	app, err := NewAppBuilder(testConfig(t)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.NotNil(t, app.market)
	assert.Nil(t, app.market.Fetcher, "离线模式不创建远端拉取")
	assert.NotNil(t, app.Runner())
	assert.NotNil(t, app.Optimizer())
	assert.NotNil(t, app.Analyzer())
	assert.NotNil(t, app.HTTP())
	require.NotNil(t, app.Summary)
	assert.Len(t, app.Summary.Strategies, 4)
	assert.Empty(t, app.Summary.Catalog)

	var buf bytes.Buffer
	app.Summary.Fprint(&buf)
	assert.Contains(t, buf.String(), "仅本地缓存")
	assert.Contains(t, buf.String(), strategy.BollingerBandsID)
}

func TestBuildAttachesCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Strategies.CatalogPath = filepath.Join(t.TempDir(), "strategies.yaml")
	body := "strategies:\n  rsi_strategy:\n    parameters:\n      rsi_period: {min: 10, max: 20, default: 12}\n"
	require.NoError(t, os.WriteFile(cfg.Strategies.CatalogPath, []byte(body), 0o644))

	app, err := NewAppBuilder(cfg, WithSource(staticSource(10))).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(app.Close)
	assert.Nil(t, app.market, "注入行情源时不初始化本地缓存")
	assert.Equal(t, cfg.Strategies.CatalogPath, app.Summary.Catalog)
	domains := app.Summary.Strategies[0].Parameters
	assert.Equal(t, 10.0, domains[0].Min)
}

func TestRunPersistsThroughSinkAndStops(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewAppBuilder(cfg, WithSource(staticSource(200))).Build(context.Background())
	require.NoError(t, err)
	app.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	res, err := app.Runner().Run(ctx, backtest.Request{
		Strategy: strategy.RSIStrategyID,
		Symbol:   "BTCUSDT",
		Range:    backtest.DateRange{Start: t0, End: t0.Add(200 * time.Hour)},
		Persist:  true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, err := app.results.GetBacktest(context.Background(), res.ID)
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app 未在 ctx 取消后退出")
	}
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}
