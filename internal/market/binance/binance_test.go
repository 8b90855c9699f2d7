package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"quantdesk/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klinePayload = `[
  [1700000000000,"100.5","101","99.5","100.8","12.5",1700003599999,"1260.1",42,"6","600","0"],
  [1700003600000,"100.8","102","100","101.9","8",1700007199999,"815.2",30,"4","400","0"]
]`

func TestParseKlineRows(t *testing.T) {
	bars, err := parseKlineRows([]byte(klinePayload))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1700000000000), bars[0].OpenTime)
	assert.Equal(t, int64(1700003599999), bars[0].CloseTime)
	assert.InDelta(t, 100.8, bars[0].Close, 1e-9)
	assert.InDelta(t, 12.5, bars[0].Volume, 1e-9)
	assert.Equal(t, int64(42), bars[0].Trades)

	_, err = parseKlineRows([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	assert.Error(t, err)
	_, err = parseKlineRows([]byte(`not json`))
	assert.Error(t, err)
}

func TestRESTFetcherRequest(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(klinePayload))
	}))
	defer srv.Close()

	f := NewRESTFetcher(Config{RESTBaseURL: srv.URL})
	bars, err := f.Fetch(context.Background(), market.FetchRequest{Symbol: "BTC/USDT", Interval: "1h", Start: 1, End: 2, Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "limit=1500")
	assert.Contains(t, gotQuery, "startTime=1")
}

func TestRESTFetcherSurfacesExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	f := NewRESTFetcher(Config{RESTBaseURL: srv.URL})
	_, err := f.Fetch(context.Background(), market.FetchRequest{Symbol: "NOPE", Interval: "1h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestSDKFetcherNames(t *testing.T) {
	assert.Equal(t, "binance_spot", NewSDKFetcher(Config{Spot: true}).Name())
	assert.Equal(t, "binance_futures", NewSDKFetcher(Config{}).Name())
	assert.Equal(t, defaultSpotBase, Config{Spot: true}.withDefaults().RESTBaseURL)
}
