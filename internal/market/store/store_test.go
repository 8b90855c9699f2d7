package store

import (
	"context"
	"testing"
	"time"

	"quantdesk/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bars(startMs int64, step int64, closes ...float64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		ts := startMs + int64(i)*step
		out[i] = market.Bar{OpenTime: ts, CloseTime: ts + step - 1, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func TestInsertAndRangeBars(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	hour := time.Hour.Milliseconds()

	n, err := s.InsertBars(ctx, "BTCUSDT", "1h", bars(0, hour, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 重复写入覆盖
	_, err = s.InsertBars(ctx, "BTCUSDT", "1h", bars(hour, hour, 20))
	require.NoError(t, err)

	got, err := s.RangeBars(ctx, "BTCUSDT", "1h", 2*hour, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[1].Close)

	m, err := s.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Rows)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, 2*hour, m.MaxTime)
}

func TestCheckIntegrityFindsGaps(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	tf, _ := market.ParseTimeframe("1h")
	hour := tf.Millis()

	_, err = s.InsertBars(ctx, "ETHUSDT", "1h", bars(0, hour, 1, 2))
	require.NoError(t, err)
	_, err = s.InsertBars(ctx, "ETHUSDT", "1h", bars(4*hour, hour, 5))
	require.NoError(t, err)

	report, err := s.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 6*hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.Expected)
	assert.Equal(t, int64(3), report.Present)
	assert.Equal(t, []Gap{{From: 2 * hour, To: 3 * hour}, {From: 5 * hour, To: 6 * hour}}, report.Gaps)
	assert.False(t, report.Complete())
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.RangeBars(context.Background(), "", "1h", 0, 1)
	assert.Error(t, err)

	_, err = New(" ")
	assert.Error(t, err)
}
