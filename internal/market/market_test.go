package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyBars(n int, start time.Time) []Bar {
	out := make([]Bar, n)
	for i := range out {
		ts := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		out[i] = Bar{OpenTime: ts, CloseTime: ts + time.Hour.Milliseconds() - 1, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	return out
}

func TestTimeframeAlignAndExpected(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	hour := time.Hour.Milliseconds()
	start, end := tf.AlignRange(5*hour+123, 2*hour+7)
	assert.Equal(t, 2*hour, start)
	assert.Equal(t, 5*hour, end)
	assert.Equal(t, int64(4), tf.ExpectedBars(start, end))
	assert.Equal(t, int64(0), tf.ExpectedBars(end, start))

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
	assert.Contains(t, SupportedTimeframes(), "4h")
}

func TestValidateSeries(t *testing.T) {
	bars := hourlyBars(3, time.Unix(0, 0))
	assert.NoError(t, ValidateSeries(bars))

	bars[2].OpenTime = bars[1].OpenTime
	assert.Error(t, ValidateSeries(bars))

	bars = hourlyBars(2, time.Unix(0, 0))
	bars[1].Close = 0
	assert.Error(t, ValidateSeries(bars))
}

func TestSliceSeriesHalfOpen(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(10, base)

	sub := SliceSeries(bars, base.Add(2*time.Hour), base.Add(5*time.Hour))
	require.Len(t, sub, 3)
	assert.Equal(t, bars[2].OpenTime, sub[0].OpenTime)
	assert.Equal(t, bars[4].OpenTime, sub[2].OpenTime)

	assert.Empty(t, SliceSeries(bars, base.Add(20*time.Hour), base.Add(30*time.Hour)))
	assert.Equal(t, []float64{100, 100}, Closes(bars[:2]))
}

func TestDataUnavailableErrorMatching(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("wrap: %w", Unavailable("BTCUSDT", "1h", "远端失败", cause))

	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.True(t, errors.Is(err, cause))
	var target *DataUnavailableError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "BTCUSDT", target.Symbol)
}
