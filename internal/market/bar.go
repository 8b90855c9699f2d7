package market

import (
	"fmt"
	"time"
)

// Bar 是单根 OHLCV K 线，时间戳为 Unix 毫秒。
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Time 返回开盘时间（UTC）。
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.OpenTime).UTC()
}

// Closes 抽取收盘价序列。
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// ValidateSeries 校验时间严格递增且价格为正；允许缺口，不做插值。
func ValidateSeries(bars []Bar) error {
	for i, b := range bars {
		if b.Close <= 0 || b.Open < 0 || b.High < 0 || b.Low < 0 {
			return fmt.Errorf("第 %d 根 K 线价格非法 (close=%v)", i, b.Close)
		}
		if i > 0 && b.OpenTime <= bars[i-1].OpenTime {
			return fmt.Errorf("第 %d 根 K 线时间未递增 (%d <= %d)", i, b.OpenTime, bars[i-1].OpenTime)
		}
	}
	return nil
}

// SliceSeries 返回 open_time 落在 [start, end) 内的子序列（共享底层数组，只读）。
func SliceSeries(bars []Bar, start, end time.Time) []Bar {
	lo, hi := start.UnixMilli(), end.UnixMilli()
	i := 0
	for i < len(bars) && bars[i].OpenTime < lo {
		i++
	}
	j := i
	for j < len(bars) && bars[j].OpenTime < hi {
		j++
	}
	return bars[i:j:j]
}
