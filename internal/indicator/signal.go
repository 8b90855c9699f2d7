package indicator

import "math"

const (
	Overbought = "overbought"
	Oversold   = "oversold"
	Neutral    = "neutral"
	Bullish    = "bullish"
	Bearish    = "bearish"
)

// RSIZone 按 70/30 阈值解读 RSI。
func RSIZone(v float64) string {
	switch {
	case math.IsNaN(v):
		return Neutral
	case v >= 70:
		return Overbought
	case v <= 30:
		return Oversold
	default:
		return Neutral
	}
}

// MACDBias MACD 线在信号线上方为 bullish。
func MACDBias(line, signal float64) string {
	if line > signal {
		return Bullish
	}
	return Bearish
}

// CrossedAbove 判断 a 在 i 处上穿 b：前一根 a<=b 且当前 a>b。
func CrossedAbove(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) || !defined(a[i-1], b[i-1], a[i], b[i]) {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

// CrossedBelow 判断 a 在 i 处下穿 b：前一根 a>=b 且当前 a<b。
func CrossedBelow(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) || !defined(a[i-1], b[i-1], a[i], b[i]) {
		return false
	}
	return a[i-1] >= b[i-1] && a[i] < b[i]
}

func defined(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
