package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// 所有函数返回与输入等长的序列，预热期填充 NaN。

// SMA 简单移动平均。
func SMA(values []float64, window int) ([]float64, error) {
	if err := requirePositive("SMA", window); err != nil {
		return nil, err
	}
	if err := requireLen("SMA", values, window); err != nil {
		return nil, err
	}
	return maskWarmup(talib.Sma(values, window), window-1), nil
}

// EMA 指数移动平均，以首个窗口的 SMA 作为种子。
func EMA(values []float64, window int) ([]float64, error) {
	if err := requirePositive("EMA", window); err != nil {
		return nil, err
	}
	if err := requireLen("EMA", values, window); err != nil {
		return nil, err
	}
	return maskWarmup(talib.Ema(values, window), window-1), nil
}

// RSI 使用 Wilder 平滑。涨跌均为 0 的平盘段返回 50（中性）而不是 0。
func RSI(values []float64, period int) ([]float64, error) {
	if err := requirePositive("RSI", period); err != nil {
		return nil, err
	}
	if err := requireLen("RSI", values, period+1); err != nil {
		return nil, err
	}
	out := nanSeries(len(values))
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < len(values); i++ {
		gain, loss := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func split(diff float64) (gain, loss float64) {
	if diff > 0 {
		return diff, 0
	}
	return 0, -diff
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50
	case avgLoss == 0:
		return 100
	default:
		return 100 - 100/(1+avgGain/avgLoss)
	}
}

// MACDSeries 是 MACD 线、信号线与柱状图。
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD = EMA(fast) - EMA(slow)；信号线是 MACD 线自身（从首个有效值起）的 EMA。
func MACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	if err := requirePositive("MACD", fast, slow, signal); err != nil {
		return MACDSeries{}, err
	}
	longest := fast
	if slow > longest {
		longest = slow
	}
	if err := requireLen("MACD", values, longest+signal-1); err != nil {
		return MACDSeries{}, err
	}
	fastEMA := talib.Ema(values, fast)
	slowEMA := talib.Ema(values, slow)
	start := longest - 1
	line := nanSeries(len(values))
	for i := start; i < len(values); i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := nanSeries(len(values))
	smoothed := talib.Ema(line[start:], signal)
	for j := signal - 1; j < len(smoothed); j++ {
		sig[start+j] = smoothed[j]
	}
	hist := nanSeries(len(values))
	for i := range values {
		if !math.IsNaN(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}, nil
}

// Bands 是布林带三条线。
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger 中轨为 SMA，上下轨为中轨 ± k·总体标准差。
func Bollinger(values []float64, period int, stdDev float64) (Bands, error) {
	if err := requirePositive("Bollinger", period); err != nil {
		return Bands{}, err
	}
	if err := requireLen("Bollinger", values, period); err != nil {
		return Bands{}, err
	}
	upper, middle, lower := talib.BBands(values, period, stdDev, stdDev, talib.SMA)
	warm := period - 1
	return Bands{
		Upper:  maskWarmup(upper, warm),
		Middle: maskWarmup(middle, warm),
		Lower:  maskWarmup(lower, warm),
	}, nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func maskWarmup(series []float64, warm int) []float64 {
	for i := 0; i < warm && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}
