package walkforward

import (
	"math"

	"quantdesk/internal/config"

	"gonum.org/v1/gonum/stat"
)

// Aggregate 所有成功窗口的汇总统计，收益为百分比，回撤为小数。
type Aggregate struct {
	TotalWindows     int     `json:"total_windows"`
	FailedWindows    int     `json:"failed_windows"`
	AverageReturnPct float64 `json:"average_return_pct"`
	ReturnStd        float64 `json:"return_std"`
	AverageSharpe    float64 `json:"average_sharpe"`
	SharpeStd        float64 `json:"sharpe_std"`
	AverageDrawdown  float64 `json:"average_drawdown"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	PositiveWindows  int     `json:"positive_windows"`
	WinRate          float64 `json:"win_rate"`
}

// ScoreBreakdown 稳健性评分各项得分。
type ScoreBreakdown struct {
	WinRate  float64 `json:"win_rate"`
	Sharpe   float64 `json:"sharpe"`
	Drawdown float64 `json:"drawdown"`
	Return   float64 `json:"return"`
}

func (b ScoreBreakdown) Total() float64 {
	return b.WinRate + b.Sharpe + b.Drawdown + b.Return
}

// aggregate 汇总成功窗口；夏普为 0 的窗口（无波动或无成交）不参与夏普统计。
func aggregate(windows []WindowResult) Aggregate {
	var agg Aggregate
	var returns, sharpes, drawdowns []float64
	for _, w := range windows {
		if w.Metrics == nil {
			agg.FailedWindows++
			continue
		}
		returns = append(returns, w.Metrics.TotalReturnPct)
		drawdowns = append(drawdowns, w.Metrics.MaxDrawdown)
		if w.Metrics.SharpeRatio != 0 {
			sharpes = append(sharpes, w.Metrics.SharpeRatio)
		}
		if w.Metrics.TotalReturnPct > 0 {
			agg.PositiveWindows++
		}
	}
	agg.TotalWindows = len(returns)
	if agg.TotalWindows == 0 {
		return agg
	}
	agg.AverageReturnPct, agg.ReturnStd = stat.PopMeanStdDev(returns, nil)
	if len(sharpes) > 0 {
		agg.AverageSharpe, agg.SharpeStd = stat.PopMeanStdDev(sharpes, nil)
	}
	agg.AverageDrawdown = stat.Mean(drawdowns, nil)
	for _, d := range drawdowns {
		agg.MaxDrawdown = math.Max(agg.MaxDrawdown, d)
	}
	agg.WinRate = float64(agg.PositiveWindows) / float64(agg.TotalWindows)
	return agg
}

// Score 按权重计算 0–100 的稳健性评分：
// 窗口胜率、夏普一致性（1 − 变异系数）、回撤控制、平均收益（每 1% 收益记满分的 1/20）。
func Score(agg Aggregate, weights config.ScoreWeights) (float64, ScoreBreakdown) {
	var b ScoreBreakdown
	total := weights.Total()
	if agg.TotalWindows == 0 || total <= 0 {
		return 0, b
	}
	b.WinRate = math.Min(agg.WinRate, 1) * weights.WinRate
	if agg.AverageSharpe != 0 {
		consistency := 1 - agg.SharpeStd/math.Max(math.Abs(agg.AverageSharpe), 0.1)
		b.Sharpe = clamp(consistency, 0, 1) * weights.Sharpe
	}
	b.Drawdown = math.Max(0, 1-agg.MaxDrawdown) * weights.Drawdown
	if agg.AverageReturnPct > 0 {
		b.Return = math.Min(agg.AverageReturnPct/20, 1) * weights.Return
	}
	return math.Min(b.Total()/total*100, 100), b
}

// Grade 把评分映射为等级。
func Grade(score float64) string {
	switch {
	case score >= 80:
		return "A"
	case score >= 65:
		return "B"
	case score >= 50:
		return "C"
	case score >= 35:
		return "D"
	default:
		return "F"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
