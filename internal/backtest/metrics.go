package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// InfiniteProfitFactor 是只有盈利没有亏损时 profit_factor 的取值，同时 ProfitFactorUnbounded 置为 true。
const InfiniteProfitFactor = 1e9

// DefaultAnnualization 日频年化因子。
const DefaultAnnualization = 252.0

// ComputeMetrics 由成交与资金曲线计算指标。无成交时所有比率为 0；结果只取决于输入。
func ComputeMetrics(trades []Trade, equity []float64, initialCapital, annualization float64) Metrics {
	m := Metrics{FinalCapital: initialCapital}
	if len(equity) > 0 {
		m.FinalCapital = equity[len(equity)-1]
	}
	if len(trades) == 0 {
		return m
	}

	m.MaxDrawdown = MaxDrawdown(equity)
	m.TotalTrades = len(trades)
	var totalPnL, totalDuration float64
	for i, t := range trades {
		totalPnL += t.PnL
		totalDuration += t.DurationHours
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			m.GrossLoss += t.PnL
		}
		if i == 0 || t.PnL > m.LargestWin {
			m.LargestWin = t.PnL
		}
		if i == 0 || t.PnL < m.LargestLoss {
			m.LargestLoss = t.PnL
		}
	}
	n := float64(m.TotalTrades)
	m.TotalReturn = m.FinalCapital - initialCapital
	m.AverageTrade = totalPnL / n
	m.WinRate = float64(m.WinningTrades) / n
	m.TotalDurationHours = totalDuration
	m.AverageDurationHours = totalDuration / n
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.GrossLoss / float64(m.LosingTrades)
	}
	if initialCapital > 0 {
		m.TotalReturnPct = (m.FinalCapital - initialCapital) / initialCapital * 100
	}

	switch {
	case m.GrossLoss < 0:
		m.ProfitFactor = m.GrossProfit / math.Abs(m.GrossLoss)
	case m.GrossProfit > 0:
		m.ProfitFactor = InfiniteProfitFactor
		m.ProfitFactorUnbounded = true
	}

	m.SharpeRatio = SharpeRatio(equity, annualization)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.TotalReturnPct / 100 / m.MaxDrawdown
	}
	return m
}

// SharpeRatio 基于资金曲线逐根收益率，使用总体标准差；标准差为 0 时返回 0。
func SharpeRatio(equity []float64, annualization float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	if annualization <= 0 {
		annualization = DefaultAnnualization
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i]-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// MaxDrawdown 按滚动峰值扫描，返回 [0,1] 的最大回撤比例。
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
