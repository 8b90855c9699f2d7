package backtest

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TradeAnalysis 逐笔交易统计。
type TradeAnalysis struct {
	TotalTrades          int                `json:"total_trades"`
	WinningTrades        int                `json:"winning_trades"`
	LosingTrades         int                `json:"losing_trades"`
	WinRate              float64            `json:"win_rate"`
	AverageWin           float64            `json:"average_win"`
	AverageLoss          float64            `json:"average_loss"`
	LargestWin           float64            `json:"largest_win"`
	LargestLoss          float64            `json:"largest_loss"`
	ProfitFactor         float64            `json:"profit_factor"`
	AverageDurationHours float64            `json:"average_duration_hours"`
	MaxConsecutiveWins   int                `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses"`
	ExitReasons          map[ExitReason]int `json:"exit_reasons"`
}

// RiskMetrics 基于逐笔收益率（小数）的分布特征。
type RiskMetrics struct {
	Volatility         float64 `json:"volatility"`
	DownsideVolatility float64 `json:"downside_volatility"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	Skewness           float64 `json:"skewness"`
	Kurtosis           float64 `json:"kurtosis"`
}

// MonthBucket 按平仓月份汇总的盈亏。
type MonthBucket struct {
	Month  string  `json:"month"`
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
}

type MonthlyPerformance struct {
	Months         []MonthBucket `json:"months"`
	PositiveMonths int           `json:"positive_months"`
	NegativeMonths int           `json:"negative_months"`
	BestMonth      float64       `json:"best_month"`
	WorstMonth     float64       `json:"worst_month"`
	AverageMonth   float64       `json:"average_month"`
	Volatility     float64       `json:"volatility"`
}

// DrawdownPeriod 一段从峰值回落到重新创新高（或序列结束）的区间。
type DrawdownPeriod struct {
	Start     time.Time `json:"start"`
	Trough    time.Time `json:"trough"`
	End       time.Time `json:"end,omitempty"`
	Depth     float64   `json:"depth"`
	Bars      int       `json:"bars"`
	Recovered bool      `json:"recovered"`
}

type DrawdownAnalysis struct {
	MaxDrawdown     float64          `json:"max_drawdown"`
	AverageDrawdown float64          `json:"average_drawdown"`
	CurrentDrawdown float64          `json:"current_drawdown"`
	RecoveryFactor  float64          `json:"recovery_factor"`
	Periods         []DrawdownPeriod `json:"periods"`
}

// Analysis 单次回测的深入分析。
type Analysis struct {
	ResultID        string             `json:"result_id"`
	Strategy        string             `json:"strategy_name"`
	Symbol          string             `json:"symbol"`
	Metrics         Metrics            `json:"metrics"`
	Trades          TradeAnalysis      `json:"trade_analysis"`
	Risk            RiskMetrics        `json:"risk_metrics"`
	Monthly         MonthlyPerformance `json:"monthly_performance"`
	Drawdowns       DrawdownAnalysis   `json:"drawdown_analysis"`
	Recommendations []string           `json:"recommendations"`
}

// Analyze 基于回测结果生成交易、风险、月度、回撤分析与改进建议。
func Analyze(res Result) Analysis {
	a := Analysis{
		ResultID:  res.ID,
		Strategy:  res.Strategy,
		Symbol:    res.Symbol,
		Metrics:   res.Metrics,
		Trades:    analyzeTrades(res.Trades, res.Metrics),
		Risk:      analyzeRisk(res.Trades),
		Monthly:   analyzeMonthly(res.Trades),
		Drawdowns: analyzeDrawdowns(res.EquityCurve, res.EquityTimes),
	}
	a.Recommendations = recommend(res.Metrics)
	return a
}

func analyzeTrades(trades []Trade, m Metrics) TradeAnalysis {
	out := TradeAnalysis{
		TotalTrades:          m.TotalTrades,
		WinningTrades:        m.WinningTrades,
		LosingTrades:         m.LosingTrades,
		WinRate:              m.WinRate,
		AverageWin:           m.AverageWin,
		AverageLoss:          m.AverageLoss,
		LargestWin:           m.LargestWin,
		LargestLoss:          m.LargestLoss,
		ProfitFactor:         m.ProfitFactor,
		AverageDurationHours: m.AverageDurationHours,
		ExitReasons:          make(map[ExitReason]int),
	}
	wins, losses := 0, 0
	for _, t := range trades {
		out.ExitReasons[t.ExitReason]++
		switch {
		case t.PnL > 0:
			wins++
			losses = 0
		case t.PnL < 0:
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		out.MaxConsecutiveWins = max(out.MaxConsecutiveWins, wins)
		out.MaxConsecutiveLosses = max(out.MaxConsecutiveLosses, losses)
	}
	return out
}

func analyzeRisk(trades []Trade) RiskMetrics {
	var out RiskMetrics
	if len(trades) < 2 {
		return out
	}
	returns := make([]float64, len(trades))
	var downside []float64
	for i, t := range trades {
		returns[i] = t.PnLPct / 100
		if returns[i] < 0 {
			downside = append(downside, returns[i])
		}
	}
	out.Volatility = stat.StdDev(returns, nil)
	if len(downside) > 1 {
		out.DownsideVolatility = stat.StdDev(downside, nil)
	}
	if out.DownsideVolatility > 0 {
		out.SortinoRatio = stat.Mean(returns, nil) / out.DownsideVolatility
	}
	if len(returns) > 2 && out.Volatility > 0 {
		out.Skewness = stat.Skew(returns, nil)
	}
	if len(returns) > 3 && out.Volatility > 0 {
		out.Kurtosis = stat.ExKurtosis(returns, nil)
	}
	return out
}

func analyzeMonthly(trades []Trade) MonthlyPerformance {
	var out MonthlyPerformance
	if len(trades) == 0 {
		return out
	}
	buckets := make(map[string]*MonthBucket)
	for _, t := range trades {
		key := t.ExitTime.UTC().Format("2006-01")
		b, ok := buckets[key]
		if !ok {
			b = &MonthBucket{Month: key}
			buckets[key] = b
		}
		b.PnL += t.PnL
		b.Trades++
	}
	pnls := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		out.Months = append(out.Months, *b)
	}
	sort.Slice(out.Months, func(i, j int) bool { return out.Months[i].Month < out.Months[j].Month })
	out.BestMonth, out.WorstMonth = math.Inf(-1), math.Inf(1)
	for _, b := range out.Months {
		pnls = append(pnls, b.PnL)
		if b.PnL > 0 {
			out.PositiveMonths++
		} else {
			out.NegativeMonths++
		}
		out.BestMonth = math.Max(out.BestMonth, b.PnL)
		out.WorstMonth = math.Min(out.WorstMonth, b.PnL)
	}
	out.AverageMonth, out.Volatility = stat.PopMeanStdDev(pnls, nil)
	return out
}

func analyzeDrawdowns(equity []float64, times []int64) DrawdownAnalysis {
	var out DrawdownAnalysis
	if len(equity) == 0 {
		return out
	}
	at := func(i int) time.Time {
		if i < len(times) {
			return time.UnixMilli(times[i]).UTC()
		}
		return time.Time{}
	}
	peak := equity[0]
	var cur *DrawdownPeriod
	trough := peak
	for i, v := range equity {
		if v >= peak {
			if cur != nil {
				cur.End = at(i)
				cur.Recovered = true
				out.Periods = append(out.Periods, *cur)
				cur = nil
			}
			peak = v
			continue
		}
		if cur == nil {
			cur = &DrawdownPeriod{Start: at(i - 1)}
			trough = v
			cur.Trough = at(i)
		}
		cur.Bars++
		if v < trough {
			trough = v
			cur.Trough = at(i)
		}
		if peak > 0 {
			cur.Depth = math.Max(cur.Depth, (peak-trough)/peak)
		}
	}
	if cur != nil {
		out.Periods = append(out.Periods, *cur)
		if peak > 0 {
			out.CurrentDrawdown = (peak - equity[len(equity)-1]) / peak
		}
	}
	var total float64
	for _, p := range out.Periods {
		out.MaxDrawdown = math.Max(out.MaxDrawdown, p.Depth)
		total += p.Depth
	}
	if len(out.Periods) > 0 {
		out.AverageDrawdown = total / float64(len(out.Periods))
	}
	if out.MaxDrawdown > 0 && equity[0] > 0 {
		out.RecoveryFactor = (equity[len(equity)-1] - equity[0]) / equity[0] / out.MaxDrawdown
	}
	return out
}

func recommend(m Metrics) []string {
	if m.TotalTrades == 0 {
		return []string{"区间内没有成交，检查入场条件或扩大回测区间"}
	}
	var out []string
	switch {
	case m.WinRate < 0.4:
		out = append(out, "胜率偏低 (<40%)，考虑收紧入场条件")
	case m.WinRate > 0.8:
		out = append(out, "胜率过高 (>80%)，注意检查是否过拟合")
	}
	if m.ProfitFactor < 1.2 {
		out = append(out, "盈亏比偏低 (<1.2)，改善止盈止损比例")
	}
	if m.SharpeRatio < 1.0 {
		out = append(out, "夏普比率偏低 (<1.0)，考虑降低波动")
	}
	if m.MaxDrawdown > 0.2 {
		out = append(out, "最大回撤过高 (>20%)，加强风险控制")
	}
	if len(out) == 0 {
		out = append(out, "表现处于可接受范围")
	}
	return out
}
