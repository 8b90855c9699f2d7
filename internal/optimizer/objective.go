package optimizer

import (
	"fmt"
	"math"
	"strings"

	"quantdesk/internal/backtest"
)

// Objective 是优化目标，统一按“越大越好”打分。
type Objective string

const (
	ObjectiveSharpe         Objective = "sharpe_ratio"
	ObjectiveTotalReturn    Objective = "total_return"
	ObjectiveTotalReturnPct Objective = "total_return_pct"
	ObjectiveWinRate        Objective = "win_rate"
	ObjectiveProfitFactor   Objective = "profit_factor"
	ObjectiveMaxDrawdown    Objective = "max_drawdown"
	ObjectiveCalmar         Objective = "calmar_ratio"
)

// WorstScore 用于失败的试验（数据不足、数据不可用等）。
var WorstScore = math.Inf(-1)

func Objectives() []Objective {
	return []Objective{
		ObjectiveSharpe, ObjectiveTotalReturn, ObjectiveTotalReturnPct, ObjectiveWinRate,
		ObjectiveProfitFactor, ObjectiveMaxDrawdown, ObjectiveCalmar,
	}
}

func ParseObjective(name string) (Objective, error) {
	obj := Objective(strings.ToLower(strings.TrimSpace(name)))
	for _, o := range Objectives() {
		if o == obj {
			return obj, nil
		}
	}
	return "", fmt.Errorf("%w: 未知优化目标 %q", backtest.ErrInvalidRequest, name)
}

// Score 从回测指标提取目标值；max_drawdown 取负号以便统一最大化。
func (o Objective) Score(m backtest.Metrics) float64 {
	var v float64
	switch o {
	case ObjectiveSharpe:
		v = m.SharpeRatio
	case ObjectiveTotalReturn:
		v = m.TotalReturn
	case ObjectiveTotalReturnPct:
		v = m.TotalReturnPct
	case ObjectiveWinRate:
		v = m.WinRate
	case ObjectiveProfitFactor:
		v = m.ProfitFactor
	case ObjectiveMaxDrawdown:
		v = -m.MaxDrawdown
	case ObjectiveCalmar:
		v = m.CalmarRatio
	default:
		return WorstScore
	}
	if math.IsNaN(v) {
		return WorstScore
	}
	return v
}

// Value 把内部分数还原成指标本身的取值（用于展示）。
func (o Objective) Value(score float64) float64 {
	if o == ObjectiveMaxDrawdown && !math.IsInf(score, 0) {
		return -score
	}
	return score
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// jsonScore 把无穷分数序列化为 null。
func jsonScore(f float64) *float64 {
	if !finite(f) {
		return nil
	}
	return &f
}
