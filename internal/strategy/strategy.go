package strategy

import (
	"math"
	"sort"

	"quantdesk/internal/market"
)

// 所有内置策略共享的风控参数名。
const (
	ParamStopLoss   = "stop_loss"
	ParamTakeProfit = "take_profit"
)

// Signal 是策略在单根 K 线上的决策。
type Signal int

const (
	Hold Signal = iota
	EnterLong
	Exit
)

func (s Signal) String() string {
	switch s {
	case EnterLong:
		return "ENTER_LONG"
	case Exit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

// PositionView 是策略可见的持仓快照，只读。
type PositionView struct {
	EntryPrice float64
	EntryIndex int
	Quantity   float64
}

// Indicators 保存一次回测预先计算好的指标序列，与 K 线等长。
type Indicators struct {
	Close  []float64
	Params Parameters
	series map[string][]float64
}

func NewIndicators(closes []float64, params Parameters) Indicators {
	return Indicators{Close: closes, Params: params, series: make(map[string][]float64)}
}

// Set 注册一条指标序列。
func (ind Indicators) Set(name string, values []float64) {
	ind.series[name] = values
}

// Series 返回指定序列，不存在时为 nil。
func (ind Indicators) Series(name string) []float64 {
	return ind.series[name]
}

// At 返回第 i 个值，越界或不存在时为 NaN。
func (ind Indicators) At(name string, i int) float64 {
	values := ind.series[name]
	if i < 0 || i >= len(values) {
		return math.NaN()
	}
	return values[i]
}

// Names 返回已注册的序列名（排序）。
func (ind Indicators) Names() []string {
	out := make([]string, 0, len(ind.series))
	for name := range ind.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ready 表示第 i 根 K 线上所有指标均已度过预热期。
func (ind Indicators) Ready(i int) bool {
	if i < 0 || i >= len(ind.Close) {
		return false
	}
	for _, values := range ind.series {
		if i >= len(values) || math.IsNaN(values[i]) {
			return false
		}
	}
	return true
}

// Strategy 描述一个可回测的交易策略。
// Prepare 在整段序列上计算一次指标；Decide 在每根 K 线上给出决策，pos 为 nil 表示空仓。
type Strategy interface {
	ID() string
	Description() string
	Domains() []Domain
	Prepare(bars []market.Bar, params Parameters) (Indicators, error)
	Decide(i int, ind Indicators, pos *PositionView) Signal
}
