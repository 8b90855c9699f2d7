package backtest

import (
	"fmt"

	"quantdesk/internal/indicator"
	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

// EvaluatorConfig 控制撮合细节。
type EvaluatorConfig struct {
	// AllocationFraction 每次开仓动用的资金比例。
	AllocationFraction float64
	// ForceCloseAtEnd 为 true 时序列结束仍持仓则按最后收盘价平仓（end_of_data）。
	ForceCloseAtEnd bool
}

// Evaluation 是单次推演的原始产出。
type Evaluation struct {
	Parameters   strategy.Parameters
	Trades       []Trade
	EquityCurve  []float64
	OpenPosition *Position
}

// Evaluator 按 K 线逐根推演策略，得到成交记录与资金曲线。同一输入总是产生同一输出。
type Evaluator struct {
	registry *strategy.Registry
	cfg      EvaluatorConfig
}

func NewEvaluator(registry *strategy.Registry, cfg EvaluatorConfig) (*Evaluator, error) {
	if registry == nil {
		return nil, fmt.Errorf("strategy registry 不能为空")
	}
	if cfg.AllocationFraction <= 0 || cfg.AllocationFraction > 1 {
		return nil, fmt.Errorf("allocation_fraction 必须在 (0,1] 内: %v", cfg.AllocationFraction)
	}
	return &Evaluator{registry: registry, cfg: cfg}, nil
}

// Registry 返回策略注册表。
func (e *Evaluator) Registry() *strategy.Registry { return e.registry }

// openPosition 撮合内部持仓状态，止损止盈价用 decimal 计算避免浮点边界误判。
type openPosition struct {
	index      int
	entryPrice float64
	quantity   float64
	stop       decimal.Decimal
	take       decimal.Decimal
	hasStop    bool
	hasTake    bool
}

func (p *openPosition) view() strategy.PositionView {
	return strategy.PositionView{EntryPrice: p.entryPrice, EntryIndex: p.index, Quantity: p.quantity}
}

func (p *openPosition) public(bars []market.Bar) *Position {
	pos := &Position{
		Side:       "long",
		EntryIndex: p.index,
		EntryPrice: p.entryPrice,
		EntryTime:  bars[p.index].Time(),
		Quantity:   p.quantity,
	}
	if p.hasStop {
		pos.StopLossPrice, _ = p.stop.Float64()
	}
	if p.hasTake {
		pos.TakeProfitPrice, _ = p.take.Float64()
	}
	return pos
}

// Evaluate 推演 strategyID 在 bars 上的表现。bars[0] 只用于初始化，资金曲线长度等于 len(bars)。
func (e *Evaluator) Evaluate(strategyID string, bars []market.Bar, params strategy.Parameters, capital float64) (Evaluation, error) {
	s, err := e.registry.Lookup(strategyID)
	if err != nil {
		return Evaluation{}, err
	}
	resolved, err := e.registry.Resolve(strategyID, params)
	if err != nil {
		return Evaluation{}, err
	}
	if capital <= 0 {
		return Evaluation{}, fmt.Errorf("initial_capital 必须为正: %v", capital)
	}
	if len(bars) < 2 {
		return Evaluation{}, &indicator.InsufficientDataError{Indicator: "series", Need: 2, Have: len(bars)}
	}
	if err := market.ValidateSeries(bars); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	ind, err := s.Prepare(bars, resolved)
	if err != nil {
		return Evaluation{}, err
	}

	stopLoss := decimal.NewFromFloat(resolved.Float(strategy.ParamStopLoss))
	takeProfit := decimal.NewFromFloat(resolved.Float(strategy.ParamTakeProfit))
	alloc := decimal.NewFromFloat(e.cfg.AllocationFraction)

	var (
		trades []Trade
		pos    *openPosition
	)
	equity := make([]float64, 0, len(bars))
	equity = append(equity, capital)

	closeAt := func(i int, reason ExitReason) {
		exit := bars[i].Close
		pnl := (exit - pos.entryPrice) * pos.quantity
		capital += pnl
		entryTime, exitTime := bars[pos.index].Time(), bars[i].Time()
		trades = append(trades, Trade{
			EntryTime:     entryTime,
			ExitTime:      exitTime,
			EntryPrice:    pos.entryPrice,
			ExitPrice:     exit,
			Quantity:      pos.quantity,
			PnL:           pnl,
			PnLPct:        pnl / (pos.entryPrice * pos.quantity) * 100,
			ExitReason:    reason,
			Duration:      exitTime.Sub(entryTime),
			DurationHours: exitTime.Sub(entryTime).Hours(),
		})
		logger.Debugf("[backtest] %s 平仓 idx=%d reason=%s pnl=%.4f", strategyID, i, reason, pnl)
		pos = nil
	}

	for i := 1; i < len(bars); i++ {
		price := bars[i].Close
		if pos == nil {
			if ind.Ready(i) && s.Decide(i, ind, nil) == strategy.EnterLong {
				entry := decimal.NewFromFloat(price)
				qty, _ := decimal.NewFromFloat(capital).Mul(alloc).Div(entry).Float64()
				pos = &openPosition{
					index:      i,
					entryPrice: price,
					quantity:   qty,
					stop:       entry.Mul(decOne.Sub(stopLoss)),
					take:       entry.Mul(decOne.Add(takeProfit)),
					hasStop:    stopLoss.IsPositive(),
					hasTake:    takeProfit.IsPositive(),
				}
				logger.Debugf("[backtest] %s 开多 idx=%d price=%.4f qty=%.6f", strategyID, i, price, qty)
			}
		} else {
			view := pos.view()
			px := decimal.NewFromFloat(price)
			switch {
			case s.Decide(i, ind, &view) == strategy.Exit:
				closeAt(i, ExitSignal)
			case pos.hasStop && px.LessThanOrEqual(pos.stop):
				closeAt(i, ExitStopLoss)
			case pos.hasTake && px.GreaterThanOrEqual(pos.take):
				closeAt(i, ExitTakeProfit)
			}
		}
		equity = append(equity, capital)
	}

	out := Evaluation{Parameters: resolved}
	if pos != nil {
		if e.cfg.ForceCloseAtEnd {
			closeAt(len(bars)-1, ExitEndOfData)
			equity[len(equity)-1] = capital
		} else {
			out.OpenPosition = pos.public(bars)
		}
	}
	out.Trades = trades
	out.EquityCurve = equity
	return out, nil
}
