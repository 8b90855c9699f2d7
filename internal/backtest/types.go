package backtest

import (
	"errors"
	"fmt"
	"time"

	"quantdesk/internal/indicator"
	"quantdesk/internal/strategy"
)

// ErrInsufficientData 匹配所有数据不足错误（含指标预热不足）。
var ErrInsufficientData = indicator.ErrInsufficientData

// ErrInvalidRequest 标记请求本身不合法（品种、区间、周期等）。
var ErrInvalidRequest = errors.New("请求参数无效")

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ExitReason 平仓原因。
type ExitReason string

const (
	ExitSignal     ExitReason = "signal"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// DateRange 是半开区间 [Start, End)。
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return invalidRequest("start/end 不能为空")
	}
	if !r.End.After(r.Start) {
		return invalidRequest("end 必须晚于 start")
	}
	return nil
}

func (r DateRange) Duration() time.Duration { return r.End.Sub(r.Start) }

func (r DateRange) String() string {
	return fmt.Sprintf("%s ~ %s", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// Position 是一笔未平仓多头。
type Position struct {
	Side            string    `json:"side"`
	EntryIndex      int       `json:"entry_index"`
	EntryPrice      float64   `json:"entry_price"`
	EntryTime       time.Time `json:"entry_time"`
	Quantity        float64   `json:"quantity"`
	StopLossPrice   float64   `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64   `json:"take_profit_price,omitempty"`
}

// Trade 记录一笔完整交易，PnLPct 为百分比。
type Trade struct {
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      time.Time     `json:"exit_time"`
	EntryPrice    float64       `json:"entry_price"`
	ExitPrice     float64       `json:"exit_price"`
	Quantity      float64       `json:"quantity"`
	PnL           float64       `json:"pnl"`
	PnLPct        float64       `json:"pnl_pct"`
	ExitReason    ExitReason    `json:"exit_reason"`
	Duration      time.Duration `json:"duration"`
	DurationHours float64       `json:"duration_hours"`
}

// Metrics 汇总收益与风险指标。TotalReturnPct 为百分比，WinRate / MaxDrawdown 为 [0,1] 小数。
type Metrics struct {
	TotalTrades           int     `json:"total_trades"`
	WinningTrades         int     `json:"winning_trades"`
	LosingTrades          int     `json:"losing_trades"`
	TotalReturn           float64 `json:"total_return"`
	TotalReturnPct        float64 `json:"total_return_pct"`
	WinRate               float64 `json:"win_rate"`
	ProfitFactor          float64 `json:"profit_factor"`
	ProfitFactorUnbounded bool    `json:"profit_factor_unbounded,omitempty"`
	SharpeRatio           float64 `json:"sharpe_ratio"`
	MaxDrawdown           float64 `json:"max_drawdown"`
	CalmarRatio           float64 `json:"calmar_ratio"`
	AverageTrade          float64 `json:"average_trade"`
	AverageWin            float64 `json:"average_win"`
	AverageLoss           float64 `json:"average_loss"`
	LargestWin            float64 `json:"largest_win"`
	LargestLoss           float64 `json:"largest_loss"`
	GrossProfit           float64 `json:"gross_profit"`
	GrossLoss             float64 `json:"gross_loss"`
	AverageDurationHours  float64 `json:"average_duration_hours"`
	TotalDurationHours    float64 `json:"total_duration_hours"`
	FinalCapital          float64 `json:"final_capital"`
}

// Request 描述一次回测。
type Request struct {
	Strategy       string              `json:"strategy"`
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe,omitempty"`
	Range          DateRange           `json:"range"`
	Parameters     strategy.Parameters `json:"parameters,omitempty"`
	InitialCapital float64             `json:"initial_capital,omitempty"`
	// Persist 为 true 时结果交给 Recorder 异步落库。
	Persist bool `json:"-"`
}

// Result 是一次回测的不可变结果。
type Result struct {
	ID             string              `json:"id"`
	Strategy       string              `json:"strategy_name"`
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe"`
	Range          DateRange           `json:"date_range"`
	Parameters     strategy.Parameters `json:"parameters"`
	InitialCapital float64             `json:"initial_capital"`
	Bars           int                 `json:"bars"`
	Trades         []Trade             `json:"trades"`
	EquityTimes    []int64             `json:"equity_times"`
	EquityCurve    []float64           `json:"equity_curve"`
	OpenPosition   *Position           `json:"open_position,omitempty"`
	Metrics        Metrics             `json:"metrics"`
	CreatedAt      time.Time           `json:"created_at"`
}
