package model

import (
	"gorm.io/datatypes"
)

// BacktestRecord 单次回测结果，常用指标单独成列便于排序筛选，完整结果存 payload。
type BacktestRecord struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	ResultID       string         `gorm:"column:result_id;uniqueIndex"`
	Strategy       string         `gorm:"column:strategy;index:idx_backtest_strategy_symbol,priority:1"`
	Symbol         string         `gorm:"column:symbol;index:idx_backtest_strategy_symbol,priority:2"`
	Timeframe      string         `gorm:"column:timeframe"`
	StartUnix      int64          `gorm:"column:range_start"`
	EndUnix        int64          `gorm:"column:range_end"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	TotalTrades    int            `gorm:"column:total_trades"`
	TotalReturnPct float64        `gorm:"column:total_return_pct"`
	SharpeRatio    float64        `gorm:"column:sharpe_ratio"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	WinRate        float64        `gorm:"column:win_rate"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	MetricsJSON    datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	Payload        datatypes.JSON `gorm:"column:payload;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
}

func (BacktestRecord) TableName() string { return "backtest_results" }

// OptimizationRecord 一次优化会话。
type OptimizationRecord struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex"`
	Strategy       string         `gorm:"column:strategy;index"`
	Symbol         string         `gorm:"column:symbol"`
	Timeframe      string         `gorm:"column:timeframe"`
	Method         string         `gorm:"column:method"`
	Objective      string         `gorm:"column:objective"`
	Status         string         `gorm:"column:status"`
	Trials         int            `gorm:"column:trials"`
	BestScore      *float64       `gorm:"column:best_score"`
	BestParamsJSON datatypes.JSON `gorm:"column:best_params_json;type:TEXT"`
	Payload        datatypes.JSON `gorm:"column:payload;type:TEXT"`
	DurationMs     int64          `gorm:"column:duration_ms"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
}

func (OptimizationRecord) TableName() string { return "optimization_runs" }

// WalkForwardRecord 一份稳健性报告。
type WalkForwardRecord struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ReportID      string         `gorm:"column:report_id;uniqueIndex"`
	Strategy      string         `gorm:"column:strategy;index"`
	Symbol        string         `gorm:"column:symbol"`
	Windows       int            `gorm:"column:windows"`
	Score         float64        `gorm:"column:score"`
	Grade         string         `gorm:"column:grade"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (WalkForwardRecord) TableName() string { return "walkforward_reports" }
