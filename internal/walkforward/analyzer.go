package walkforward

import (
	"context"
	"fmt"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/google/uuid"
)

// Config 分析器默认窗口与评分权重。
type Config struct {
	Window  time.Duration
	Step    time.Duration
	Weights config.ScoreWeights
}

func ConfigFrom(cfg config.WalkForwardConfig) Config {
	return Config{Window: Days(cfg.WindowDays), Step: Days(cfg.StepDays), Weights: cfg.Weights}
}

// Request 固定参数的滚动窗口检验。WindowDays/StepDays 为 0 时使用配置值。
type Request struct {
	Strategy       string              `json:"strategy_name"`
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe,omitempty"`
	Range          backtest.DateRange  `json:"date_range"`
	Parameters     strategy.Parameters `json:"parameters"`
	WindowDays     int                 `json:"window_size,omitempty"`
	StepDays       int                 `json:"step_size,omitempty"`
	InitialCapital float64             `json:"initial_capital,omitempty"`
}

// WindowResult 单个窗口的回测结果；失败窗口只记录错误，不参与汇总。
type WindowResult struct {
	Index    int                `json:"index"`
	Range    backtest.DateRange `json:"date_range"`
	Bars     int                `json:"bars"`
	ResultID string             `json:"result_id,omitempty"`
	Metrics  *backtest.Metrics  `json:"metrics,omitempty"`
	Err      string             `json:"error,omitempty"`
}

// Report 稳健性报告。
type Report struct {
	ID         string              `json:"id"`
	Strategy   string              `json:"strategy_name"`
	Symbol     string              `json:"symbol"`
	Timeframe  string              `json:"timeframe"`
	Range      backtest.DateRange  `json:"date_range"`
	Parameters strategy.Parameters `json:"parameters"`
	WindowDays float64             `json:"window_size"`
	StepDays   float64             `json:"step_size"`
	Windows    []WindowResult      `json:"window_results"`
	Aggregate  Aggregate           `json:"aggregate_statistics"`
	Breakdown  ScoreBreakdown      `json:"score_breakdown"`
	Score      float64             `json:"robustness_score"`
	Grade      string              `json:"grade"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ReportStore 持久化稳健性报告。
type ReportStore interface {
	SaveWalkForward(ctx context.Context, rep Report) error
}

type Analyzer struct {
	runner *backtest.Runner
	store  ReportStore
	cfg    Config
}

func NewAnalyzer(runner *backtest.Runner, store ReportStore, cfg Config) (*Analyzer, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	if cfg.Window <= 0 {
		cfg.Window = Days(90)
	}
	if cfg.Step <= 0 {
		cfg.Step = Days(30)
	}
	if cfg.Weights.Total() <= 0 {
		cfg.Weights = config.DefaultScoreWeights()
	}
	return &Analyzer{runner: runner, store: store, cfg: cfg}, nil
}

// Run 一次性拉取整段行情，按窗口切片后逐个回测，参数在所有窗口保持不变。
func (a *Analyzer) Run(ctx context.Context, req Request) (Report, error) {
	started := time.Now()
	base, err := a.runner.Normalize(backtest.Request{
		Strategy:       req.Strategy,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Range:          req.Range,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		return Report{}, err
	}
	params, err := a.runner.Evaluator().Registry().Resolve(base.Strategy, req.Parameters)
	if err != nil {
		return Report{}, err
	}
	base.Parameters = params

	window, step := a.cfg.Window, a.cfg.Step
	if req.WindowDays > 0 {
		window = Days(req.WindowDays)
	}
	if req.StepDays > 0 {
		step = Days(req.StepDays)
	}
	windows, err := PlanWindows(base.Range, window, step)
	if err != nil {
		return Report{}, err
	}
	if len(windows) == 0 {
		return Report{}, fmt.Errorf("%w: 区间 %s 短于窗口 %s", backtest.ErrInvalidRequest, base.Range, window)
	}

	last := windows[len(windows)-1].End
	bars, err := a.runner.Source().PriceSeries(ctx, base.Symbol, base.Timeframe, base.Range.Start, last)
	if err != nil {
		return Report{}, err
	}
	if len(bars) == 0 {
		return Report{}, market.Unavailable(base.Symbol, base.Timeframe, "区间内无 K 线", nil)
	}

	rep := Report{
		ID:         uuid.NewString(),
		Strategy:   base.Strategy,
		Symbol:     base.Symbol,
		Timeframe:  base.Timeframe,
		Range:      base.Range,
		Parameters: params,
		WindowDays: window.Hours() / 24,
		StepDays:   step.Hours() / 24,
		Windows:    make([]WindowResult, 0, len(windows)),
	}
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		wr := WindowResult{Index: i, Range: w}
		sub := market.SliceSeries(bars, w.Start, w.End)
		wr.Bars = len(sub)
		if len(sub) == 0 {
			wr.Err = "窗口内无 K 线"
			rep.Windows = append(rep.Windows, wr)
			continue
		}
		r := base
		r.Range = w
		res, err := a.runner.RunSeries(r, sub)
		switch {
		case err == nil:
			m := res.Metrics
			wr.Metrics = &m
			wr.ResultID = res.ID
		case strategy.IsConfigError(err):
			return Report{}, err
		default:
			logger.Warnf("[walkforward] 窗口 %d (%s) 回测失败: %v", i, w, err)
			wr.Err = err.Error()
		}
		rep.Windows = append(rep.Windows, wr)
	}

	rep.Aggregate = aggregate(rep.Windows)
	rep.Score, rep.Breakdown = Score(rep.Aggregate, a.cfg.Weights)
	rep.Grade = Grade(rep.Score)
	rep.CreatedAt = time.Now().UTC()

	if a.store != nil {
		if err := a.store.SaveWalkForward(context.WithoutCancel(ctx), rep); err != nil {
			logger.Warnf("[walkforward] 保存报告失败: %v", err)
		}
	}
	logger.Infof("[walkforward] %s %s windows=%d failed=%d score=%.1f grade=%s 用时 %s",
		rep.Strategy, rep.Symbol, len(rep.Windows), rep.Aggregate.FailedWindows, rep.Score, rep.Grade, time.Since(started))
	return rep, nil
}
