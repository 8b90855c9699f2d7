package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/market/feed"
	symbolpkg "quantdesk/internal/pkg/symbol"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig 回测默认值。
type RunnerConfig struct {
	Timeframe      string
	InitialCapital float64
	Annualization  float64
}

// Runner 串起 取数 → 推演 → 指标 → 异步落库。每次调用同步执行。
type Runner struct {
	source   market.Source
	eval     *Evaluator
	recorder Recorder
	cfg      RunnerConfig
}

func NewRunner(source market.Source, eval *Evaluator, recorder Recorder, cfg RunnerConfig) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("market source 不能为空")
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluator 不能为空")
	}
	if strings.TrimSpace(cfg.Timeframe) == "" {
		cfg.Timeframe = "1h"
	}
	if _, err := market.ParseTimeframe(cfg.Timeframe); err != nil {
		return nil, err
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.Annualization <= 0 {
		cfg.Annualization = DefaultAnnualization
	}
	return &Runner{source: source, eval: eval, recorder: recorder, cfg: cfg}, nil
}

// WithSource 返回使用另一个数据源的副本（例如会话级缓存）。
func (r *Runner) WithSource(src market.Source) *Runner {
	cp := *r
	cp.source = src
	return &cp
}

func (r *Runner) Source() market.Source { return r.source }

func (r *Runner) Evaluator() *Evaluator { return r.eval }

func (r *Runner) Config() RunnerConfig { return r.cfg }

// Normalize 补全请求默认值并做基础校验，不访问数据源。
func (r *Runner) Normalize(req Request) (Request, error) {
	req.Strategy = strings.TrimSpace(req.Strategy)
	if _, err := r.eval.Registry().Lookup(req.Strategy); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return req, invalidRequest("symbol 不能为空")
	}
	if !symbolpkg.IsValid(req.Symbol) {
		return req, invalidRequest("无法识别的交易对 %q", req.Symbol)
	}
	req.Symbol = symbolpkg.Canonical(req.Symbol)
	if err := req.Range.Validate(); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Timeframe) == "" {
		req.Timeframe = r.cfg.Timeframe
	}
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		return req, invalidRequest("%v", err)
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = r.cfg.InitialCapital
	}
	return req, nil
}

// Run 拉取 [Range.Start, Range.End) 的行情并回测。
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	req, err := r.Normalize(req)
	if err != nil {
		return Result{}, err
	}
	bars, err := r.source.PriceSeries(ctx, req.Symbol, req.Timeframe, req.Range.Start, req.Range.End)
	if err != nil {
		return Result{}, err
	}
	if len(bars) == 0 {
		return Result{}, market.Unavailable(req.Symbol, req.Timeframe, "区间内无 K 线", nil)
	}
	return r.RunSeries(req, bars)
}

// RunAll 并发回测多组请求，共享一份会话级行情缓存；任一失败即整体返回错误。
func (r *Runner) RunAll(ctx context.Context, reqs []Request, workers int) ([]Result, error) {
	session := r.WithSource(feed.NewSessionCache(r.source))
	out := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := session.Run(gctx, req)
			if err != nil {
				return fmt.Errorf("第 %d 组 (%s): %w", i+1, req.Strategy, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RunSeries 在已取得的序列上回测，req 需已经过 Normalize。
func (r *Runner) RunSeries(req Request, bars []market.Bar) (Result, error) {
	started := time.Now()
	ev, err := r.eval.Evaluate(req.Strategy, bars, req.Parameters, req.InitialCapital)
	if err != nil {
		return Result{}, err
	}
	times := make([]int64, len(bars))
	for i, b := range bars {
		times[i] = b.OpenTime
	}
	res := Result{
		ID:             uuid.NewString(),
		Strategy:       req.Strategy,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Range:          req.Range,
		Parameters:     ev.Parameters,
		InitialCapital: req.InitialCapital,
		Bars:           len(bars),
		Trades:         ev.Trades,
		EquityTimes:    times,
		EquityCurve:    ev.EquityCurve,
		OpenPosition:   ev.OpenPosition,
		Metrics:        ComputeMetrics(ev.Trades, ev.EquityCurve, req.InitialCapital, r.cfg.Annualization),
		CreatedAt:      time.Now().UTC(),
	}
	logger.Debugf("[backtest] %s %s %s params=%s trades=%d return=%.2f%% sharpe=%.3f 用时 %s",
		res.Strategy, res.Symbol, res.Timeframe, res.Parameters.Key(), res.Metrics.TotalTrades,
		res.Metrics.TotalReturnPct, res.Metrics.SharpeRatio, time.Since(started))
	if req.Persist && r.recorder != nil {
		r.recorder.Record(res)
	}
	return res, nil
}
