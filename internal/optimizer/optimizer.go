package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/market/feed"
	"quantdesk/internal/strategy"

	"github.com/google/uuid"
)

const (
	MethodGrid     = "grid"
	MethodGenetic  = "genetic"
	MethodBayesian = "bayesian"
)

const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Config 优化器默认值，由 config.OptimizerConfig 转换而来。
type Config struct {
	Method         string
	Objective      string
	Workers        int
	Seed           int64
	SessionTimeout time.Duration
	PersistTrials  bool
	Grid           GridSearch
	Genetic        GeneticSearch
	Bayesian       BayesianSearch
}

func ConfigFrom(cfg config.OptimizerConfig, storage config.StorageConfig) Config {
	return Config{
		Method:         cfg.DefaultMethod,
		Objective:      cfg.DefaultObjective,
		Workers:        cfg.Workers,
		Seed:           cfg.Seed,
		SessionTimeout: cfg.SessionTimeout(),
		PersistTrials:  storage.PersistTrials,
		Grid: GridSearch{
			MaxCombinations: cfg.Grid.MaxCombinations,
			FloatSteps:      cfg.Grid.FloatSteps,
			Truncation:      cfg.Grid.Truncation,
		},
		Genetic: GeneticSearch{
			Population:     cfg.Genetic.Population,
			Generations:    cfg.Genetic.Generations,
			EliteFraction:  cfg.Genetic.EliteFraction,
			TournamentSize: cfg.Genetic.TournamentSize,
			CrossoverRate:  cfg.Genetic.CrossoverRate,
			MutationRate:   cfg.Genetic.MutationRate,
		},
		Bayesian: BayesianSearch{
			Trials:        cfg.Bayesian.Trials,
			StartupTrials: cfg.Bayesian.StartupTrials,
			Candidates:    cfg.Bayesian.Candidates,
			LengthScale:   cfg.Bayesian.LengthScale,
			Noise:         cfg.Bayesian.Noise,
			Xi:            cfg.Bayesian.Xi,
		},
	}
}

// Request 一次优化会话的输入。Domains 为空时搜索策略声明的全部参数域。
type Request struct {
	Strategy       string             `json:"strategy_name"`
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe,omitempty"`
	Range          backtest.DateRange `json:"date_range"`
	Domains        []strategy.Domain  `json:"parameter_domains,omitempty"`
	Method         string             `json:"method,omitempty"`
	Objective      string             `json:"objective,omitempty"`
	Budget         Budget             `json:"budget"`
	InitialCapital float64            `json:"initial_capital,omitempty"`
	Seed           *int64             `json:"seed,omitempty"`
}

// OptimizationResult 优化会话的完整输出。
type OptimizationResult struct {
	ID             string              `json:"id"`
	Strategy       string              `json:"strategy_name"`
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe"`
	Range          backtest.DateRange  `json:"date_range"`
	Method         string              `json:"method"`
	Objective      Objective           `json:"objective"`
	Domains        []strategy.Domain   `json:"parameter_domains"`
	BestParameters strategy.Parameters `json:"best_parameters"`
	BestScore      float64             `json:"-"`
	BestMetrics    *backtest.Metrics   `json:"best_metrics,omitempty"`
	BestResult     *backtest.Result    `json:"best_result,omitempty"`
	Trials         []Trial             `json:"trial_history"`
	Generations    []GenerationStat    `json:"generations,omitempty"`
	Combinations   int                 `json:"combinations,omitempty"`
	Truncated      bool                `json:"truncated"`
	Evaluated      int                 `json:"evaluated"`
	CacheHits      int                 `json:"cache_hits"`
	Status         string              `json:"status"`
	Error          string              `json:"error,omitempty"`
	Duration       time.Duration       `json:"duration_ns"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (r OptimizationResult) MarshalJSON() ([]byte, error) {
	type alias OptimizationResult
	return json.Marshal(struct {
		alias
		BestScore *float64 `json:"best_score"`
	}{alias: alias(r), BestScore: jsonScore(r.BestScore)})
}

func (r *OptimizationResult) UnmarshalJSON(data []byte) error {
	type alias OptimizationResult
	aux := struct {
		*alias
		BestScore *float64 `json:"best_score"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.BestScore = WorstScore
	if aux.BestScore != nil {
		r.BestScore = *aux.BestScore
	}
	return nil
}

// ResultStore 持久化优化结果。
type ResultStore interface {
	SaveOptimization(ctx context.Context, res OptimizationResult) error
}

// Optimizer 对外的优化入口：校验请求、选择引擎、运行会话、复跑最优参数并落库。
type Optimizer struct {
	runner *backtest.Runner
	store  ResultStore
	cfg    Config
}

func New(runner *backtest.Runner, store ResultStore, cfg Config) (*Optimizer, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if strings.TrimSpace(cfg.Method) == "" {
		cfg.Method = MethodGrid
	}
	if strings.TrimSpace(cfg.Objective) == "" {
		cfg.Objective = string(ObjectiveSharpe)
	}
	if _, err := ParseObjective(cfg.Objective); err != nil {
		return nil, err
	}
	if _, err := engineFor(cfg, cfg.Method, cfg.Seed); err != nil {
		return nil, err
	}
	return &Optimizer{runner: runner, store: store, cfg: cfg}, nil
}

func engineFor(cfg Config, method string, seed int64) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case MethodGrid:
		g := cfg.Grid
		g.Seed = seed
		return g, nil
	case MethodGenetic:
		g := cfg.Genetic
		g.Seed = seed
		return g, nil
	case MethodBayesian:
		b := cfg.Bayesian
		b.Seed = seed
		return b, nil
	}
	return nil, fmt.Errorf("%w: 未知优化方法 %q", backtest.ErrInvalidRequest, method)
}

// prepared 是校验通过后的会话输入。
type prepared struct {
	base      backtest.Request
	domains   []strategy.Domain
	objective Objective
	engine    Engine
}

func (o *Optimizer) prepare(req Request) (prepared, error) {
	base, err := o.runner.Normalize(backtest.Request{
		Strategy:       req.Strategy,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Range:          req.Range,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		return prepared{}, err
	}
	domains, err := o.runner.Evaluator().Registry().ValidateDomains(base.Strategy, req.Domains)
	if err != nil {
		return prepared{}, err
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = o.cfg.Method
	}
	objName := req.Objective
	if strings.TrimSpace(objName) == "" {
		objName = o.cfg.Objective
	}
	objective, err := ParseObjective(objName)
	if err != nil {
		return prepared{}, err
	}
	seed := o.cfg.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}
	engine, err := engineFor(o.cfg, method, seed)
	if err != nil {
		return prepared{}, err
	}
	return prepared{base: base, domains: domains, objective: objective, engine: engine}, nil
}

// Validate 只校验请求，不访问行情。异步提交前先调用，让非法请求同步失败。
func (o *Optimizer) Validate(req Request) error {
	_, err := o.prepare(req)
	return err
}

// Optimize 运行一次优化会话。配置错误（未知策略、参数、非法域）直接返回错误；
// 会话超时返回已完成部分（Status=timeout），调用方取消时同时返回 ctx.Err()。
func (o *Optimizer) Optimize(ctx context.Context, req Request) (OptimizationResult, error) {
	started := time.Now()
	p, err := o.prepare(req)
	if err != nil {
		return OptimizationResult{}, err
	}
	base, domains, objective, engine := p.base, p.domains, p.objective, p.engine

	sessionCtx := ctx
	if o.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}
	cache := feed.NewSessionCache(o.runner.Source())
	session := o.runner.WithSource(cache)
	run := func(ctx context.Context, params strategy.Parameters) (backtest.Metrics, error) {
		r := base
		r.Parameters = params
		r.Persist = o.cfg.PersistTrials
		res, err := session.Run(ctx, r)
		if err != nil {
			// 策略与域已在 prepare 校验过，这里的配置错误只针对当前这组参数
			if strategy.IsConfigError(err) {
				return backtest.Metrics{}, &RejectedError{Key: params.Key(), Reason: err.Error()}
			}
			return backtest.Metrics{}, err
		}
		return res.Metrics, nil
	}
	pool, err := NewPool(run, objective, o.cfg.Workers)
	if err != nil {
		return OptimizationResult{}, err
	}

	logger.Infof("[optimizer] 开始优化 %s %s %s method=%s objective=%s range=%s",
		base.Strategy, base.Symbol, base.Timeframe, engine.Name(), objective, base.Range)
	state, searchErr := engine.Search(sessionCtx, Problem{Domains: domains, Eval: pool}, req.Budget)
	if searchErr != nil && strategy.IsConfigError(searchErr) {
		return OptimizationResult{}, searchErr
	}

	evaluated, hits := pool.Stats()
	res := OptimizationResult{
		ID:             uuid.NewString(),
		Strategy:       base.Strategy,
		Symbol:         base.Symbol,
		Timeframe:      base.Timeframe,
		Range:          base.Range,
		Method:         engine.Name(),
		Objective:      objective,
		Domains:        domains,
		BestParameters: state.BestParameters,
		BestScore:      state.BestScore,
		BestMetrics:    state.BestMetrics,
		Trials:         state.History,
		Generations:    state.Generations,
		Combinations:   state.Combinations,
		Truncated:      state.Truncated,
		Evaluated:      evaluated,
		CacheHits:      hits,
		Status:         StatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	var retErr error
	switch {
	case searchErr == nil:
	case ctx.Err() != nil:
		res.Status = StatusCancelled
		res.Error = ctx.Err().Error()
		retErr = ctx.Err()
	case errors.Is(searchErr, context.DeadlineExceeded):
		res.Status = StatusTimeout
		res.Error = fmt.Sprintf("会话超时 (%s)，返回已完成的 %d 次试验", o.cfg.SessionTimeout, len(state.History))
		logger.Warnf("[optimizer] %s", res.Error)
	default:
		return OptimizationResult{}, searchErr
	}

	if state.BestParameters == nil {
		if res.Status == StatusCompleted {
			res.Status = StatusFailed
			res.Error = "没有成功的试验"
		}
	} else {
		// 复跑最优参数得到完整结果；行情已在会话缓存中，不受会话超时影响
		r := base
		r.Parameters = state.BestParameters
		r.Persist = true
		best, err := session.Run(context.WithoutCancel(ctx), r)
		if err != nil {
			logger.Warnf("[optimizer] 复跑最优参数失败: %v", err)
		} else {
			res.BestResult = &best
			res.BestMetrics = &best.Metrics
		}
	}
	res.Duration = time.Since(started)

	if o.store != nil {
		if err := o.store.SaveOptimization(context.WithoutCancel(ctx), res); err != nil {
			logger.Warnf("[optimizer] 保存优化结果失败: %v", err)
		}
	}
	hitsCache, misses := cache.Stats()
	logger.Infof("[optimizer] 优化结束 id=%s status=%s trials=%d best=%s score=%.4f 行情缓存 hit=%d miss=%d 用时 %s",
		res.ID, res.Status, len(res.Trials), res.BestParameters.Key(), objective.Value(res.BestScore), hitsCache, misses, res.Duration)
	return res, retErr
}
