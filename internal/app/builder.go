package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/store/gormstore"
	"quantdesk/internal/strategy"
	apihttp "quantdesk/internal/transport/http/api"
	"quantdesk/internal/walkforward"
)

type AppBuilder struct {
	cfg *config.Config

	marketStackFn func(config.MarketConfig) (*MarketStack, error)
	resultStoreFn func(config.StorageConfig) (*gormstore.Store, error)
	catalogFn     func(config.StrategiesConfig) (*strategy.Catalog, error)
	httpServerFn  func(config.AppConfig, apihttp.Config) (*apihttp.Server, error)

	sourceOverride market.Source
}

type AppBuilderOption func(*AppBuilder)

// WithSource 用给定行情源替换交易所 + 本地缓存（测试、回放使用）。
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceOverride = src }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
		resultStoreFn: buildResultStore,
		catalogFn:     loadCatalog,
		httpServerFn:  buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 按 配置 → 结果库 → 行情 → 策略 → 回测 → 优化 → walk-forward → HTTP 的顺序装配。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	app := &App{cfg: cfg}
	success := false
	defer func() {
		if !success {
			app.Close()
		}
	}()

	results, err := b.resultStoreFn(cfg.Storage)
	if err != nil {
		return nil, err
	}
	app.results = results

	var source market.Source = b.sourceOverride
	if source == nil {
		stack, err := b.marketStackFn(cfg.Market)
		if err != nil {
			return nil, err
		}
		app.market = stack
		source = stack.Feed
	}

	registry := strategy.NewDefaultRegistry()
	catalog, err := b.catalogFn(cfg.Strategies)
	if err != nil {
		return nil, err
	}
	if catalog != nil {
		registry.AttachCatalog(catalog)
		logger.Infof("✓ 策略目录已加载: %s", catalog.Path())
	}

	evaluator, err := backtest.NewEvaluator(registry, backtest.EvaluatorConfig{
		AllocationFraction: cfg.Backtest.AllocationFraction,
		ForceCloseAtEnd:    cfg.Backtest.ForceCloseAtEnd,
	})
	if err != nil {
		return nil, err
	}
	app.sink = backtest.NewAsyncSink(results, cfg.Storage.SinkBuffer)
	runner, err := backtest.NewRunner(source, evaluator, app.sink, backtest.RunnerConfig{
		Timeframe:      cfg.Market.Timeframe,
		InitialCapital: cfg.Backtest.InitialCapital,
		Annualization:  cfg.Backtest.AnnualizationFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化回测执行器失败: %w", err)
	}
	app.runner = runner

	optCfg := optimizer.ConfigFrom(cfg.Optimizer, cfg.Storage)
	opt, err := optimizer.New(runner, results, optCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化优化器失败: %w", err)
	}
	app.optimizer = opt

	analyzer, err := walkforward.NewAnalyzer(runner, results, walkforward.ConfigFrom(cfg.WalkForward))
	if err != nil {
		return nil, fmt.Errorf("初始化 walk-forward 失败: %w", err)
	}
	app.analyzer = analyzer

	server, err := b.httpServerFn(cfg.App, apihttp.Config{
		Registry:  registry,
		Runner:    runner,
		Optimizer: opt,
		Analyzer:  analyzer,
		Results:   results,
		Notifier:  buildNotifier(cfg.Notify),
	})
	if err != nil {
		return nil, err
	}
	app.http = server

	catalogPath := ""
	if catalog != nil {
		catalogPath = catalog.Path()
	}
	app.Summary = &StartupSummary{
		Market: MarketSummary{
			Provider:  cfg.Market.Provider,
			DataRoot:  cfg.Market.DataRoot,
			Timeframe: cfg.Market.Timeframe,
			Offline:   cfg.Market.Offline,
			RateLimit: cfg.Market.RateLimitPerMin,
		},
		Optimizer: OptimizerSummary{
			Method:         optCfg.Method,
			Objective:      optCfg.Objective,
			Workers:        optCfg.Workers,
			SessionTimeout: cfg.Optimizer.SessionTimeout().String(),
		},
		Strategies: registry.List(),
		Catalog:    catalogPath,
		ResultsDB:  cfg.Storage.ResultsDB,
		HTTPAddr:   cfg.App.HTTPAddr,
		Notify:     cfg.Notify.Telegram.Enabled,
	}
	success = true
	return app, nil
}

func buildResultStore(cfg config.StorageConfig) (*gormstore.Store, error) {
	st, err := gormstore.NewStore(cfg.ResultsDB)
	if err != nil {
		return nil, fmt.Errorf("初始化结果库失败: %w", err)
	}
	logger.Infof("✓ 结果库: %s", cfg.ResultsDB)
	return st, nil
}

// loadCatalog 目录文件是可选的：未配置或文件不存在时只用内置参数域。
func loadCatalog(cfg config.StrategiesConfig) (*strategy.Catalog, error) {
	path := strings.TrimSpace(cfg.CatalogPath)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Infof("策略目录 %s 不存在，使用内置参数域", path)
			return nil, nil
		}
		return nil, err
	}
	return strategy.NewCatalog(path)
}
