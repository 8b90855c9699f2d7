package config

import (
	"runtime"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9991"
	defaultAppLogPath         = "data/logs/quantdesk.log"
	defaultMarketProvider     = ProviderBinanceFutures
	defaultMarketClient       = ClientREST
	defaultMarketREST         = "https://fapi.binance.com"
	defaultMarketDataRoot     = "data/candles"
	defaultMarketTimeframe    = "1h"
	defaultMarketRatePerMin   = 1200
	defaultMarketMaxBatch     = 1000
	defaultMarketRetries      = 3
	defaultMarketRetryDelayMs = 500
	defaultBreakerThreshold   = 5
	defaultBreakerTimeoutSec  = 30
	defaultHTTPTimeoutSec     = 15
	defaultInitialCapital     = 10000
	defaultAllocation         = 0.95
	defaultAnnualization      = 252
	defaultMethod             = "grid"
	defaultObjective          = "sharpe_ratio"
	defaultMaxWorkers         = 8
	defaultSeed               = 42
	defaultSessionTimeoutSec  = 600
	defaultGridMax            = 1000
	defaultGridFloatSteps     = 10
	defaultGridTruncation     = TruncateFirst
	defaultGAPopulation       = 50
	defaultGAGenerations      = 20
	defaultGAElite            = 0.25
	defaultGATournament       = 3
	defaultGACrossover        = 0.5
	defaultGAMutation         = 0.1
	defaultBOTrials           = 100
	defaultBOStartup          = 10
	defaultBOCandidates       = 512
	defaultBOLengthScale      = 0.25
	defaultBONoise            = 1e-6
	defaultBOXi               = 0.01
	defaultWFWindowDays       = 90
	defaultWFStepDays         = 30
	defaultWeightWinRate      = 30
	defaultWeightSharpe       = 25
	defaultWeightDrawdown     = 25
	defaultWeightReturn       = 20
	defaultResultsDB          = "data/db/results.db"
	defaultSinkBuffer         = 64
)

const (
	ProviderBinanceFutures = "binance_futures"
	ProviderBinanceSpot    = "binance_spot"

	ClientREST = "rest"
	ClientSDK  = "sdk"

	TruncateFirst  = "first"
	TruncateSample = "sample"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.WalkForward.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	m.Client = strings.ToLower(strings.TrimSpace(m.Client))
	applyFieldDefaults(keys,
		stringFieldDefault("market.provider", &m.Provider, defaultMarketProvider),
		stringFieldDefault("market.client", &m.Client, defaultMarketClient),
		stringFieldDefault("market.rest_base", &m.RESTBase, defaultMarketREST),
		stringFieldDefault("market.data_root", &m.DataRoot, defaultMarketDataRoot),
		stringFieldDefault("market.timeframe", &m.Timeframe, defaultMarketTimeframe),
		intFieldDefault("market.rate_limit_per_min", &m.RateLimitPerMin, defaultMarketRatePerMin),
		intFieldDefault("market.max_batch", &m.MaxBatch, defaultMarketMaxBatch),
		intFieldDefault("market.retry_attempts", &m.RetryAttempts, defaultMarketRetries),
		intFieldDefault("market.retry_base_delay_ms", &m.RetryBaseDelayMs, defaultMarketRetryDelayMs),
		intFieldDefault("market.breaker_threshold", &m.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("market.breaker_timeout_seconds", &m.BreakerTimeoutSec, defaultBreakerTimeoutSec),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSec, defaultHTTPTimeoutSec),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		floatFieldDefault("backtest.allocation_fraction", &b.AllocationFraction, defaultAllocation),
		floatFieldDefault("backtest.annualization_factor", &b.AnnualizationFactor, defaultAnnualization),
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	o.Grid.Truncation = strings.ToLower(strings.TrimSpace(o.Grid.Truncation))
	applyFieldDefaults(keys,
		stringFieldDefault("optimizer.default_method", &o.DefaultMethod, defaultMethod),
		stringFieldDefault("optimizer.default_objective", &o.DefaultObjective, defaultObjective),
		intFieldDefault("optimizer.workers", &o.Workers, defaultWorkers()),
		fieldDefault{
			key:   "optimizer.seed",
			need:  func() bool { return o.Seed == 0 },
			apply: func() { o.Seed = defaultSeed },
		},
		intFieldDefault("optimizer.session_timeout_seconds", &o.SessionTimeoutSec, defaultSessionTimeoutSec),
		intFieldDefault("optimizer.grid.max_combinations", &o.Grid.MaxCombinations, defaultGridMax),
		intFieldDefault("optimizer.grid.float_steps", &o.Grid.FloatSteps, defaultGridFloatSteps),
		stringFieldDefault("optimizer.grid.truncation", &o.Grid.Truncation, defaultGridTruncation),
		intFieldDefault("optimizer.genetic.population", &o.Genetic.Population, defaultGAPopulation),
		intFieldDefault("optimizer.genetic.generations", &o.Genetic.Generations, defaultGAGenerations),
		floatFieldDefault("optimizer.genetic.elite_fraction", &o.Genetic.EliteFraction, defaultGAElite),
		intFieldDefault("optimizer.genetic.tournament_size", &o.Genetic.TournamentSize, defaultGATournament),
		floatFieldDefault("optimizer.genetic.crossover_rate", &o.Genetic.CrossoverRate, defaultGACrossover),
		floatFieldDefault("optimizer.genetic.mutation_rate", &o.Genetic.MutationRate, defaultGAMutation),
		intFieldDefault("optimizer.bayesian.trials", &o.Bayesian.Trials, defaultBOTrials),
		intFieldDefault("optimizer.bayesian.startup_trials", &o.Bayesian.StartupTrials, defaultBOStartup),
		intFieldDefault("optimizer.bayesian.candidates", &o.Bayesian.Candidates, defaultBOCandidates),
		floatFieldDefault("optimizer.bayesian.length_scale", &o.Bayesian.LengthScale, defaultBOLengthScale),
		floatFieldDefault("optimizer.bayesian.noise", &o.Bayesian.Noise, defaultBONoise),
		floatFieldDefault("optimizer.bayesian.xi", &o.Bayesian.Xi, defaultBOXi),
	)
}

func (w *WalkForwardConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("walkforward.window_days", &w.WindowDays, defaultWFWindowDays),
		intFieldDefault("walkforward.step_days", &w.StepDays, defaultWFStepDays),
	)
	// 权重整体缺省时才回落，允许显式把某一项配置为 0。
	if keys.isSet("walkforward.weights.win_rate") || keys.isSet("walkforward.weights.sharpe") ||
		keys.isSet("walkforward.weights.drawdown") || keys.isSet("walkforward.weights.return") {
		return
	}
	w.Weights = DefaultScoreWeights()
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("storage.results_db", &s.ResultsDB, defaultResultsDB),
		intFieldDefault("storage.sink_buffer", &s.SinkBuffer, defaultSinkBuffer),
	)
}

// DefaultScoreWeights 返回 30/25/25/20 的默认稳健性评分权重。
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		WinRate:  defaultWeightWinRate,
		Sharpe:   defaultWeightSharpe,
		Drawdown: defaultWeightDrawdown,
		Return:   defaultWeightReturn,
	}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > defaultMaxWorkers {
		n = defaultMaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
