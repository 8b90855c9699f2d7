package config

import (
	"strings"
	"time"
)

// Config 是 quantdesk 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Market      MarketConfig      `toml:"market"`
	Backtest    BacktestConfig    `toml:"backtest"`
	Optimizer   OptimizerConfig   `toml:"optimizer"`
	WalkForward WalkForwardConfig `toml:"walkforward"`
	Storage     StorageConfig     `toml:"storage"`
	Strategies  StrategiesConfig  `toml:"strategies"`
	Notify      NotifyConfig      `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig 描述行情来源：远端交易所 + 本地 sqlite 缓存。
type MarketConfig struct {
	Provider          string `toml:"provider"`
	Client            string `toml:"client"`
	RESTBase          string `toml:"rest_base"`
	DataRoot          string `toml:"data_root"`
	Timeframe         string `toml:"timeframe"`
	RateLimitPerMin   int    `toml:"rate_limit_per_min"`
	MaxBatch          int    `toml:"max_batch"`
	RetryAttempts     int    `toml:"retry_attempts"`
	RetryBaseDelayMs  int    `toml:"retry_base_delay_ms"`
	BreakerThreshold  int    `toml:"breaker_threshold"`
	BreakerTimeoutSec int    `toml:"breaker_timeout_seconds"`
	HTTPTimeoutSec    int    `toml:"http_timeout_seconds"`

	// Offline 为 true 时只读本地缓存，不访问交易所。
	Offline bool `toml:"offline"`
}

func (m MarketConfig) RetryBaseDelay() time.Duration {
	return time.Duration(m.RetryBaseDelayMs) * time.Millisecond
}

func (m MarketConfig) BreakerTimeout() time.Duration {
	return time.Duration(m.BreakerTimeoutSec) * time.Second
}

func (m MarketConfig) HTTPTimeout() time.Duration {
	return time.Duration(m.HTTPTimeoutSec) * time.Second
}

// BacktestConfig 控制单次回测的资金与统计口径。
type BacktestConfig struct {
	InitialCapital      float64 `toml:"initial_capital"`
	AllocationFraction  float64 `toml:"allocation_fraction"`
	AnnualizationFactor float64 `toml:"annualization_factor"`
	ForceCloseAtEnd     bool    `toml:"force_close_at_end"`
}

type OptimizerConfig struct {
	DefaultMethod     string         `toml:"default_method"`
	DefaultObjective  string         `toml:"default_objective"`
	Workers           int            `toml:"workers"`
	Seed              int64          `toml:"seed"`
	SessionTimeoutSec int            `toml:"session_timeout_seconds"`
	Grid              GridConfig     `toml:"grid"`
	Genetic           GeneticConfig  `toml:"genetic"`
	Bayesian          BayesianConfig `toml:"bayesian"`
}

func (o OptimizerConfig) SessionTimeout() time.Duration {
	return time.Duration(o.SessionTimeoutSec) * time.Second
}

type GridConfig struct {
	MaxCombinations int    `toml:"max_combinations"`
	FloatSteps      int    `toml:"float_steps"`
	Truncation      string `toml:"truncation"`
}

type GeneticConfig struct {
	Population     int     `toml:"population"`
	Generations    int     `toml:"generations"`
	EliteFraction  float64 `toml:"elite_fraction"`
	TournamentSize int     `toml:"tournament_size"`
	CrossoverRate  float64 `toml:"crossover_rate"`
	MutationRate   float64 `toml:"mutation_rate"`
}

type BayesianConfig struct {
	Trials        int     `toml:"trials"`
	StartupTrials int     `toml:"startup_trials"`
	Candidates    int     `toml:"candidates"`
	LengthScale   float64 `toml:"length_scale"`
	Noise         float64 `toml:"noise"`
	Xi            float64 `toml:"xi"`
}

type WalkForwardConfig struct {
	WindowDays int          `toml:"window_days"`
	StepDays   int          `toml:"step_days"`
	Weights    ScoreWeights `toml:"weights"`
}

// ScoreWeights 是稳健性评分各项的满分。
type ScoreWeights struct {
	WinRate  float64 `toml:"win_rate"`
	Sharpe   float64 `toml:"sharpe"`
	Drawdown float64 `toml:"drawdown"`
	Return   float64 `toml:"return"`
}

func (w ScoreWeights) Total() float64 {
	return w.WinRate + w.Sharpe + w.Drawdown + w.Return
}

type StorageConfig struct {
	ResultsDB     string `toml:"results_db"`
	PersistTrials bool   `toml:"persist_trials"`
	SinkBuffer    int    `toml:"sink_buffer"`
}

type StrategiesConfig struct {
	CatalogPath string `toml:"catalog_path"`
}

// NotifyConfig 控制长任务结束后的推送。
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
