package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, ProviderBinanceFutures, cfg.Market.Provider)
	assert.InDelta(t, 0.95, cfg.Backtest.AllocationFraction, 1e-12)
	assert.Equal(t, 1000, cfg.Optimizer.Grid.MaxCombinations)
	assert.Equal(t, TruncateFirst, cfg.Optimizer.Grid.Truncation)
	assert.Equal(t, 50, cfg.Optimizer.Genetic.Population)
	assert.Equal(t, 100, cfg.Optimizer.Bayesian.Trials)
	assert.Equal(t, DefaultScoreWeights(), cfg.WalkForward.Weights)
	assert.False(t, cfg.Backtest.ForceCloseAtEnd)
}

func TestLoadIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "backtest:\n  initial_capital: 500\noptimizer:\n  seed: 7\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nbacktest:\n  initial_capital: 2500\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 2500, cfg.Backtest.InitialCapital, 1e-9)
	assert.Equal(t, int64(7), cfg.Optimizer.Seed)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "循环")
}

func TestExplicitZeroIsValidated(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "backtest:\n  allocation_fraction: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation_fraction")
}

func TestWeightsPartiallyConfigured(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "walkforward:\n  weights:\n    win_rate: 50\n    sharpe: 50\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ScoreWeights{WinRate: 50, Sharpe: 50}, cfg.WalkForward.Weights)
}

func TestRejectsUnknownTruncation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "optimizer:\n  grid:\n    truncation: random\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadDefaultsIsValid(t *testing.T) {
	cfg := LoadDefaults()
	assert.NoError(t, validate(cfg))
	assert.GreaterOrEqual(t, cfg.Optimizer.Workers, 1)
}

func TestTelegramRequiresCredentialsWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "notify:\n  telegram:\n    enabled: true\n    chat_id: \"42\"\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "notify.telegram")

	path = writeFile(t, dir, "ok.yaml", "notify:\n  telegram:\n    enabled: true\n    bot_token: abc\n    chat_id: \"42\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Notify.Telegram.BotToken)
}
