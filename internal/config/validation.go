package config

import (
	"fmt"
	"strings"
)

var (
	knownMethods    = []string{"grid", "genetic", "bayesian"}
	knownObjectives = []string{"sharpe_ratio", "total_return", "total_return_pct", "win_rate", "profit_factor", "max_drawdown", "calmar_ratio"}
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	if err := c.WalkForward.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Provider {
	case ProviderBinanceFutures, ProviderBinanceSpot:
	default:
		return fmt.Errorf("market.provider 不支持: %s", m.Provider)
	}
	switch m.Client {
	case ClientREST, ClientSDK:
	default:
		return fmt.Errorf("market.client 不支持: %s", m.Client)
	}
	if strings.TrimSpace(m.DataRoot) == "" {
		return fmt.Errorf("market.data_root 不能为空")
	}
	if m.MaxBatch <= 0 || m.MaxBatch > 1500 {
		return fmt.Errorf("market.max_batch 需在 1~1500 之间")
	}
	if m.RetryAttempts < 0 {
		return fmt.Errorf("market.retry_attempts 不能为负数")
	}
	if m.BreakerThreshold <= 0 {
		return fmt.Errorf("market.breaker_threshold 必须 > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital 必须 > 0")
	}
	if b.AllocationFraction <= 0 || b.AllocationFraction > 1 {
		return fmt.Errorf("backtest.allocation_fraction 需在 (0,1] 区间")
	}
	if b.AnnualizationFactor <= 0 {
		return fmt.Errorf("backtest.annualization_factor 必须 > 0")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if !contains(knownMethods, o.DefaultMethod) {
		return fmt.Errorf("optimizer.default_method 不支持: %s", o.DefaultMethod)
	}
	if !contains(knownObjectives, o.DefaultObjective) {
		return fmt.Errorf("optimizer.default_objective 不支持: %s", o.DefaultObjective)
	}
	if o.Workers <= 0 {
		return fmt.Errorf("optimizer.workers 必须 > 0")
	}
	if o.Grid.MaxCombinations <= 0 {
		return fmt.Errorf("optimizer.grid.max_combinations 必须 > 0")
	}
	if o.Grid.FloatSteps <= 0 {
		return fmt.Errorf("optimizer.grid.float_steps 必须 > 0")
	}
	if o.Grid.Truncation != TruncateFirst && o.Grid.Truncation != TruncateSample {
		return fmt.Errorf("optimizer.grid.truncation 只支持 first/sample: %s", o.Grid.Truncation)
	}
	ga := o.Genetic
	if ga.Population < 2 {
		return fmt.Errorf("optimizer.genetic.population 至少为 2")
	}
	if ga.Generations <= 0 {
		return fmt.Errorf("optimizer.genetic.generations 必须 > 0")
	}
	if ga.TournamentSize < 1 {
		return fmt.Errorf("optimizer.genetic.tournament_size 至少为 1")
	}
	if ga.EliteFraction < 0 || ga.EliteFraction >= 1 {
		return fmt.Errorf("optimizer.genetic.elite_fraction 需在 [0,1) 区间")
	}
	if ga.MutationRate < 0 || ga.MutationRate > 1 || ga.CrossoverRate < 0 || ga.CrossoverRate > 1 {
		return fmt.Errorf("optimizer.genetic 概率参数需在 [0,1] 区间")
	}
	bo := o.Bayesian
	if bo.Trials <= 0 {
		return fmt.Errorf("optimizer.bayesian.trials 必须 > 0")
	}
	if bo.StartupTrials < 1 {
		return fmt.Errorf("optimizer.bayesian.startup_trials 至少为 1")
	}
	if bo.Candidates <= 0 || bo.LengthScale <= 0 || bo.Noise <= 0 {
		return fmt.Errorf("optimizer.bayesian candidates/length_scale/noise 必须 > 0")
	}
	return nil
}

func (w *WalkForwardConfig) validate() error {
	if w.WindowDays <= 0 || w.StepDays <= 0 {
		return fmt.Errorf("walkforward.window_days/step_days 必须 > 0")
	}
	ws := w.Weights
	if ws.WinRate < 0 || ws.Sharpe < 0 || ws.Drawdown < 0 || ws.Return < 0 {
		return fmt.Errorf("walkforward.weights 不能为负数")
	}
	if ws.Total() <= 0 {
		return fmt.Errorf("walkforward.weights 之和必须 > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("notify.telegram 启用时 bot_token 与 chat_id 不能为空")
	}
	return nil
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
