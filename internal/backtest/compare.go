package backtest

import (
	"fmt"
	"sort"
)

// 参与排名的指标。max_drawdown 越小越好，其余越大越好。
var rankedMetrics = []string{"total_return_pct", "sharpe_ratio", "win_rate", "max_drawdown"}

// ComparisonEntry 单个参赛结果。
type ComparisonEntry struct {
	Label          string         `json:"label"`
	Strategy       string         `json:"strategy_name"`
	ResultID       string         `json:"result_id"`
	Parameters     map[string]any `json:"parameters"`
	Metrics        Metrics        `json:"metrics"`
	Ranks          map[string]int `json:"ranks"`
	CompositeScore float64        `json:"composite_score"`
}

// Comparison 多策略横向对比结果，Entries 按综合得分降序。
type Comparison struct {
	Entries     []ComparisonEntry   `json:"entries"`
	Rankings    map[string][]string `json:"rankings"`
	Best        string              `json:"best_overall"`
	ReturnRange [2]float64          `json:"return_range"`
	SharpeRange [2]float64          `json:"sharpe_range"`
}

func metricValue(m Metrics, name string) float64 {
	switch name {
	case "total_return_pct":
		return m.TotalReturnPct
	case "sharpe_ratio":
		return m.SharpeRatio
	case "win_rate":
		return m.WinRate
	case "max_drawdown":
		return m.MaxDrawdown
	}
	return 0
}

// Compare 按各指标分别排名，综合得分 = Σ (N - rank + 1) / N 再对指标取平均。
func Compare(results []Result) Comparison {
	out := Comparison{Rankings: make(map[string][]string, len(rankedMetrics))}
	if len(results) == 0 {
		return out
	}
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Strategy]++
	}
	seen := make(map[string]int)
	entries := make([]ComparisonEntry, len(results))
	for i, r := range results {
		label := r.Strategy
		if counts[r.Strategy] > 1 {
			seen[r.Strategy]++
			label = fmt.Sprintf("%s#%d", r.Strategy, seen[r.Strategy])
		}
		entries[i] = ComparisonEntry{
			Label:      label,
			Strategy:   r.Strategy,
			ResultID:   r.ID,
			Parameters: r.Parameters,
			Metrics:    r.Metrics,
			Ranks:      make(map[string]int, len(rankedMetrics)),
		}
	}

	n := float64(len(entries))
	for _, metric := range rankedMetrics {
		order := make([]int, len(entries))
		for i := range order {
			order[i] = i
		}
		ascending := metric == "max_drawdown"
		sort.SliceStable(order, func(a, b int) bool {
			va, vb := metricValue(entries[order[a]].Metrics, metric), metricValue(entries[order[b]].Metrics, metric)
			if ascending {
				return va < vb
			}
			return va > vb
		})
		labels := make([]string, len(order))
		for rank, idx := range order {
			labels[rank] = entries[idx].Label
			entries[idx].Ranks[metric] = rank + 1
			entries[idx].CompositeScore += (n - float64(rank+1) + 1) / n
		}
		out.Rankings[metric] = labels
	}
	for i := range entries {
		entries[i].CompositeScore /= float64(len(rankedMetrics))
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].CompositeScore > entries[b].CompositeScore
	})

	out.Entries = entries
	out.Best = entries[0].Label
	out.ReturnRange = [2]float64{entries[0].Metrics.TotalReturnPct, entries[0].Metrics.TotalReturnPct}
	out.SharpeRange = [2]float64{entries[0].Metrics.SharpeRatio, entries[0].Metrics.SharpeRatio}
	for _, e := range entries[1:] {
		out.ReturnRange[0] = min(out.ReturnRange[0], e.Metrics.TotalReturnPct)
		out.ReturnRange[1] = max(out.ReturnRange[1], e.Metrics.TotalReturnPct)
		out.SharpeRange[0] = min(out.SharpeRange[0], e.Metrics.SharpeRatio)
		out.SharpeRange[1] = max(out.SharpeRange[1], e.Metrics.SharpeRatio)
	}
	return out
}
