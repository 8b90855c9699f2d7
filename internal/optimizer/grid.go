package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/strategy"
)

const defaultGridBatch = 64

// GridSearch 按声明顺序做笛卡尔积穷举，第一个参数变化最慢。
type GridSearch struct {
	MaxCombinations int
	FloatSteps      int
	Truncation      string
	Seed            int64
	BatchSize       int
}

func (GridSearch) Name() string { return "grid" }

func (g GridSearch) Search(ctx context.Context, prob Problem, budget Budget) (SearchState, error) {
	state := NewSearchState()
	if len(prob.Domains) == 0 {
		return state, fmt.Errorf("参数域不能为空")
	}
	axes := make([][]any, len(prob.Domains))
	total := 1
	for i, d := range prob.Domains {
		axes[i] = d.Values(g.FloatSteps)
		if len(axes[i]) == 0 {
			return state, fmt.Errorf("参数 %s 没有可取值", d.Name)
		}
		total = saturatingMul(total, len(axes[i]))
	}
	limit := g.MaxCombinations
	if budget.MaxTrials > 0 {
		limit = budget.MaxTrials
	}
	if limit <= 0 {
		limit = 1000
	}
	state.Combinations = total

	var order []int
	if total <= limit {
		order = sequence(total)
	} else {
		state.Truncated = true
		if g.Truncation == config.TruncateSample {
			order = sampleIndices(rand.New(rand.NewSource(g.Seed)), total, limit)
		} else {
			order = sequence(limit)
		}
		logger.Warnf("[optimizer] 网格组合数 %d 超过上限 %d，按 %s 方式截断", total, limit, truncationName(g.Truncation))
	}

	batch := g.BatchSize
	if batch <= 0 {
		batch = defaultGridBatch
	}
	for start := 0; start < len(order); start += batch {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		end := min(start+batch, len(order))
		params := make([]strategy.Parameters, 0, end-start)
		for _, idx := range order[start:end] {
			params = append(params, combination(prob.Domains, axes, idx))
		}
		trials, err := prob.Eval.Evaluate(ctx, params)
		state.Record(trials...)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// combination 把线性下标解码成参数组合，最后一个参数变化最快。
func combination(domains []strategy.Domain, axes [][]any, idx int) strategy.Parameters {
	out := make(strategy.Parameters, len(domains))
	for i := len(domains) - 1; i >= 0; i-- {
		n := len(axes[i])
		out[domains[i].Name] = axes[i][idx%n]
		idx /= n
	}
	return out
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// sampleIndices 从 [0, n) 中不放回地抽取 k 个下标（Floyd 算法），按升序返回。
func sampleIndices(rng *rand.Rand, n, k int) []int {
	chosen := make(map[int]struct{}, k)
	for j := n - k; j < n; j++ {
		t := rng.Intn(j + 1)
		if _, ok := chosen[t]; ok {
			t = j
		}
		chosen[t] = struct{}{}
	}
	out := make([]int, 0, k)
	for idx := range chosen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func saturatingMul(a, b int) int {
	if a != 0 && b > math.MaxInt/a {
		return math.MaxInt
	}
	return a * b
}

func truncationName(mode string) string {
	if mode == config.TruncateSample {
		return config.TruncateSample
	}
	return config.TruncateFirst
}
