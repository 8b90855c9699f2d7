package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"quantdesk/internal/logger"
	"quantdesk/internal/strategy"
)

// GeneticSearch 固定代数的遗传算法：精英保留、锦标赛选择、均匀交叉、逐参数变异。
// 每一代是一个屏障，代内个体并行评估。
type GeneticSearch struct {
	Population     int
	Generations    int
	EliteFraction  float64
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	Seed           int64
}

func (GeneticSearch) Name() string { return "genetic" }

func (g GeneticSearch) withDefaults(budget Budget) GeneticSearch {
	if budget.Population > 0 {
		g.Population = budget.Population
	}
	if budget.Generations > 0 {
		g.Generations = budget.Generations
	}
	if g.Population <= 0 {
		g.Population = 20
	}
	if g.Generations <= 0 {
		g.Generations = 10
	}
	if g.EliteFraction <= 0 || g.EliteFraction > 1 {
		g.EliteFraction = 0.25
	}
	if g.TournamentSize <= 0 {
		g.TournamentSize = 3
	}
	if g.CrossoverRate <= 0 || g.CrossoverRate > 1 {
		g.CrossoverRate = 0.5
	}
	if g.MutationRate < 0 || g.MutationRate > 1 {
		g.MutationRate = 0.1
	}
	return g
}

func (g GeneticSearch) Search(ctx context.Context, prob Problem, budget Budget) (SearchState, error) {
	state := NewSearchState()
	if len(prob.Domains) == 0 {
		return state, fmt.Errorf("参数域不能为空")
	}
	g = g.withDefaults(budget)
	rng := rand.New(rand.NewSource(g.Seed))

	population := make([]strategy.Parameters, g.Population)
	for i := range population {
		population[i] = randomParameters(rng, prob.Domains)
	}
	elites := int(math.Round(float64(g.Population) * g.EliteFraction))
	elites = max(1, min(elites, g.Population))

	for gen := 0; gen < g.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		trials, err := prob.Eval.Evaluate(ctx, population)
		for i := range trials {
			trials[i].Generation = gen
		}
		state.Record(trials...)
		if err != nil {
			return state, err
		}
		stat := generationStat(gen, trials, state.BestScore)
		state.Generations = append(state.Generations, stat)
		logger.Debugf("[optimizer] genetic 第 %d 代 best=%.4f mean=%.4f best_ever=%.4f failed=%d",
			gen, stat.Best, stat.Mean, stat.BestEver, stat.Failed)
		if gen == g.Generations-1 {
			break
		}
		population = g.breed(rng, prob.Domains, trials, elites)
	}
	return state, nil
}

// breed 生成下一代：前 elites 名原样保留，其余由锦标赛选出的父代交叉变异得到。
func (g GeneticSearch) breed(rng *rand.Rand, domains []strategy.Domain, trials []Trial, elites int) []strategy.Parameters {
	ranked := make([]int, len(trials))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return trials[ranked[a]].Score > trials[ranked[b]].Score })

	next := make([]strategy.Parameters, 0, g.Population)
	for _, idx := range ranked[:min(elites, len(ranked))] {
		next = append(next, trials[idx].Parameters.Clone())
	}
	for len(next) < g.Population {
		a := g.tournament(rng, trials)
		b := g.tournament(rng, trials)
		next = append(next, g.mutate(rng, domains, g.crossover(rng, domains, a, b)))
	}
	return next
}

func (g GeneticSearch) tournament(rng *rand.Rand, trials []Trial) strategy.Parameters {
	best := rng.Intn(len(trials))
	for k := 1; k < g.TournamentSize; k++ {
		c := rng.Intn(len(trials))
		if trials[c].Score > trials[best].Score {
			best = c
		}
	}
	return trials[best].Parameters
}

func (g GeneticSearch) crossover(rng *rand.Rand, domains []strategy.Domain, a, b strategy.Parameters) strategy.Parameters {
	child := make(strategy.Parameters, len(domains))
	for _, d := range domains {
		if rng.Float64() < g.CrossoverRate {
			child[d.Name] = b[d.Name]
		} else {
			child[d.Name] = a[d.Name]
		}
	}
	return child
}

func (g GeneticSearch) mutate(rng *rand.Rand, domains []strategy.Domain, p strategy.Parameters) strategy.Parameters {
	for _, d := range domains {
		if rng.Float64() < g.MutationRate {
			p[d.Name] = d.Random(rng)
		}
	}
	return p
}

func randomParameters(rng *rand.Rand, domains []strategy.Domain) strategy.Parameters {
	out := make(strategy.Parameters, len(domains))
	for _, d := range domains {
		out[d.Name] = d.Random(rng)
	}
	return out
}

func generationStat(gen int, trials []Trial, bestEver float64) GenerationStat {
	stat := GenerationStat{Generation: gen, Best: WorstScore, BestEver: bestEver}
	var sum float64
	var n int
	for _, t := range trials {
		if t.Failed() || !finite(t.Score) {
			stat.Failed++
			continue
		}
		stat.Best = math.Max(stat.Best, t.Score)
		sum += t.Score
		n++
	}
	if n > 0 {
		stat.Mean = sum / float64(n)
	}
	return stat
}
