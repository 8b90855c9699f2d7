package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"quantdesk/internal/logger"
	"quantdesk/internal/strategy"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BayesianSearch 以 RBF 核高斯过程为代理模型、期望提升（EI）为采集函数的串行搜索。
// 参数编码到 [0,1]，categorical 用 one-hot。
type BayesianSearch struct {
	Trials        int
	StartupTrials int
	Candidates    int
	LengthScale   float64
	Noise         float64
	Xi            float64
	Seed          int64
}

func (BayesianSearch) Name() string { return "bayesian" }

func (b BayesianSearch) withDefaults(budget Budget) BayesianSearch {
	if budget.MaxTrials > 0 {
		b.Trials = budget.MaxTrials
	}
	if b.Trials <= 0 {
		b.Trials = 50
	}
	if b.StartupTrials <= 0 {
		b.StartupTrials = 10
	}
	b.StartupTrials = min(b.StartupTrials, b.Trials)
	if b.Candidates <= 0 {
		b.Candidates = 256
	}
	if b.LengthScale <= 0 {
		b.LengthScale = 0.2
	}
	if b.Noise <= 0 {
		b.Noise = 1e-6
	}
	if b.Xi < 0 {
		b.Xi = 0.01
	}
	return b
}

func (b BayesianSearch) Search(ctx context.Context, prob Problem, budget Budget) (SearchState, error) {
	state := NewSearchState()
	if len(prob.Domains) == 0 {
		return state, fmt.Errorf("参数域不能为空")
	}
	b = b.withDefaults(budget)
	rng := rand.New(rand.NewSource(b.Seed))
	space := newEncoding(prob.Domains)
	seen := make(map[string]struct{})

	for i := 0; i < b.Trials; i++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		var next strategy.Parameters
		if i >= b.StartupTrials {
			next = b.suggest(rng, space, state, seen)
		}
		if next == nil {
			next = b.unseenRandom(rng, prob.Domains, seen)
		}
		seen[next.Key()] = struct{}{}
		trials, err := prob.Eval.Evaluate(ctx, []strategy.Parameters{next})
		state.Record(trials...)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

func (b BayesianSearch) unseenRandom(rng *rand.Rand, domains []strategy.Domain, seen map[string]struct{}) strategy.Parameters {
	var p strategy.Parameters
	for attempt := 0; attempt < 32; attempt++ {
		p = randomParameters(rng, domains)
		if _, ok := seen[p.Key()]; !ok {
			return p
		}
	}
	return p
}

// suggest 拟合代理模型并返回 EI 最大的未评估候选；模型不可用时返回 nil。
func (b BayesianSearch) suggest(rng *rand.Rand, space encoding, state SearchState, seen map[string]struct{}) strategy.Parameters {
	xs, ys := observations(space, state.History)
	if len(xs) < 2 {
		return nil
	}
	gp, ok := fitGP(xs, ys, b.LengthScale, b.Noise)
	if !ok {
		logger.Warnf("[optimizer] bayesian 代理模型拟合失败，退化为随机采样")
		return nil
	}
	best := math.Inf(-1)
	for _, y := range gp.y {
		best = math.Max(best, y)
	}

	candidates := make([][]float64, 0, b.Candidates)
	for k := 0; k < b.Candidates/2; k++ {
		candidates = append(candidates, space.random(rng))
	}
	if state.BestParameters != nil {
		incumbent := space.encode(state.BestParameters)
		for len(candidates) < b.Candidates {
			candidates = append(candidates, space.perturb(rng, incumbent, 0.1))
		}
	}

	var chosen strategy.Parameters
	bestEI := math.Inf(-1)
	for _, x := range candidates {
		p := space.decode(x)
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		mu, sigma := gp.predict(x)
		ei := expectedImprovement(mu, sigma, best, b.Xi)
		if ei > bestEI {
			bestEI, chosen = ei, p
		}
	}
	return chosen
}

// observations 把历史试验编码成训练集，失败试验取当前最差成功分数再减一个标准差。
func observations(space encoding, history []Trial) ([][]float64, []float64) {
	var ok []float64
	for _, t := range history {
		if !t.Failed() && finite(t.Score) {
			ok = append(ok, t.Score)
		}
	}
	if len(ok) == 0 {
		return nil, nil
	}
	floor := ok[0]
	for _, v := range ok {
		floor = math.Min(floor, v)
	}
	if len(ok) > 1 {
		floor -= stat.StdDev(ok, nil)
	} else {
		floor -= 1
	}
	xs := make([][]float64, 0, len(history))
	ys := make([]float64, 0, len(history))
	for _, t := range history {
		if t.Cached {
			continue
		}
		y := t.Score
		if t.Failed() || !finite(y) {
			y = floor
		}
		xs = append(xs, space.encode(t.Parameters))
		ys = append(ys, y)
	}
	return xs, ys
}

func expectedImprovement(mu, sigma, best, xi float64) float64 {
	if sigma <= 0 {
		return math.Max(mu-best-xi, 0)
	}
	imp := mu - best - xi
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}

// gaussianProcess 对标准化后的目标值建模，y 保存标准化后的值。
type gaussianProcess struct {
	xs          [][]float64
	y           []float64
	alpha       *mat.VecDense
	chol        mat.Cholesky
	lengthScale float64
}

func fitGP(xs [][]float64, ys []float64, lengthScale, noise float64) (*gaussianProcess, bool) {
	n := len(xs)
	mean, std := stat.MeanStdDev(ys, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	y := make([]float64, n)
	for i, v := range ys {
		y[i] = (v - mean) / std
	}
	gp := &gaussianProcess{xs: xs, y: y, lengthScale: lengthScale}
	jitter := noise
	for attempt := 0; attempt < 5; attempt++ {
		k := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := rbf(xs[i], xs[j], lengthScale)
				if i == j {
					v += jitter
				}
				k.SetSym(i, j, v)
			}
		}
		if gp.chol.Factorize(k) {
			var alpha mat.VecDense
			if err := gp.chol.SolveVecTo(&alpha, mat.NewVecDense(n, y)); err != nil {
				return nil, false
			}
			gp.alpha = &alpha
			return gp, true
		}
		jitter *= 10
	}
	return nil, false
}

func (gp *gaussianProcess) predict(x []float64) (mu, sigma float64) {
	n := len(gp.xs)
	kstar := mat.NewVecDense(n, nil)
	for i, xi := range gp.xs {
		kstar.SetVec(i, rbf(x, xi, gp.lengthScale))
	}
	mu = mat.Dot(kstar, gp.alpha)
	var v mat.VecDense
	if err := gp.chol.SolveVecTo(&v, kstar); err != nil {
		return mu, 0
	}
	variance := 1 - mat.Dot(kstar, &v)
	return mu, math.Sqrt(math.Max(variance, 1e-12))
}

func rbf(a, b []float64, lengthScale float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math.Exp(-d2 / (2 * lengthScale * lengthScale))
}

// encoding 参数空间与 [0,1]^d 之间的映射。
type encoding struct {
	domains []strategy.Domain
	offsets []int
	width   int
}

func newEncoding(domains []strategy.Domain) encoding {
	e := encoding{domains: domains, offsets: make([]int, len(domains))}
	for i, d := range domains {
		e.offsets[i] = e.width
		if d.Kind == strategy.KindCategorical {
			e.width += len(d.Choices)
		} else {
			e.width++
		}
	}
	return e
}

func (e encoding) encode(p strategy.Parameters) []float64 {
	x := make([]float64, e.width)
	for i, d := range e.domains {
		off := e.offsets[i]
		if d.Kind == strategy.KindCategorical {
			v, _ := p.Value(d.Name)
			for k, c := range d.Choices {
				if d.Contains(v) && fmt.Sprint(c) == fmt.Sprint(v) {
					x[off+k] = 1
					break
				}
			}
			continue
		}
		if d.Max > d.Min {
			x[off] = (p.Float(d.Name) - d.Min) / (d.Max - d.Min)
		}
	}
	return x
}

func (e encoding) decode(x []float64) strategy.Parameters {
	out := make(strategy.Parameters, len(e.domains))
	for i, d := range e.domains {
		off := e.offsets[i]
		if d.Kind == strategy.KindCategorical {
			best := 0
			for k := range d.Choices {
				if x[off+k] > x[off+best] {
					best = k
				}
			}
			out[d.Name] = d.Choices[best]
			continue
		}
		raw := d.Min + clamp01(x[off])*(d.Max-d.Min)
		step := d.Step
		if d.Kind == strategy.KindInt && step <= 0 {
			step = 1
		}
		if step > 0 {
			// 对齐到网格，且不越过 max
			k := math.Min(math.Round((raw-d.Min)/step), math.Floor((d.Max-d.Min)/step+1e-9))
			raw = d.Min + k*step
		}
		v, err := d.Normalize(raw)
		if err != nil {
			v = d.Default
		}
		out[d.Name] = v
	}
	return out
}

func (e encoding) random(rng *rand.Rand) []float64 {
	x := make([]float64, e.width)
	for i, d := range e.domains {
		off := e.offsets[i]
		if d.Kind == strategy.KindCategorical {
			x[off+rng.Intn(len(d.Choices))] = 1
			continue
		}
		x[off] = rng.Float64()
	}
	return x
}

// perturb 在现有最优点附近做高斯扰动；categorical 以 sd 的概率换成随机选项。
func (e encoding) perturb(rng *rand.Rand, x []float64, sd float64) []float64 {
	out := append([]float64(nil), x...)
	for i, d := range e.domains {
		off := e.offsets[i]
		if d.Kind == strategy.KindCategorical {
			if rng.Float64() < sd {
				for k := range d.Choices {
					out[off+k] = 0
				}
				out[off+rng.Intn(len(d.Choices))] = 1
			}
			continue
		}
		out[off] = clamp01(out[off] + rng.NormFloat64()*sd)
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
