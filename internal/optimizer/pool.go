package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quantdesk/internal/backtest"
	"quantdesk/internal/logger"
	"quantdesk/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// RunFunc 对一组参数执行一次完整回测，返回指标。
type RunFunc func(ctx context.Context, params strategy.Parameters) (backtest.Metrics, error)

// RejectedError 表示会话域内的参数被注册表拒绝（目录热加载收窄了域，或未通过 schema）。
// 不属于配置错误，只记该试验失败。
type RejectedError struct {
	Key    string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("参数 %s 被拒绝: %s", e.Key, e.Reason)
}

// Pool 在 errgroup 上并行评估参数，并按参数键做会话内记忆。
type Pool struct {
	run       RunFunc
	objective Objective
	workers   int

	mu   sync.Mutex
	memo map[string]Trial
	hits int
}

func NewPool(run RunFunc, objective Objective, workers int) (*Pool, error) {
	if run == nil {
		return nil, fmt.Errorf("run func 不能为空")
	}
	if workers <= 0 {
		workers = 1
	}
	return &Pool{run: run, objective: objective, workers: workers, memo: make(map[string]Trial)}, nil
}

// Evaluate 评估一批参数。配置错误或 ctx 取消时中止整批，
// 返回已完成的试验（保持输入顺序）与错误；其余错误记为 WorstScore。
func (p *Pool) Evaluate(ctx context.Context, batch []strategy.Parameters) ([]Trial, error) {
	results := make([]*Trial, len(batch))
	owner := make(map[string]int, len(batch))
	var dups []int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, params := range batch {
		i, params := i, params
		key := params.Key()
		if t, ok := p.lookup(key); ok {
			t.Cached = true
			results[i] = &t
			continue
		}
		if _, seen := owner[key]; seen {
			dups = append(dups, i)
			continue
		}
		owner[key] = i
		g.Go(func() error {
			// 只在两次回测之间检查取消，回测本身不会被打断
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := p.evaluate(gctx, params)
			if err != nil {
				return err
			}
			p.store(key, t)
			results[i] = &t
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		for _, i := range dups {
			t, _ := p.lookup(batch[i].Key())
			t.Cached = true
			results[i] = &t
		}
	}
	out := make([]Trial, 0, len(batch))
	for _, t := range results {
		if t != nil {
			out = append(out, *t)
		}
	}
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}
	}
	return out, err
}

func (p *Pool) evaluate(ctx context.Context, params strategy.Parameters) (Trial, error) {
	t := Trial{Parameters: params.Clone()}
	m, err := p.run(ctx, params)
	switch {
	case err == nil:
		t.Score = p.objective.Score(m)
		t.Metrics = &m
	case strategy.IsConfigError(err):
		return t, err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return t, err
	default:
		logger.Warnf("[optimizer] 参数 %s 评估失败: %v", params.Key(), err)
		t.Score = WorstScore
		t.Err = err.Error()
	}
	return t, nil
}

func (p *Pool) lookup(key string) (Trial, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.memo[key]
	if ok {
		p.hits++
		t.Parameters = t.Parameters.Clone()
	}
	return t, ok
}

func (p *Pool) store(key string, t Trial) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memo[key] = t
}

// Stats 返回已评估的唯一参数数量与命中记忆的次数。
func (p *Pool) Stats() (evaluated, hits int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.memo), p.hits
}
