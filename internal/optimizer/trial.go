package optimizer

import (
	"context"
	"encoding/json"

	"quantdesk/internal/backtest"
	"quantdesk/internal/strategy"
)

// Trial 是一次参数评估的记录。
type Trial struct {
	Index      int                 `json:"index"`
	Generation int                 `json:"generation"`
	Parameters strategy.Parameters `json:"parameters"`
	Score      float64             `json:"-"`
	Metrics    *backtest.Metrics   `json:"metrics,omitempty"`
	Err        string              `json:"error,omitempty"`
	Cached     bool                `json:"cached,omitempty"`
}

func (t Trial) Failed() bool { return t.Err != "" }

func (t Trial) MarshalJSON() ([]byte, error) {
	type alias Trial
	return json.Marshal(struct {
		alias
		Score *float64 `json:"score"`
	}{alias: alias(t), Score: jsonScore(t.Score)})
}

func (t *Trial) UnmarshalJSON(data []byte) error {
	type alias Trial
	aux := struct {
		*alias
		Score *float64 `json:"score"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Score = WorstScore
	if aux.Score != nil {
		t.Score = *aux.Score
	}
	return nil
}

// GenerationStat 遗传算法每一代的统计。
type GenerationStat struct {
	Generation int     `json:"generation"`
	Best       float64 `json:"best"`
	Mean       float64 `json:"mean"`
	BestEver   float64 `json:"best_ever"`
	Failed     int     `json:"failed"`
}

func (s GenerationStat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Generation int      `json:"generation"`
		Best       *float64 `json:"best"`
		Mean       float64  `json:"mean"`
		BestEver   *float64 `json:"best_ever"`
		Failed     int      `json:"failed"`
	}{s.Generation, jsonScore(s.Best), s.Mean, jsonScore(s.BestEver), s.Failed})
}

// SearchState 单个优化会话的搜索状态，不在会话之间共享。
type SearchState struct {
	BestParameters strategy.Parameters
	BestScore      float64
	BestMetrics    *backtest.Metrics
	History        []Trial
	Generations    []GenerationStat
	Combinations   int
	Truncated      bool
}

func NewSearchState() SearchState {
	return SearchState{BestScore: WorstScore}
}

// Record 追加试验并更新最优值；分数相同时保留先出现者。
func (s *SearchState) Record(trials ...Trial) {
	for _, t := range trials {
		t.Index = len(s.History)
		s.History = append(s.History, t)
		if t.Failed() || !finite(t.Score) {
			continue
		}
		if s.BestParameters == nil || t.Score > s.BestScore {
			s.BestParameters = t.Parameters.Clone()
			s.BestScore = t.Score
			s.BestMetrics = t.Metrics
		}
	}
}

// BestSoFar 返回每次试验之后的历史最优分数。
func (s SearchState) BestSoFar() []float64 {
	out := make([]float64, len(s.History))
	best := WorstScore
	for i, t := range s.History {
		if !t.Failed() && t.Score > best {
			best = t.Score
		}
		out[i] = best
	}
	return out
}

// BatchEvaluator 批量评估参数，结果顺序与输入一致。
type BatchEvaluator interface {
	Evaluate(ctx context.Context, batch []strategy.Parameters) ([]Trial, error)
}

// Problem 一次搜索的输入：已校验的参数域与评估器。
type Problem struct {
	Domains []strategy.Domain
	Eval    BatchEvaluator
}

// Budget 请求级预算覆盖，零值表示使用引擎配置。
type Budget struct {
	MaxTrials   int `json:"max_trials,omitempty"`
	Population  int `json:"population,omitempty"`
	Generations int `json:"generations,omitempty"`
}

// Engine 参数搜索引擎。
type Engine interface {
	Name() string
	Search(ctx context.Context, prob Problem, budget Budget) (SearchState, error)
}
