package walkforward

import (
	"fmt"
	"time"

	"quantdesk/internal/backtest"
)

const day = 24 * time.Hour

// PlanWindows 从区间起点开始每次前移 step，生成所有满足 end ≤ rng.End 的窗口。
// 窗口数 = floor((D−W)/S)+1（D ≥ W 时），否则为 0。
func PlanWindows(rng backtest.DateRange, window, step time.Duration) ([]backtest.DateRange, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window 必须大于 0", backtest.ErrInvalidRequest)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step 必须大于 0", backtest.ErrInvalidRequest)
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	var out []backtest.DateRange
	for start := rng.Start; !start.Add(window).After(rng.End); start = start.Add(step) {
		out = append(out, backtest.DateRange{Start: start, End: start.Add(window)})
	}
	return out, nil
}

// Days 把天数转换为时长。
func Days(n int) time.Duration {
	return time.Duration(n) * day
}
