package store

import (
	"context"

	"quantdesk/internal/market"
)

// Gap 表示缺失 K 线的闭区间 [From, To]（open_time，毫秒）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 汇总区间内应有与实有的 K 线数量。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0
}

// CheckIntegrity 对齐区间后按周期网格扫描缺口。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf market.Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{Expected: tf.ExpectedBars(start, end)}
	times, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return report, err
	}
	step := tf.Millis()
	present := make(map[int64]struct{}, len(times))
	for _, ts := range times {
		present[ts] = struct{}{}
	}
	var open *Gap
	for ts := start; ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			report.Present++
			if open != nil {
				report.Gaps = append(report.Gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &Gap{From: ts, To: ts}
		} else {
			open.To = ts
		}
	}
	if open != nil {
		report.Gaps = append(report.Gaps, *open)
	}
	return report, nil
}
