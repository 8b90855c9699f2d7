package market

import (
	"context"
	"time"
)

// Source 是回测核心依赖的行情协作方：返回按时间升序的 K 线。
// 区间为 [start, end)，空结果必须以 DataUnavailableError 报告。
type Source interface {
	PriceSeries(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error)
}

// SourceFunc 让普通函数满足 Source。
type SourceFunc func(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error)

func (f SourceFunc) PriceSeries(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Bar, error) {
	return f(ctx, symbol, timeframe, start, end)
}

// FetchRequest 描述一次远端 K 线分页请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int
}

// Fetcher 统一不同交易所的分页拉取行为。
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Bar, error)
	Name() string
}
