package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/market/store"
	"quantdesk/internal/pkg/circuit"
	symbolpkg "quantdesk/internal/pkg/symbol"

	"golang.org/x/time/rate"
)

// Config 配置 Feed。Fetcher 为空时只读本地缓存。
type Config struct {
	Store           *store.Store
	Fetcher         market.Fetcher
	RateLimitPerMin int
	MaxBatch        int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	Breaker         *circuit.CircuitBreaker
}

// Feed 以本地 sqlite 为准，缺口按页向交易所补齐后再读出。
type Feed struct {
	store      *store.Store
	fetcher    market.Fetcher
	maxBatch   int
	retries    int
	retryDelay time.Duration
	limiter    *rate.Limiter
	breaker    *circuit.CircuitBreaker
	now        func() time.Time
}

func New(cfg Config) (*Feed, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuit.NewCircuitBreaker("market-feed", 5, 30*time.Second)
	}
	return &Feed{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		maxBatch:   maxBatch,
		retries:    cfg.RetryAttempts,
		retryDelay: delay,
		limiter:    rate.NewLimiter(ratePerSec, 1),
		breaker:    breaker,
		now:        time.Now,
	}, nil
}

// PriceSeries 返回 [start, end) 内的 K 线。
func (f *Feed) PriceSeries(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	sym := symbolpkg.Canonical(symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if !end.After(start) {
		return nil, market.Unavailable(sym, tf.Key, "区间为空", nil)
	}
	from, to := tf.AlignRange(start.UnixMilli(), end.UnixMilli()-1)
	if from < start.UnixMilli() {
		from += tf.Millis()
	}
	if to < from {
		return nil, market.Unavailable(sym, tf.Key, "区间内没有完整周期", nil)
	}

	var fillErr error
	if f.fetcher != nil {
		fillErr = f.fill(ctx, sym, tf, from, to)
		if fillErr != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	bars, err := f.store.RangeBars(ctx, sym, tf.Key, from, to)
	if err != nil {
		return nil, market.Unavailable(sym, tf.Key, "读取本地缓存失败", err)
	}
	if len(bars) == 0 {
		return nil, market.Unavailable(sym, tf.Key, "无可用 K 线", fillErr)
	}
	if fillErr != nil {
		logger.Warnf("[feed] %s@%s 补数失败，使用本地已有 %d 根: %v", sym, tf.Key, len(bars), fillErr)
	}
	return bars, nil
}

func (f *Feed) fill(ctx context.Context, sym string, tf market.Timeframe, from, to int64) error {
	report, err := f.store.CheckIntegrity(ctx, sym, tf.Key, tf, from, to)
	if err != nil {
		return err
	}
	if report.Complete() {
		return nil
	}
	logger.Infof("[feed] %s@%s [%d,%d] 预计=%d 已有=%d 缺口=%d，开始补数",
		sym, tf.Key, from, to, report.Expected, report.Present, len(report.Gaps))
	step := tf.Millis()
	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > f.maxBatch {
				remaining = f.maxBatch
			}
			page, err := f.fetchPage(ctx, market.FetchRequest{
				Symbol:   sym,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To + step - 1,
				Limit:    remaining,
			})
			if err != nil {
				return fmt.Errorf("%s 拉取失败: %w", f.fetcher.Name(), err)
			}
			page = dropUnclosed(page, f.now())
			if len(page) == 0 {
				break
			}
			if _, err := f.store.InsertBars(ctx, sym, tf.Key, page); err != nil {
				return fmt.Errorf("写入失败: %w", err)
			}
			next := page[len(page)-1].OpenTime + step
			if next <= cursor {
				break
			}
			cursor = next
		}
	}
	return nil
}

// fetchPage 在限速与熔断保护下拉取一页，失败按指数退避重试。
func (f *Feed) fetchPage(ctx context.Context, req market.FetchRequest) ([]market.Bar, error) {
	delay := f.retryDelay
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var page []market.Bar
		err := f.breaker.Do(func() error {
			var ferr error
			page, ferr = f.fetcher.Fetch(ctx, req)
			return ferr
		})
		if err == nil {
			return page, nil
		}
		if errors.Is(err, circuit.ErrOpen) || attempt >= f.retries || ctx.Err() != nil {
			return nil, err
		}
		logger.Warnf("[feed] %s 第 %d 次拉取失败，%s 后重试: %v", req.Symbol, attempt+1, delay, err)
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// dropUnclosed 去掉尚未收盘的最后一根，避免缓存半成品 K 线。
func dropUnclosed(bars []market.Bar, now time.Time) []market.Bar {
	cutoff := now.UnixMilli()
	for len(bars) > 0 && bars[len(bars)-1].CloseTime >= cutoff {
		bars = bars[:len(bars)-1]
	}
	return bars
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
