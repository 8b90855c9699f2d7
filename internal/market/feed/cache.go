package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quantdesk/internal/market"
	symbolpkg "quantdesk/internal/pkg/symbol"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	bars []market.Bar
	err  error
}

// SessionCache 在一次搜索会话内缓存行情，并发请求同一区间只回源一次。
// 缓存内容填充后只读，可在并行评估间共享。
type SessionCache struct {
	src   market.Source
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

func NewSessionCache(src market.Source) *SessionCache {
	return &SessionCache{src: src, entries: make(map[string]cacheEntry)}
}

func cacheKey(symbol, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", symbolpkg.Canonical(symbol), strings.ToLower(strings.TrimSpace(timeframe)), start.UnixMilli(), end.UnixMilli())
}

func (c *SessionCache) PriceSeries(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	key := cacheKey(symbol, timeframe, start, end)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return entry.bars, entry.err
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return entry.bars, entry.err
		}
		c.misses.Add(1)
		bars, err := c.src.PriceSeries(ctx, symbol, timeframe, start, end)
		// 行情不可用在会话内视为确定结果一并缓存；其他错误（如取消）不缓存。
		if err == nil || errors.Is(err, market.ErrDataUnavailable) {
			c.mu.Lock()
			c.entries[key] = cacheEntry{bars: bars, err: err}
			c.mu.Unlock()
		}
		return bars, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.Bar), nil
}

// Stats 返回命中/回源次数。
func (c *SessionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
