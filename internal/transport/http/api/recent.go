package apihttp

import (
	"strings"
	"sync"
	"time"

	"quantdesk/internal/backtest"
)

// recentResults 缓存刚跑完的回测。结果经异步 sink 落库，落库前详情查询从这里命中。
type recentResults struct {
	mu   sync.RWMutex
	data map[string]recentEntry
	ttl  time.Duration
	now  func() time.Time
}

type recentEntry struct {
	res    backtest.Result
	stored time.Time
}

func newRecentResults(ttl time.Duration) *recentResults {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &recentResults{data: make(map[string]recentEntry), ttl: ttl, now: time.Now}
}

func (c *recentResults) Set(res backtest.Result) {
	if c == nil {
		return
	}
	id := strings.TrimSpace(res.ID)
	if id == "" {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = recentEntry{res: res, stored: now}
	for k, e := range c.data {
		if now.Sub(e.stored) > c.ttl {
			delete(c.data, k)
		}
	}
}

func (c *recentResults) Get(id string) (backtest.Result, bool) {
	if c == nil {
		return backtest.Result{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[strings.TrimSpace(id)]
	if !ok || c.now().Sub(e.stored) > c.ttl {
		return backtest.Result{}, false
	}
	return e.res, true
}
