package apihttp

import (
	"testing"
	"time"

	"quantdesk/internal/backtest"

	"github.com/stretchr/testify/assert"
)

func TestRecentResultsExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := newRecentResults(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Set(backtest.Result{ID: "a"})
	cache.Set(backtest.Result{ID: " "})
	_, ok := cache.Get(" a ")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("a")
	assert.False(t, ok)

	cache.Set(backtest.Result{ID: "b"})
	assert.Len(t, cache.data, 1, "过期条目在写入时清理")

	var nilCache *recentResults
	nilCache.Set(backtest.Result{ID: "x"})
	_, ok = nilCache.Get("x")
	assert.False(t, ok)
}
