package binance

import (
	"strings"
	"time"
)

const (
	defaultFuturesBase = "https://fapi.binance.com"
	defaultSpotBase    = "https://api.binance.com"
	maxKlineLimit      = 1500
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// Spot 为 true 时使用现货 K 线接口。
	Spot bool
}

func (c Config) withDefaults() Config {
	out := c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultFuturesBase
		if out.Spot {
			out.RESTBaseURL = defaultSpotBase
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	if limit > maxKlineLimit {
		return maxKlineLimit
	}
	return limit
}
