package app

import (
	"fmt"
	"strings"

	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/market/binance"
	"quantdesk/internal/market/feed"
	"quantdesk/internal/market/store"
	"quantdesk/internal/pkg/circuit"
)

const futuresRESTBase = "https://fapi.binance.com"

// MarketStack 是本地 K 线缓存 + 远端补齐组成的行情源。
type MarketStack struct {
	Store   *store.Store
	Fetcher market.Fetcher
	Feed    *feed.Feed
	Breaker *circuit.CircuitBreaker
}

func (m *MarketStack) Close() {
	if m == nil || m.Store == nil {
		return
	}
	if err := m.Store.Close(); err != nil {
		logger.Warnf("[app] 关闭 K 线缓存失败: %v", err)
	}
}

func buildMarketStack(cfg config.MarketConfig) (*MarketStack, error) {
	bars, err := store.New(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线缓存失败: %w", err)
	}
	var fetcher market.Fetcher
	if !cfg.Offline {
		fetcher = newFetcher(cfg)
	}
	breaker := circuit.NewCircuitBreaker("market-"+cfg.Provider, cfg.BreakerThreshold, cfg.BreakerTimeout())
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[feed] 熔断器 %s: %s -> %s", name, from, to)
	})
	f, err := feed.New(feed.Config{
		Store:           bars,
		Fetcher:         fetcher,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxBatch:        cfg.MaxBatch,
		RetryAttempts:   cfg.RetryAttempts,
		RetryBaseDelay:  cfg.RetryBaseDelay(),
		Breaker:         breaker,
	})
	if err != nil {
		_ = bars.Close()
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	if fetcher == nil {
		logger.Infof("✓ 行情源: 离线模式，仅读取 %s", cfg.DataRoot)
	} else {
		logger.Infof("✓ 行情源: %s，缓存目录 %s", fetcher.Name(), cfg.DataRoot)
	}
	return &MarketStack{Store: bars, Fetcher: fetcher, Feed: f, Breaker: breaker}, nil
}

// newFetcher 现货只能走 SDK；合约按 market.client 选择 REST 或 SDK。
func newFetcher(cfg config.MarketConfig) market.Fetcher {
	spot := cfg.Provider == config.ProviderBinanceSpot
	base := strings.TrimSpace(cfg.RESTBase)
	if spot && strings.TrimRight(base, "/") == futuresRESTBase {
		base = ""
	}
	bcfg := binance.Config{RESTBaseURL: base, HTTPTimeout: cfg.HTTPTimeout(), Spot: spot}
	if spot || cfg.Client == config.ClientSDK {
		return binance.NewSDKFetcher(bcfg)
	}
	return binance.NewRESTFetcher(bcfg)
}
