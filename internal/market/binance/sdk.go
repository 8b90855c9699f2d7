package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"quantdesk/internal/market"
	symbolpkg "quantdesk/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// SDKFetcher 基于 go-binance SDK 拉取现货或 U 本位合约 K 线。
type SDKFetcher struct {
	cfg     Config
	spot    *gobinance.Client
	futures *futures.Client
}

func NewSDKFetcher(cfg Config) *SDKFetcher {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	f := &SDKFetcher{cfg: final}
	if final.Spot {
		f.spot = gobinance.NewClient("", "")
		f.spot.BaseURL = final.RESTBaseURL
		f.spot.HTTPClient = httpClient
		return f
	}
	f.futures = futures.NewClient("", "")
	f.futures.BaseURL = final.RESTBaseURL
	f.futures.HTTPClient = httpClient
	return f
}

func (s *SDKFetcher) Name() string {
	if s.cfg.Spot {
		return "binance_spot"
	}
	return "binance_futures"
}

func (s *SDKFetcher) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Bar, error) {
	symbol := strings.TrimSpace(req.Symbol)
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	// Binance 要求无斜杠的 symbol（如 ETHUSDT）
	clean := symbolpkg.Binance.ToExchange(symbol)
	limit := clampLimit(req.Limit)
	if s.spot != nil {
		svc := s.spot.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit)
		if req.Start > 0 {
			svc = svc.StartTime(req.Start)
		}
		if req.End > 0 {
			svc = svc.EndTime(req.End)
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]market.Bar, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, toBar(kl.OpenTime, kl.CloseTime, kl.TradeNum, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume))
		}
		return out, nil
	}
	svc := s.futures.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, toBar(kl.OpenTime, kl.CloseTime, kl.TradeNum, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume))
	}
	return out, nil
}

func toBar(openTime, closeTime, trades int64, open, high, low, closePx, volume string) market.Bar {
	return market.Bar{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      parseFloat(open),
		High:      parseFloat(high),
		Low:       parseFloat(low),
		Close:     parseFloat(closePx),
		Volume:    parseFloat(volume),
		Trades:    trades,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
