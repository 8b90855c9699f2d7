package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"quantdesk/internal/market"
	symbolpkg "quantdesk/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// RESTFetcher 直接请求 USDT 合约 /fapi/v1/klines，用 gjson 解析行数组。
type RESTFetcher struct {
	baseURL string
	client  *http.Client
}

func NewRESTFetcher(cfg Config) *RESTFetcher {
	final := cfg.withDefaults()
	return &RESTFetcher{
		baseURL: final.RESTBaseURL,
		client:  &http.Client{Timeout: final.HTTPTimeout},
	}
}

func (b *RESTFetcher) Name() string { return "binance_rest" }

func (b *RESTFetcher) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Bar, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, fmt.Errorf("rest_base 非法: %w", err)
	}
	u.Path = "/fapi/v1/klines"
	q := u.Query()
	q.Set("symbol", symbolpkg.Binance.ToExchange(req.Symbol))
	q.Set("interval", req.Interval)
	q.Set("limit", strconv.Itoa(clampLimit(req.Limit)))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(body, "msg"); msg.Exists() {
			return nil, fmt.Errorf("binance 返回状态码 %d: %s", resp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("binance 返回状态码 %d", resp.StatusCode)
	}
	return parseKlineRows(body)
}

// parseKlineRows 解析 [[openTime,"open","high","low","close","volume",closeTime,...,trades,...],...]。
func parseKlineRows(body []byte) ([]market.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("binance 响应不是合法 JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("binance 响应不是数组: %s", root.Get("msg").String())
	}
	rows := root.Array()
	out := make([]market.Bar, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 7 {
			continue
		}
		bar := market.Bar{
			OpenTime:  cols[0].Int(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
			CloseTime: cols[6].Int(),
		}
		if len(cols) > 8 {
			bar.Trades = cols[8].Int()
		}
		out = append(out, bar)
	}
	return out, nil
}
