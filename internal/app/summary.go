package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"quantdesk/internal/strategy"
)

// StartupSummary 启动时打印的配置摘要。
type StartupSummary struct {
	Market     MarketSummary
	Optimizer  OptimizerSummary
	Strategies []strategy.Info
	Catalog    string
	ResultsDB  string
	HTTPAddr   string
	Notify     bool
}

type MarketSummary struct {
	Provider  string
	DataRoot  string
	Timeframe string
	Offline   bool
	RateLimit int
}

type OptimizerSummary struct {
	Method         string
	Objective      string
	Workers        int
	SessionTimeout string
}

// Print 输出到标准输出。
func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	if s == nil {
		return
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[行情 (MARKET DATA)]")
	mode := "在线补齐"
	if s.Market.Offline {
		mode = "仅本地缓存"
	}
	fmt.Fprintf(w, "  数据源: %s (%s)\n", s.Market.Provider, mode)
	fmt.Fprintf(w, "  缓存目录: %s\n", s.Market.DataRoot)
	fmt.Fprintf(w, "  默认周期: %s\n", s.Market.Timeframe)
	fmt.Fprintf(w, "  限速: %d 次/分钟\n", s.Market.RateLimit)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[优化器 (OPTIMIZER)]")
	fmt.Fprintf(w, "  默认方法: %s\n", s.Optimizer.Method)
	fmt.Fprintf(w, "  默认目标: %s\n", s.Optimizer.Objective)
	fmt.Fprintf(w, "  并发: %d\n", s.Optimizer.Workers)
	fmt.Fprintf(w, "  会话超时: %s\n", s.Optimizer.SessionTimeout)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略 (STRATEGIES)]")
	if s.Catalog != "" {
		fmt.Fprintf(w, "  目录: %s\n", s.Catalog)
	}
	if len(s.Strategies) == 0 {
		fmt.Fprintln(w, "  (无)")
	}
	for _, info := range s.Strategies {
		names := make([]string, 0, len(info.Parameters))
		for _, d := range info.Parameters {
			names = append(names, d.Name)
		}
		fmt.Fprintf(w, "  > %s: %s\n", info.ID, info.Description)
		fmt.Fprintf(w, "    参数: %s\n", formatList(names))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "[存储] %s\n", s.ResultsDB)
	fmt.Fprintf(w, "[HTTP] %s\n", s.HTTPAddr)
	if s.Notify {
		fmt.Fprintln(w, "[推送] Telegram")
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
