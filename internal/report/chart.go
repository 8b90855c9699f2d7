package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/optimizer"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorBest          = "#fbbf24"
	colorTrial         = "#a78bfa"

	chartWidthPx     = 1600
	equityHeightPx   = 560
	drawdownHeightPx = 260
	scoreHeightPx    = 480
)

// EquityChart 渲染资金曲线（含开平仓标记）与回撤曲线的 HTML 页面。
func EquityChart(res backtest.Result) ([]byte, error) {
	if len(res.EquityCurve) == 0 {
		return nil, fmt.Errorf("回测 %s 没有资金曲线", res.ID)
	}
	xAxis := timeAxis(res.EquityTimes, len(res.EquityCurve))

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s %s", res.Strategy, strings.ToUpper(res.Symbol), res.Timeframe),
			Subtitle: fmt.Sprintf("收益 %.2f%% | 夏普 %.2f | 最大回撤 %.2f%% | 交易 %d 笔",
				res.Metrics.TotalReturnPct, res.Metrics.SharpeRatio, res.Metrics.MaxDrawdown*100, res.Metrics.TotalTrades),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(yAxis(true)),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("资金", toLineData(res.EquityCurve),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))

	entries, exits := tradeMarkers(res)
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("开仓", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	scatter.AddSeries("平仓", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	line.Overlap(scatter)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(line, drawdownChart(xAxis, res.EquityCurve))
	return renderPage(page)
}

func drawdownChart(xAxis []string, equity []float64) *charts.Line {
	dd := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, v := range equity {
		peak = math.Max(peak, v)
		if peak > 0 {
			dd[i] = -(peak - v) / peak * 100
		}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(drawdownHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "回撤 (%)", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(yAxis(false)),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("回撤", toLineData(dd),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorBear, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorBear, Opacity: opts.Float(0.25)}))
	return line
}

// tradeMarkers 按 K 线开盘时间把成交定位到资金曲线上，没有成交的位置留空。
func tradeMarkers(res backtest.Result) (entries, exits []opts.ScatterData) {
	n := len(res.EquityCurve)
	entries = make([]opts.ScatterData, n)
	exits = make([]opts.ScatterData, n)
	for i := range entries {
		entries[i] = opts.ScatterData{Value: nil}
		exits[i] = opts.ScatterData{Value: nil}
	}
	index := make(map[int64]int, len(res.EquityTimes))
	for i, ts := range res.EquityTimes {
		index[ts] = i
	}
	for _, t := range res.Trades {
		if i, ok := index[t.EntryTime.UnixMilli()]; ok && i < n {
			entries[i] = opts.ScatterData{Value: round(res.EquityCurve[i], 2), SymbolSize: 10}
		}
		if i, ok := index[t.ExitTime.UnixMilli()]; ok && i < n {
			exits[i] = opts.ScatterData{Value: round(res.EquityCurve[i], 2), SymbolSize: 10}
		}
	}
	return entries, exits
}

// ConvergenceChart 渲染优化过程：每次试验得分与历史最优；遗传算法额外给出每代统计。
func ConvergenceChart(res optimizer.OptimizationResult) ([]byte, error) {
	if len(res.Trials) == 0 {
		return nil, fmt.Errorf("优化 %s 没有试验记录", res.ID)
	}
	xAxis := make([]string, len(res.Trials))
	scores := make([]opts.LineData, len(res.Trials))
	best := make([]opts.LineData, len(res.Trials))
	running := math.Inf(-1)
	for i, t := range res.Trials {
		xAxis[i] = fmt.Sprintf("%d", i+1)
		if t.Failed() || math.IsInf(t.Score, 0) || math.IsNaN(t.Score) {
			scores[i] = opts.LineData{Value: nil}
		} else {
			scores[i] = opts.LineData{Value: round(res.Objective.Value(t.Score), 4)}
			running = math.Max(running, t.Score)
		}
		if math.IsInf(running, 0) {
			best[i] = opts.LineData{Value: nil}
		} else {
			best[i] = opts.LineData{Value: round(res.Objective.Value(running), 4)}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(scoreHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s 优化 (%s)", res.Strategy, strings.ToUpper(res.Symbol), res.Method),
			Subtitle:      fmt.Sprintf("目标 %s | 试验 %d | 状态 %s", res.Objective, len(res.Trials), res.Status),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(yAxis(true)),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("得分", scores,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorTrial, Width: 1, Opacity: opts.Float(0.6)}))
	line.AddSeries("历史最优", best,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorBest, Width: 2}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(line)
	if len(res.Generations) > 0 {
		page.AddCharts(generationChart(res))
	}
	return renderPage(page)
}

func generationChart(res optimizer.OptimizationResult) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(drawdownHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "每代统计", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(yAxis(true)),
	)
	xAxis := make([]string, len(res.Generations))
	bestData := make([]opts.BarData, len(res.Generations))
	meanData := make([]opts.BarData, len(res.Generations))
	for i, g := range res.Generations {
		xAxis[i] = fmt.Sprintf("G%d", g.Generation)
		bestData[i] = barValue(res.Objective.Value(g.Best))
		meanData[i] = barValue(res.Objective.Value(g.Mean))
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("最优", bestData, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBest}))
	bar.AddSeries("平均", meanData, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorTrial}))
	return bar
}

func barValue(v float64) opts.BarData {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return opts.BarData{Value: nil}
	}
	return opts.BarData{Value: round(v, 4)}
}

func renderPage(page *components.Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func yAxis(scale bool) opts.YAxis {
	return opts.YAxis{
		Scale:     opts.Bool(scale),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
}

func timeAxis(times []int64, n int) []string {
	x := make([]string, n)
	for i := range x {
		if i < len(times) {
			x[i] = time.UnixMilli(times[i]).UTC().Format("01-02 15:04")
		} else {
			x[i] = fmt.Sprintf("%d", i)
		}
	}
	return x
}

func toLineData(series []float64) []opts.LineData {
	line := make([]opts.LineData, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			line[i] = opts.LineData{Value: nil}
			continue
		}
		line[i] = opts.LineData{Value: round(v, 4)}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
