package apihttp

import (
	"context"
	"time"

	"quantdesk/internal/logger"
	"quantdesk/internal/notifier"
)

const notifyTimeout = 20 * time.Second

// announce 推送任务结束摘要；服务退出时仍尽力发出，但不超过 notifyTimeout。
func (t *jobTracker) announce(parent context.Context, job Job) {
	if t.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), notifyTimeout)
	defer cancel()
	if err := t.notify.SendText(ctx, jobMessage(job).Markdown()); err != nil {
		logger.Warnf("[http] 优化任务 %s 推送失败: %v", job.ID, err)
	}
}

func jobMessage(job Job) notifier.Message {
	req := job.Request
	msg := notifier.Message{
		Icon:   "✅",
		Title:  "参数优化完成",
		Footer: "job=" + job.ID,
	}
	if job.FinishedAt != nil {
		msg.Timestamp = *job.FinishedAt
	}
	if job.Status == JobFailed {
		msg.Icon = "❌"
		msg.Title = "参数优化失败"
	}

	task := notifier.Section{Title: "任务"}
	task.Add("策略", "%s", req.Strategy)
	task.Add("标的", "%s %s", req.Symbol, req.Timeframe)
	task.Add("区间", "%s ~ %s", req.Range.Start.Format("2006-01-02"), req.Range.End.Format("2006-01-02"))
	msg.Sections = append(msg.Sections, task)

	res := job.Result
	if res == nil {
		if job.Error != "" {
			msg.Sections = append(msg.Sections, notifier.Section{Title: "错误", Lines: []string{job.Error}})
		}
		return msg
	}
	run := notifier.Section{Title: "结果"}
	run.Add("方法", "%s / %s", res.Method, res.Objective)
	run.Add("状态", "%s", res.Status)
	run.Add("试验", "%d (缓存命中 %d)", res.Evaluated, res.CacheHits)
	run.Add("耗时", "%s", res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		run.Add("错误", "%s", res.Error)
	}
	msg.Sections = append(msg.Sections, run)

	if len(res.BestParameters) > 0 {
		best := notifier.Section{Title: "最优参数"}
		for _, name := range res.BestParameters.Names() {
			best.Add(name, "%v", res.BestParameters[name])
		}
		if m := res.BestMetrics; m != nil {
			best.Add("收益率", "%.2f%%", m.TotalReturnPct)
			best.Add("夏普", "%.3f", m.SharpeRatio)
			best.Add("最大回撤", "%.2f%%", m.MaxDrawdown*100)
			best.Add("交易数", "%d", m.TotalTrades)
		}
		msg.Sections = append(msg.Sections, best)
	}
	msg.Footer += " result=" + res.ID
	return msg
}
