package backtest

import (
	"context"
	"sync/atomic"
	"time"

	"quantdesk/internal/logger"
)

// Sink 持久化回测结果。
type Sink interface {
	SaveBacktest(ctx context.Context, res Result) error
}

// Recorder 以 fire-and-forget 方式接收结果，调用方不等待落库。
type Recorder interface {
	Record(res Result)
}

// SinkStats 统计异步落库情况。
type SinkStats struct {
	Stored  int64 `json:"stored"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// AsyncSink 用带缓冲的 channel 把结果交给后台 worker 写入 Sink；缓冲已满时丢弃并告警。
type AsyncSink struct {
	sink  Sink
	queue chan Result

	stored  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewAsyncSink(sink Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &AsyncSink{sink: sink, queue: make(chan Result, buffer)}
}

// Record 非阻塞入队。
func (a *AsyncSink) Record(res Result) {
	if a == nil || a.sink == nil {
		return
	}
	select {
	case a.queue <- res:
	default:
		a.dropped.Add(1)
		logger.Warnf("[sink] 队列已满，丢弃回测结果 id=%s strategy=%s", res.ID, res.Strategy)
	}
}

// Run 持续消费队列直到 ctx 结束，退出前尽量写完已入队的结果。
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case res := <-a.queue:
			a.store(ctx, res)
		}
	}
}

func (a *AsyncSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case res := <-a.queue:
			a.store(ctx, res)
		default:
			return
		}
	}
}

func (a *AsyncSink) store(ctx context.Context, res Result) {
	if err := a.sink.SaveBacktest(ctx, res); err != nil {
		a.failed.Add(1)
		logger.Errorf("[sink] 保存回测结果失败 id=%s: %v", res.ID, err)
		return
	}
	a.stored.Add(1)
}

func (a *AsyncSink) Stats() SinkStats {
	return SinkStats{Stored: a.stored.Load(), Dropped: a.dropped.Load(), Failed: a.failed.Load()}
}
