package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测本机 Chrome，结果只探测一次；探测不受调用方 ctx 取消影响。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		launchCtx, cancelLaunch := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancelLaunch()
		parent, cancel := chromedp.NewContext(launchCtx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	if headlessErr != nil {
		return fmt.Errorf("headless chrome 不可用: %w", headlessErr)
	}
	return nil
}

// Snapshot 用 headless chrome 把图表页面截成 PNG。
func Snapshot(ctx context.Context, html []byte, width, height int, timeout time.Duration) ([]byte, error) {
	if len(html) == 0 {
		return nil, fmt.Errorf("页面内容为空")
	}
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	if width <= 0 {
		width = chartWidthPx
	}
	if height <= 0 {
		height = equityHeightPx + drawdownHeightPx
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, timeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var shot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&shot, 100),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return shot, nil
}
