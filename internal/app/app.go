package app

import (
	"context"
	"fmt"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/logger"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/store/gormstore"
	apihttp "quantdesk/internal/transport/http/api"
	"quantdesk/internal/walkforward"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与异步落库。
type App struct {
	cfg       *config.Config
	market    *MarketStack
	results   *gormstore.Store
	sink      *backtest.AsyncSink
	runner    *backtest.Runner
	optimizer *optimizer.Optimizer
	analyzer  *walkforward.Analyzer
	http      *apihttp.Server
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与结果落库 worker，ctx 取消后两者退出并释放资源。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.sink != nil {
		group.Go(func() error {
			return a.sink.Run(ctx)
		})
	}
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	err := group.Wait()
	if a.sink != nil {
		stats := a.sink.Stats()
		logger.Infof("[app] 退出，回测落库 stored=%d dropped=%d failed=%d", stats.Stored, stats.Dropped, stats.Failed)
	}
	return err
}

// Close 释放行情缓存与结果库连接。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.market != nil {
		a.market.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
}

// Runner 暴露回测执行器（命令行工具与测试使用）。
func (a *App) Runner() *backtest.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

func (a *App) Optimizer() *optimizer.Optimizer {
	if a == nil {
		return nil
	}
	return a.optimizer
}

func (a *App) Analyzer() *walkforward.Analyzer {
	if a == nil {
		return nil
	}
	return a.analyzer
}

func (a *App) HTTP() *apihttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
