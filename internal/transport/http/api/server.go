package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/logger"
	"quantdesk/internal/notifier"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/store/gormstore"
	"quantdesk/internal/strategy"
	"quantdesk/internal/walkforward"

	"github.com/gin-gonic/gin"
)

// Results 是 HTTP 层需要的结果查询能力，由 gormstore.Store 实现。
type Results interface {
	ListBacktests(ctx context.Context, f gormstore.Filter) ([]gormstore.BacktestSummary, error)
	GetBacktest(ctx context.Context, id string) (backtest.Result, bool, error)
	ListOptimizations(ctx context.Context, f gormstore.Filter) ([]gormstore.OptimizationSummary, error)
	GetOptimization(ctx context.Context, id string) (optimizer.OptimizationResult, bool, error)
	GetWalkForward(ctx context.Context, id string) (walkforward.Report, bool, error)
}

// Config 描述 API Server 的依赖。
type Config struct {
	Addr      string
	Registry  *strategy.Registry
	Runner    *backtest.Runner
	Optimizer *optimizer.Optimizer
	Analyzer  *walkforward.Analyzer
	Results   Results
	// RecentTTL 控制刚跑完、尚未异步落库的回测在内存中保留多久。
	RecentTTL time.Duration
	// SnapshotTimeout 是 PNG 截图的超时。
	SnapshotTimeout time.Duration
	// Notifier 非空时，优化任务结束后推送摘要。
	Notifier notifier.TextNotifier
}

// Server 提供回测、优化、稳健性检验的 HTTP API。
type Server struct {
	addr            string
	router          *gin.Engine
	registry        *strategy.Registry
	runner          *backtest.Runner
	optimizer       *optimizer.Optimizer
	analyzer        *walkforward.Analyzer
	results         Results
	recent          *recentResults
	jobs            *jobTracker
	snapshotTimeout time.Duration
}

// NewServer 构建 API Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Registry == nil {
		cfg.Registry = cfg.Runner.Evaluator().Registry()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:            cfg.Addr,
		router:          router,
		registry:        cfg.Registry,
		runner:          cfg.Runner,
		optimizer:       cfg.Optimizer,
		analyzer:        cfg.Analyzer,
		results:         cfg.Results,
		recent:          newRecentResults(cfg.RecentTTL),
		jobs:            newJobTracker(cfg.Notifier),
		snapshotTimeout: cfg.SnapshotTimeout,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.GET("/strategies", s.handleStrategies)

	api.POST("/backtests", s.handleBacktestRun)
	api.GET("/backtests", s.handleBacktestList)
	api.GET("/backtests/:id", s.handleBacktestDetail)
	api.GET("/backtests/:id/chart", s.handleBacktestChart)
	api.GET("/backtests/:id/analysis", s.handleBacktestAnalysis)

	api.POST("/optimizations", s.handleOptimizeStart)
	api.GET("/optimizations", s.handleOptimizeList)
	api.GET("/optimizations/:id", s.handleOptimizeDetail)
	api.GET("/optimizations/:id/chart", s.handleOptimizeChart)

	api.POST("/walkforward", s.handleWalkForward)
	api.GET("/walkforward/:id", s.handleWalkForwardDetail)

	api.POST("/compare", s.handleCompare)
}

// Handler 暴露路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.registry.List()})
}

// requestLogger 记录每个请求的耗时与状态码。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("[http] %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。优化任务绑定到 ctx，退出前等待它们收尾。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.jobs.SetContext(ctx)
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] API 监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		s.jobs.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}
