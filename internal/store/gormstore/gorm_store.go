package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/optimizer"
	storemodel "quantdesk/internal/store/model"
	"quantdesk/internal/walkforward"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type (
	backtestModel     = storemodel.BacktestRecord
	optimizationModel = storemodel.OptimizationRecord
	walkForwardModel  = storemodel.WalkForwardRecord
)

// Filter 列表查询条件。
type Filter struct {
	Strategy string
	Symbol   string
	Limit    int
	Offset   int
}

// BacktestSummary 回测列表项。
type BacktestSummary struct {
	ID             string             `json:"id"`
	Strategy       string             `json:"strategy_name"`
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	Range          backtest.DateRange `json:"date_range"`
	Parameters     map[string]any     `json:"parameters"`
	TotalTrades    int                `json:"total_trades"`
	TotalReturnPct float64            `json:"total_return_pct"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	WinRate        float64            `json:"win_rate"`
	CreatedAt      time.Time          `json:"created_at"`
}

// OptimizationSummary 优化会话列表项。
type OptimizationSummary struct {
	ID             string         `json:"id"`
	Strategy       string         `json:"strategy_name"`
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	Method         string         `json:"method"`
	Objective      string         `json:"objective"`
	Status         string         `json:"status"`
	Trials         int            `json:"trials"`
	BestScore      *float64       `json:"best_score"`
	BestParameters map[string]any `json:"best_parameters"`
	DurationMs     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Store 使用 Gorm + SQLite 持久化回测、优化与稳健性报告。
type Store struct {
	db *gorm.DB
}

var (
	_ backtest.Sink           = (*Store)(nil)
	_ optimizer.ResultStore   = (*Store)(nil)
	_ walkforward.ReportStore = (*Store)(nil)
)

// NewStore 打开（必要时创建）结果库并迁移表结构。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 结果库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&backtestModel{}, &optimizationModel{}, &walkForwardModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL 下允许少量并发读，写入由异步 sink 串行完成
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------- Backtest -------------------------

// SaveBacktest 写入回测结果；同一 ID 重复写入时覆盖。
func (s *Store) SaveBacktest(ctx context.Context, res backtest.Result) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(res.ID) == "" {
		return fmt.Errorf("result id 不能为空")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("序列化回测结果失败: %w", err)
	}
	m := backtestModel{
		ResultID:       res.ID,
		Strategy:       res.Strategy,
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		StartUnix:      res.Range.Start.UnixMilli(),
		EndUnix:        res.Range.End.UnixMilli(),
		InitialCapital: res.InitialCapital,
		TotalTrades:    res.Metrics.TotalTrades,
		TotalReturnPct: res.Metrics.TotalReturnPct,
		SharpeRatio:    res.Metrics.SharpeRatio,
		MaxDrawdown:    res.Metrics.MaxDrawdown,
		WinRate:        res.Metrics.WinRate,
		ParamsJSON:     datatypes.JSON(mustJSON(res.Parameters)),
		MetricsJSON:    datatypes.JSON(mustJSON(res.Metrics)),
		Payload:        datatypes.JSON(payload),
		CreatedAtUnix:  timeOrNow(res.CreatedAt).UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "result_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) ListBacktests(ctx context.Context, f Filter) ([]BacktestSummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var rows []backtestModel
	if err := s.filtered(ctx, &backtestModel{}, f).
		Omit("payload").
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]BacktestSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, BacktestSummary{
			ID:        r.ResultID,
			Strategy:  r.Strategy,
			Symbol:    r.Symbol,
			Timeframe: r.Timeframe,
			Range: backtest.DateRange{
				Start: millisToTime(r.StartUnix),
				End:   millisToTime(r.EndUnix),
			},
			Parameters:     decodeMap(r.ParamsJSON),
			TotalTrades:    r.TotalTrades,
			TotalReturnPct: r.TotalReturnPct,
			SharpeRatio:    r.SharpeRatio,
			MaxDrawdown:    r.MaxDrawdown,
			WinRate:        r.WinRate,
			CreatedAt:      millisToTime(r.CreatedAtUnix),
		})
	}
	return out, nil
}

func (s *Store) GetBacktest(ctx context.Context, id string) (backtest.Result, bool, error) {
	if s == nil || s.db == nil {
		return backtest.Result{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m backtestModel
	err := s.db.WithContext(ctx).Where("result_id = ?", strings.TrimSpace(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return backtest.Result{}, false, nil
	}
	if err != nil {
		return backtest.Result{}, false, err
	}
	var res backtest.Result
	if err := json.Unmarshal(m.Payload, &res); err != nil {
		return backtest.Result{}, false, fmt.Errorf("解析回测结果 %s 失败: %w", id, err)
	}
	return res, true, nil
}

// --------------------- Optimization -------------------------

func (s *Store) SaveOptimization(ctx context.Context, res optimizer.OptimizationResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("序列化优化结果失败: %w", err)
	}
	m := optimizationModel{
		RunID:          res.ID,
		Strategy:       res.Strategy,
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		Method:         res.Method,
		Objective:      string(res.Objective),
		Status:         res.Status,
		Trials:         len(res.Trials),
		BestScore:      finitePtr(res.BestScore),
		BestParamsJSON: datatypes.JSON(mustJSON(res.BestParameters)),
		Payload:        datatypes.JSON(payload),
		DurationMs:     res.Duration.Milliseconds(),
		CreatedAtUnix:  timeOrNow(res.CreatedAt).UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) ListOptimizations(ctx context.Context, f Filter) ([]OptimizationSummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var rows []optimizationModel
	if err := s.filtered(ctx, &optimizationModel{}, f).
		Omit("payload").
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]OptimizationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, OptimizationSummary{
			ID:             r.RunID,
			Strategy:       r.Strategy,
			Symbol:         r.Symbol,
			Timeframe:      r.Timeframe,
			Method:         r.Method,
			Objective:      r.Objective,
			Status:         r.Status,
			Trials:         r.Trials,
			BestScore:      r.BestScore,
			BestParameters: decodeMap(r.BestParamsJSON),
			DurationMs:     r.DurationMs,
			CreatedAt:      millisToTime(r.CreatedAtUnix),
		})
	}
	return out, nil
}

func (s *Store) GetOptimization(ctx context.Context, id string) (optimizer.OptimizationResult, bool, error) {
	if s == nil || s.db == nil {
		return optimizer.OptimizationResult{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m optimizationModel
	err := s.db.WithContext(ctx).Where("run_id = ?", strings.TrimSpace(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return optimizer.OptimizationResult{}, false, nil
	}
	if err != nil {
		return optimizer.OptimizationResult{}, false, err
	}
	var res optimizer.OptimizationResult
	if err := json.Unmarshal(m.Payload, &res); err != nil {
		return optimizer.OptimizationResult{}, false, fmt.Errorf("解析优化结果 %s 失败: %w", id, err)
	}
	return res, true, nil
}

// --------------------- Walk-forward -------------------------

func (s *Store) SaveWalkForward(ctx context.Context, rep walkforward.Report) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("序列化稳健性报告失败: %w", err)
	}
	m := walkForwardModel{
		ReportID:      rep.ID,
		Strategy:      rep.Strategy,
		Symbol:        rep.Symbol,
		Windows:       len(rep.Windows),
		Score:         rep.Score,
		Grade:         rep.Grade,
		ParamsJSON:    datatypes.JSON(mustJSON(rep.Parameters)),
		Payload:       datatypes.JSON(payload),
		CreatedAtUnix: timeOrNow(rep.CreatedAt).UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "report_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) GetWalkForward(ctx context.Context, id string) (walkforward.Report, bool, error) {
	if s == nil || s.db == nil {
		return walkforward.Report{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m walkForwardModel
	err := s.db.WithContext(ctx).Where("report_id = ?", strings.TrimSpace(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walkforward.Report{}, false, nil
	}
	if err != nil {
		return walkforward.Report{}, false, err
	}
	var rep walkforward.Report
	if err := json.Unmarshal(m.Payload, &rep); err != nil {
		return walkforward.Report{}, false, fmt.Errorf("解析稳健性报告 %s 失败: %w", id, err)
	}
	return rep, true, nil
}

// --------------------- helpers -------------------------

func (s *Store) filtered(ctx context.Context, model any, f Filter) *gorm.DB {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(f.Offset, 0)
	query := s.db.WithContext(ctx).Model(model)
	if name := strings.TrimSpace(f.Strategy); name != "" {
		query = query.Where("strategy = ?", name)
	}
	if sym := strings.ToUpper(strings.TrimSpace(f.Symbol)); sym != "" {
		query = query.Where("UPPER(symbol) = ?", sym)
	}
	return query.Limit(limit).Offset(offset)
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return []byte("{}")
	}
	return raw
}

func decodeMap(data datatypes.JSON) map[string]any {
	out := make(map[string]any)
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func millisToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
