package apihttp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/optimizer"
	"quantdesk/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func optimizationRequest() optimizer.Request {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return optimizer.Request{
		Strategy:  strategy.RSIStrategyID,
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Range:     backtest.DateRange{Start: start, End: start.AddDate(0, 1, 0)},
	}
}

func TestJobTrackerAnnouncesCompletion(t *testing.T) {
	n := new(MockNotifier)
	n.On("SendText", mock.Anything, mock.MatchedBy(func(text string) bool {
		return containsAll(text, "参数优化完成", "rsi_period: 14", "result=opt-1")
	})).Return(nil).Once()

	tracker := newJobTracker(n)
	job := tracker.Submit(optimizationRequest(), func(ctx context.Context, req optimizer.Request) (optimizer.OptimizationResult, error) {
		return optimizer.OptimizationResult{
			ID:             "opt-1",
			Method:         "grid",
			Objective:      optimizer.ObjectiveSharpe,
			Status:         optimizer.StatusCompleted,
			BestParameters: strategy.Parameters{"rsi_period": 14},
			BestMetrics:    &backtest.Metrics{TotalReturnPct: 12.5, MaxDrawdown: 0.1},
			Evaluated:      6,
		}, nil
	})
	tracker.Wait()

	got, ok := tracker.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.Status)
	found, ok := tracker.FindByResult("opt-1")
	require.True(t, ok)
	assert.Equal(t, job.ID, found.ID)
	n.AssertExpectations(t)
}

func TestJobTrackerFailedJobStillAnnounced(t *testing.T) {
	n := new(MockNotifier)
	n.On("SendText", mock.Anything, mock.MatchedBy(func(text string) bool {
		return containsAll(text, "参数优化失败", "boom")
	})).Return(errors.New("telegram down")).Once()

	tracker := newJobTracker(n)
	job := tracker.Submit(optimizationRequest(), func(ctx context.Context, req optimizer.Request) (optimizer.OptimizationResult, error) {
		return optimizer.OptimizationResult{}, errors.New("boom")
	})
	tracker.Wait()

	got, ok := tracker.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.Result)
	n.AssertExpectations(t)
}

func TestJobTrackerPrunesOldJobs(t *testing.T) {
	tracker := newJobTracker(nil)
	old := time.Now().UTC().Add(-48 * time.Hour)
	tracker.jobs["old"] = &Job{ID: "old", Status: JobCompleted, FinishedAt: &old}
	tracker.jobs["running"] = &Job{ID: "running", Status: JobRunning}

	tracker.Submit(optimizationRequest(), func(ctx context.Context, req optimizer.Request) (optimizer.OptimizationResult, error) {
		return optimizer.OptimizationResult{ID: "x", Status: optimizer.StatusCompleted}, nil
	})
	tracker.Wait()

	_, ok := tracker.Get("old")
	assert.False(t, ok)
	_, ok = tracker.Get("running")
	assert.True(t, ok)
}

func containsAll(text string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(text, p) {
			return false
		}
	}
	return true
}
