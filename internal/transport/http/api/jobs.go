package apihttp

import (
	"context"
	"sync"
	"time"

	"quantdesk/internal/logger"
	"quantdesk/internal/notifier"
	"quantdesk/internal/optimizer"

	"github.com/google/uuid"
)

// JobStatus 异步优化任务的状态。
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job 一个异步优化任务。Result 在任务结束后才有值。
type Job struct {
	ID         string                        `json:"id"`
	Status     JobStatus                     `json:"status"`
	Request    optimizer.Request             `json:"request"`
	ResultID   string                        `json:"result_id,omitempty"`
	Result     *optimizer.OptimizationResult `json:"result,omitempty"`
	Error      string                        `json:"error,omitempty"`
	CreatedAt  time.Time                     `json:"created_at"`
	StartedAt  *time.Time                    `json:"started_at,omitempty"`
	FinishedAt *time.Time                    `json:"finished_at,omitempty"`
}

func (j *Job) done() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

type optimizeFunc func(ctx context.Context, req optimizer.Request) (optimizer.OptimizationResult, error)

// jobTracker 在进程内跟踪优化任务；已结束的任务保留 retention 时长。
type jobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	ctx       context.Context
	wg        sync.WaitGroup
	retention time.Duration
	notify    notifier.TextNotifier
}

func newJobTracker(notify notifier.TextNotifier) *jobTracker {
	return &jobTracker{
		jobs:      make(map[string]*Job),
		ctx:       context.Background(),
		retention: 24 * time.Hour,
		notify:    notify,
	}
}

// SetContext 绑定任务的父 context，服务退出时正在运行的任务随之取消。
func (t *jobTracker) SetContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

// Submit 登记任务并在后台运行。
func (t *jobTracker) Submit(req optimizer.Request, run optimizeFunc) Job {
	now := time.Now().UTC()
	job := &Job{ID: uuid.NewString(), Status: JobQueued, Request: req, CreatedAt: now}
	t.mu.Lock()
	t.prune(now)
	t.jobs[job.ID] = job
	parent := t.ctx
	snapshot := *job
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.update(job.ID, func(j *Job) {
			started := time.Now().UTC()
			j.Status = JobRunning
			j.StartedAt = &started
		})
		res, err := run(parent, req)
		t.update(job.ID, func(j *Job) {
			finished := time.Now().UTC()
			j.FinishedAt = &finished
			if res.ID != "" {
				r := res
				j.Result = &r
				j.ResultID = res.ID
			}
			switch {
			case err != nil:
				j.Status = JobFailed
				j.Error = err.Error()
			case res.Status == optimizer.StatusFailed:
				j.Status = JobFailed
				j.Error = res.Error
			default:
				j.Status = JobCompleted
			}
		})
		if err != nil {
			logger.Warnf("[http] 优化任务 %s 失败: %v", job.ID, err)
		}
		if finished, ok := t.Get(job.ID); ok {
			t.announce(parent, finished)
		}
	}()
	return snapshot
}

func (t *jobTracker) update(id string, fn func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		fn(j)
	}
}

// Get 返回任务快照。
func (t *jobTracker) Get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// FindByResult 按优化结果 ID 查任务。
func (t *jobTracker) FindByResult(resultID string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, j := range t.jobs {
		if j.ResultID == resultID {
			return *j, true
		}
	}
	return Job{}, false
}

// Wait 等待所有任务结束。
func (t *jobTracker) Wait() {
	t.wg.Wait()
}

func (t *jobTracker) prune(now time.Time) {
	for id, j := range t.jobs {
		if j.done() && j.FinishedAt != nil && now.Sub(*j.FinishedAt) > t.retention {
			delete(t.jobs, id)
		}
	}
}
