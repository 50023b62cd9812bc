// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker 从队列 Claim Job 并驱动 Agent 循环执行；
// 支持并发上限（Backpressure）、心跳注册与孤儿租约回收。
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"agent-engine/internal/agentloop"
	"agent-engine/internal/queue"
	"agent-engine/pkg/log"
	"agent-engine/pkg/metrics"
)

// Engine 单个 Job 的执行引擎；agentloop.Loop 实现此接口
type Engine interface {
	Run(ctx context.Context, job *queue.Job) (*agentloop.Outcome, error)
}

// Options Worker 运行参数；零值字段使用默认
type Options struct {
	WorkerID          string
	Version           string
	Concurrency       int           // <=0 默认 3
	PollInterval      time.Duration // <=0 默认 1s
	HeartbeatInterval time.Duration // <=0 默认 30s
	ShutdownTimeout   time.Duration // <=0 默认 30s
	StaleThreshold    time.Duration // <=0 默认 2m
}

func (o *Options) applyDefaults() {
	if o.WorkerID == "" {
		o.WorkerID = DefaultWorkerID()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 2 * time.Minute
	}
}

// Runner Claim 循环：先占并发槽位再 Claim，执行后释放槽位
type Runner struct {
	opts   Options
	store  queue.Store
	engine Engine
	logger *log.Logger

	limiter  chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRunner 创建 Worker
func NewRunner(opts Options, store queue.Store, engine Engine, logger *log.Logger) *Runner {
	opts.applyDefaults()
	return &Runner{
		opts:    opts,
		store:   store,
		engine:  engine,
		logger:  logger,
		limiter: make(chan struct{}, opts.Concurrency),
		stopCh:  make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
	}
}

// WorkerID 本 Worker 标识
func (r *Runner) WorkerID() string { return r.opts.WorkerID }

// Start 启动心跳、孤儿回收与 Claim 循环；不阻塞
func (r *Runner) Start(ctx context.Context) {
	r.heartbeat(ctx)

	r.wg.Add(1)
	go r.runHeartbeatLoop(ctx)

	r.wg.Add(1)
	go r.runSweepLoop(ctx)

	r.wg.Add(1)
	go r.runClaimLoop(ctx)

	r.logger.Info("Worker 已启动",
		"worker_id", r.opts.WorkerID,
		"concurrency", r.opts.Concurrency,
		"poll_interval", r.opts.PollInterval.String())
}

// Stop 优雅关闭：停止认领，等待执行中的 Job；超过 ShutdownTimeout 的 Job
// 被取消并 Release 回队列，不计失败。退出前把 Worker 记录标记为 dead。
func (r *Runner) Stop() {
	r.draining.Store(true)
	close(r.stopCh)

	hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	r.heartbeat(hbCtx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.opts.ShutdownTimeout):
		r.logger.Warn("关闭超时，取消仍在执行的 Job", "timeout", r.opts.ShutdownTimeout.String())
		r.cancelActive()
		<-done
	}

	deadCtx, deadCancel := context.WithTimeout(context.Background(), 5*time.Second)
	r.upsertWorker(deadCtx, queue.WorkerDead)
	deadCancel()
	r.logger.Info("Worker 已停止", "worker_id", r.opts.WorkerID)
}

func (r *Runner) runClaimLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case r.limiter <- struct{}{}:
			job, err := r.store.ClaimNext(ctx, r.opts.WorkerID)
			if err != nil {
				<-r.limiter
				r.logger.Error("ClaimNext failed", "error", err)
				r.sleep(ctx)
				continue
			}
			if job == nil {
				<-r.limiter
				r.sleep(ctx)
				continue
			}
			r.wg.Add(1)
			go func(j *queue.Job) {
				defer r.wg.Done()
				defer func() { <-r.limiter }()
				r.executeJob(ctx, j)
			}(job)
		}
	}
}

func (r *Runner) sleep(ctx context.Context) {
	select {
	case <-r.stopCh:
	case <-ctx.Done():
	case <-time.After(r.opts.PollInterval):
	}
}

// executeJob 执行一个已 Claim 的 Job 并按出口写回终态
func (r *Runner) executeJob(ctx context.Context, job *queue.Job) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r.track(job.ID, cancel)
	// 结束后立即上报，让 active_jobs 不必等下一个心跳周期
	defer func() {
		r.untrack(job.ID)
		hbCtx, hbCancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.heartbeat(hbCtx)
		hbCancel()
	}()

	metrics.WorkerBusy.WithLabelValues(r.opts.WorkerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(r.opts.WorkerID).Dec()

	r.logger.Info("开始执行 Job", "job_id", job.ID, "model", job.Model, "priority", job.Priority)
	start := time.Now()
	outcome, err := r.engine.Run(runCtx, job)
	metrics.JobDuration.WithLabelValues(job.Model).Observe(time.Since(start).Seconds())

	// 写回终态不依赖 runCtx：关闭/超时后仍须落库
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer writeCancel()

	if err != nil {
		r.settleError(writeCtx, runCtx, job, err)
		return
	}

	switch outcome.Kind {
	case agentloop.OutcomeAskUser:
		if err := r.store.Park(writeCtx, job.ID, outcome.Question, outcome.State); err != nil {
			r.logger.Error("Park failed", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobTotal.WithLabelValues("parked").Inc()
		r.logger.Info("Job 等待用户回答", "job_id", job.ID)
	default:
		if err := r.store.Complete(writeCtx, job.ID, outcome.Text); err != nil {
			r.logger.Error("Complete failed", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobTotal.WithLabelValues("completed").Inc()
		r.logger.Info("Job 执行完成", "job_id", job.ID, "duration", time.Since(start).String())
	}
}

// settleError 区分三种失败：关闭中被取消 → Release；超时 → Fail(timeout)；其余 → Fail
func (r *Runner) settleError(writeCtx, runCtx context.Context, job *queue.Job, runErr error) {
	if r.draining.Load() && errors.Is(runErr, context.Canceled) {
		if err := r.store.Release(writeCtx, job.ID); err != nil {
			r.logger.Error("Release failed", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobTotal.WithLabelValues("released").Inc()
		r.logger.Info("Job 已释放回队列", "job_id", job.ID)
		return
	}

	errText := runErr.Error()
	if errors.Is(runErr, context.DeadlineExceeded) && runCtx.Err() == context.DeadlineExceeded {
		errText = fmt.Sprintf("timeout after %ds", job.TimeoutSeconds)
	}
	if err := r.store.Fail(writeCtx, job.ID, errText); err != nil {
		r.logger.Error("Fail failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobTotal.WithLabelValues("failed").Inc()
	r.logger.Info("Job 执行failed", "job_id", job.ID, "error", errText)
}

func (r *Runner) runHeartbeatLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	status := queue.WorkerActive
	if r.draining.Load() {
		status = queue.WorkerDraining
	}
	r.upsertWorker(ctx, status)
}

func (r *Runner) upsertWorker(ctx context.Context, status string) {
	hostname, _ := os.Hostname()
	rec := &queue.WorkerRecord{
		WorkerID:      r.opts.WorkerID,
		Hostname:      hostname,
		Version:       r.opts.Version,
		Status:        status,
		ActiveJobs:    r.activeCount(),
		LastHeartbeat: time.Now().UTC(),
	}
	if err := r.store.UpsertWorker(ctx, rec); err != nil {
		r.logger.Warn("Heartbeat failed", "worker_id", r.opts.WorkerID, "error", err)
	}
}

// runSweepLoop 周期回收孤儿租约；多 Worker 并发执行安全
func (r *Runner) runSweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.StaleThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.RecoverStale(ctx, r.opts.StaleThreshold, queue.WorkerDeadAfter)
			if err != nil {
				r.logger.Warn("回收孤儿 Job 失败", "error", err)
				continue
			}
			if n > 0 {
				metrics.StaleJobsRecovered.Add(float64(n))
				r.logger.Info("回收孤儿 Job", "recovered", n)
			}
		}
	}
}

func (r *Runner) track(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.active[jobID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(jobID string) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

func (r *Runner) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Runner) cancelActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.active {
		cancel()
	}
}

// DefaultWorkerID 返回默认 Worker 标识（env 或 hostname-pid）
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
