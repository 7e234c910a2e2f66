// Copyright 2026 The JobForge Authors
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

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobforge/internal/connector"
	"jobforge/internal/jobqueue"
	"jobforge/internal/manifest"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
	"jobforge/pkg/tracing"
)

// Runner 从队列 Claim 任务并执行注册的处理器；支持并发上限（Backpressure）、
// 租约心跳与取消传播。心跳响应携带取消信号，收到后取消执行上下文
type Runner struct {
	workerID        string
	queue           *jobqueue.Service
	registry        *Registry
	manifests       *manifest.Builder // 可选；非 nil 时每次执行落运行清单
	pollInterval    time.Duration
	heartbeatTicker time.Duration
	claimLimit      int
	maxConcurrency  int
	limiter         chan struct{} // 信号量，限制同时执行的任务数
	logger          *log.Logger
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewRunner 创建任务执行器；心跳间隔取租约时长的一半，maxConcurrency<=0 时默认 4
func NewRunner(
	workerID string,
	queue *jobqueue.Service,
	registry *Registry,
	pollInterval, leaseDuration time.Duration,
	claimLimit, maxConcurrency int,
	logger *log.Logger,
) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	heartbeat := leaseDuration / 2
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if claimLimit <= 0 {
		claimLimit = 10
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Runner{
		workerID:        workerID,
		queue:           queue,
		registry:        registry,
		pollInterval:    pollInterval,
		heartbeatTicker: heartbeat,
		claimLimit:      claimLimit,
		maxConcurrency:  maxConcurrency,
		limiter:         make(chan struct{}, maxConcurrency),
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// SetManifestBuilder 设置运行清单构建器；非 nil 时每次执行写 BeginRun/CompleteRun
func (r *Runner) SetManifestBuilder(b *manifest.Builder) {
	r.manifests = b
}

// Start 启动 Claim 循环；先占并发槽位再 Claim，认领数不超过空闲槽位数，
// 执行结束释放槽位（Backpressure）
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case r.limiter <- struct{}{}:
				// 已占一个槽位，再把剩余空闲槽位占满，一次认领一批
				free := 1
				for free < r.claimLimit {
					select {
					case r.limiter <- struct{}{}:
						free++
						continue
					default:
					}
					break
				}
				jobs, err := r.queue.Claim(ctx, r.workerID, free)
				if err != nil {
					for i := 0; i < free; i++ {
						<-r.limiter
					}
					r.logger.Error("claim failed", "worker_id", r.workerID, "error", err)
					time.Sleep(r.pollInterval)
					continue
				}
				// 没认领到的槽位立即归还
				for i := len(jobs); i < free; i++ {
					<-r.limiter
				}
				if len(jobs) == 0 {
					select {
					case <-r.stopCh:
						return
					case <-ctx.Done():
						return
					case <-time.After(r.pollInterval):
					}
					continue
				}
				for _, j := range jobs {
					r.wg.Add(1)
					go func(claimed *jobqueue.Job) {
						defer r.wg.Done()
						defer func() { <-r.limiter }()
						r.executeJob(ctx, claimed)
					}(j)
				}
			}
		}
	}()
}

// Stop 停止 Claim 循环并等待执行中的任务结束
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Runner) executeJob(ctx context.Context, j *jobqueue.Job) {
	metrics.WorkerBusy.WithLabelValues(r.workerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(r.workerID).Dec()
	start := time.Now()
	defer func() {
		metrics.JobExecuteDuration.WithLabelValues(j.TenantID, j.Type).Observe(time.Since(start).Seconds())
	}()

	traceID := j.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	logger := r.logger.With(
		"job_id", j.ID, "tenant_id", j.TenantID, "type", j.Type,
		"attempt_no", j.Attempts, "trace_id", traceID)
	logger.Info("开始执行任务")

	// baseCtx 携带租户/trace 等执行身份；runCtx 在取消或结束时失效，
	// 终局化用 baseCtx，避免 Complete 被已取消的上下文拦下
	baseCtx := auth.WithTenantID(ctx, j.TenantID)
	baseCtx = auth.WithWorkerID(baseCtx, r.workerID)
	baseCtx = auth.WithTraceID(baseCtx, traceID)
	baseCtx = connector.WithJobID(baseCtx, j.ID)
	runCtx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	runCtx, span := tracing.StartJobSpan(runCtx, j.ID, j.TenantID, j.Type)

	// 后台心跳续租；心跳响应报告取消时取消 runCtx，使执行中的连接器中断
	var wasCancelled atomic.Bool
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.heartbeatTicker)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				close(heartbeatDone)
				return
			case <-ticker.C:
				cancelled, err := r.queue.Heartbeat(runCtx, j.ID, r.workerID)
				if err != nil {
					logger.Warn("心跳失败", "error", err)
					continue
				}
				if cancelled {
					wasCancelled.Store(true)
					cancel()
				}
			}
		}
	}()

	if r.manifests != nil {
		if _, err := r.manifests.BeginRun(runCtx, j.ID, j.TenantID, j.Type); err != nil {
			logger.Warn("写入运行清单失败", "error", err)
		}
	}

	handler, ok := r.registry.Get(j.Type)
	var res *Result
	var runErr error
	if !ok {
		runErr = jferrors.Ef(jferrors.KindValidation, "no handler registered for job type %s", j.Type)
	} else {
		res, runErr = r.runHandler(runCtx, handler, j)
	}

	// 处理器返回后主动结束 runCtx，确保心跳协程退出
	tracing.EndSpan(span, runErr)
	cancel()
	<-heartbeatDone

	if wasCancelled.Load() {
		logger.Info("任务已取消，丢弃执行结果")
		r.completeManifest(baseCtx, j, res, &manifest.ErrorInfo{
			Code:    "cancelled",
			Message: "job cancelled during execution",
		})
		return
	}

	if runErr != nil {
		jobErr := toJobError(runErr)
		logger.Info("任务执行失败",
			"code", jobErr.Code, "retryable", jobErr.Retryable, "error", jobErr.Message)
		if err := r.queue.Complete(baseCtx, jobqueue.CompleteParams{
			JobID:    j.ID,
			WorkerID: r.workerID,
			Status:   jobqueue.StatusFailed,
			Error:    jobErr,
		}); err != nil {
			logger.Warn("终局化失败", "error", err)
		}
		r.completeManifest(baseCtx, j, res, &manifest.ErrorInfo{
			Code:      jobErr.Code,
			Message:   jobErr.Message,
			Retryable: jobErr.Retryable,
		})
		return
	}

	params := jobqueue.CompleteParams{
		JobID:    j.ID,
		WorkerID: r.workerID,
		Status:   jobqueue.StatusSucceeded,
	}
	if res != nil {
		if res.Data != nil {
			params.Result, _ = json.Marshal(res.Data)
		}
		params.ArtifactRef = res.ArtifactRef
	}
	if err := r.queue.Complete(baseCtx, params); err != nil {
		logger.Warn("终局化失败", "error", err)
		return
	}
	logger.Info("任务执行成功", "duration_ms", time.Since(start).Milliseconds())
	r.completeManifest(baseCtx, j, res, nil)
}

// runHandler 执行处理器并吸收 panic；自定义处理器崩溃按不可重试的内部错误终局化
func (r *Runner) runHandler(ctx context.Context, h Handler, j *jobqueue.Job) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = jferrors.Ef(jferrors.KindInternal, "handler panic: %v", rec).WithRetryable(false)
		}
	}()
	return h(ctx, j)
}

// completeManifest 终局化运行清单；清单写入失败不影响任务终局，只记日志
func (r *Runner) completeManifest(ctx context.Context, j *jobqueue.Job, res *Result, failure *manifest.ErrorInfo) {
	if r.manifests == nil {
		return
	}
	p := manifest.CompleteParams{
		RunID:    j.ID,
		TenantID: j.TenantID,
		JobType:  j.Type,
		Failure:  failure,
		Metrics:  map[string]any{"attempt_no": j.Attempts},
	}
	if res != nil {
		p.Evidence = res.Evidence
	}
	if _, err := r.manifests.CompleteRun(ctx, p); err != nil {
		r.logger.Warn("写入运行清单失败", "job_id", j.ID, "error", err)
	}
}

// toJobError 处理器错误到结构化任务错误；非 *errors.Error 视为不可重试的内部错误
func toJobError(err error) *jobqueue.JobError {
	var e *jferrors.Error
	if errors.As(err, &e) {
		jobErr := &jobqueue.JobError{
			Code:      string(e.Kind),
			Message:   e.Message,
			Retryable: e.Retryable,
		}
		if len(e.Debug) > 0 {
			jobErr.Details = e.Debug
		}
		return jobErr
	}
	return &jobqueue.JobError{
		Code:    string(jferrors.KindInternal),
		Message: err.Error(),
	}
}

// DefaultWorkerID 返回默认 Worker 标识（env 或 hostname）
func DefaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	if host != "" {
		return host
	}
	return "worker-unknown"
}
