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

package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"jobforge/internal/schema"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
)

// 存储层瞬时错误在单次 API 调用内最多重试 3 次
const (
	storeMaxRetries = 3
	storeRetryBase  = 50 * time.Millisecond
)

const (
	defaultClaimLimit = 10
	maxClaimLimit     = 100
)

// Service 队列核心服务：schema 校验 + 存储语义 + 指标；API 与模板编译器共用
type Service struct {
	store   Store
	schemas *schema.Registry
	logger  *log.Logger
}

// NewService 创建队列服务
func NewService(store Store, schemas *schema.Registry, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{store: store, schemas: schemas, logger: logger}
}

// Store 暴露底层存储（reaper 与 retention 用）
func (s *Service) Store() Store {
	return s.store
}

// Enqueue 入队；type 对应 "connector.<type>" schema 已注册时校验 payload，
// 幂等键命中既有行时原样返回既有行
func (s *Service) Enqueue(ctx context.Context, p EnqueueParams) (*Job, error) {
	traceID := p.TraceID
	if traceID == "" {
		traceID = auth.GetTraceID(ctx)
		p.TraceID = traceID
	}
	if p.TenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if p.Type == "" {
		return nil, jferrors.E(jferrors.KindValidation, "type is required").WithTrace(traceID)
	}
	if p.MaxAttempts < 0 || p.MaxAttempts > 10 {
		return nil, jferrors.E(jferrors.KindValidation, "max_attempts must be between 1 and 10").WithTrace(traceID)
	}
	if issues := s.validatePayload(p.Type, p.Payload); len(issues) > 0 {
		return nil, jferrors.E(jferrors.KindValidation, strings.Join(schema.Messages(issues), "; ")).WithTrace(traceID)
	}

	var job *Job
	var created bool
	err := s.withRetry(ctx, func() error {
		var err error
		job, created, err = s.store.Enqueue(ctx, p)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, traceID)
	}
	if created {
		metrics.JobsEnqueuedTotal.WithLabelValues(job.TenantID, job.Type).Inc()
		s.logger.InfoContext(ctx, "job enqueued",
			"job_id", job.ID, "tenant_id", job.TenantID, "type", job.Type, "trace_id", traceID)
	}
	return job, nil
}

// validatePayload 有对应 schema 的类型校验 payload，没有注册的类型放行（对核心不透明）
func (s *Service) validatePayload(jobType string, payload json.RawMessage) []schema.Issue {
	if s.schemas == nil {
		return nil
	}
	name := "connector." + jobType
	if _, ok := s.schemas.Get(name); !ok {
		return nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return []schema.Issue{{Path: "payload", Message: "must be valid JSON"}}
	}
	return s.schemas.ValidateAt(name, value, "payload")
}

// Claim 认领至多 limit 条任务；limit<=0 用默认值
func (s *Service) Claim(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	traceID := auth.GetTraceID(ctx)
	if workerID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "worker_id is required").WithTrace(traceID)
	}
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	if limit > maxClaimLimit {
		return nil, jferrors.Ef(jferrors.KindValidation, "limit must be at most %d", maxClaimLimit).WithTrace(traceID)
	}
	var jobs []*Job
	err := s.withRetry(ctx, func() error {
		var err error
		jobs, err = s.store.ClaimJobs(ctx, workerID, limit)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, traceID)
	}
	for _, j := range jobs {
		metrics.JobsClaimedTotal.WithLabelValues(j.TenantID).Inc()
	}
	return jobs, nil
}

// Heartbeat 续租；cancelled=true 表示任务已被取消，worker 应停止执行
func (s *Service) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	traceID := auth.GetTraceID(ctx)
	if jobID == "" || workerID == "" {
		return false, jferrors.E(jferrors.KindValidation, "job_id and worker_id are required").WithTrace(traceID)
	}
	var cancelled bool
	err := s.withRetry(ctx, func() error {
		var err error
		cancelled, err = s.store.Heartbeat(ctx, jobID, workerID)
		return err
	})
	if err != nil {
		return false, s.mapErr(err, traceID)
	}
	return cancelled, nil
}

// Complete 终局化一次执行
func (s *Service) Complete(ctx context.Context, p CompleteParams) error {
	traceID := auth.GetTraceID(ctx)
	if p.JobID == "" || p.WorkerID == "" {
		return jferrors.E(jferrors.KindValidation, "job_id and worker_id are required").WithTrace(traceID)
	}
	if p.Status != StatusSucceeded && p.Status != StatusFailed {
		return jferrors.E(jferrors.KindValidation, "status must be succeeded or failed").WithTrace(traceID)
	}
	if p.Status == StatusFailed && p.Error == nil {
		return jferrors.E(jferrors.KindValidation, "failed completion requires error").WithTrace(traceID)
	}
	var updated *Job
	err := s.withRetry(ctx, func() error {
		var err error
		updated, err = s.store.Complete(ctx, p)
		return err
	})
	if err != nil {
		return s.mapErr(err, traceID)
	}
	switch updated.Status {
	case StatusSucceeded, StatusFailed:
		metrics.JobsCompletedTotal.WithLabelValues(updated.TenantID, string(updated.Status)).Inc()
	case StatusDeadLettered:
		metrics.JobsCompletedTotal.WithLabelValues(updated.TenantID, string(StatusFailed)).Inc()
		metrics.JobsDeadLetteredTotal.WithLabelValues(updated.TenantID).Inc()
		s.logger.WarnContext(ctx, "job dead lettered",
			"job_id", updated.ID, "tenant_id", updated.TenantID, "attempts", updated.Attempts)
	}
	return nil
}

// Cancel 取消任务
func (s *Service) Cancel(ctx context.Context, jobID, tenantID string) error {
	traceID := auth.GetTraceID(ctx)
	if jobID == "" || tenantID == "" {
		return jferrors.E(jferrors.KindValidation, "job_id and tenant_id are required").WithTrace(traceID)
	}
	err := s.withRetry(ctx, func() error {
		return s.store.Cancel(ctx, jobID, tenantID)
	})
	if err != nil {
		return s.mapErr(err, traceID)
	}
	metrics.JobsCompletedTotal.WithLabelValues(tenantID, string(StatusCancelled)).Inc()
	return nil
}

// Reschedule 修改 run_at，仅允许 queued 状态
func (s *Service) Reschedule(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	traceID := auth.GetTraceID(ctx)
	if jobID == "" || tenantID == "" {
		return jferrors.E(jferrors.KindValidation, "job_id and tenant_id are required").WithTrace(traceID)
	}
	if runAt.IsZero() {
		return jferrors.E(jferrors.KindValidation, "run_at is required").WithTrace(traceID)
	}
	err := s.withRetry(ctx, func() error {
		return s.store.Reschedule(ctx, jobID, tenantID, runAt)
	})
	return s.mapErr(err, traceID)
}

// Get 租户内读单行
func (s *Service) Get(ctx context.Context, jobID, tenantID string) (*Job, error) {
	var job *Job
	err := s.withRetry(ctx, func() error {
		var err error
		job, err = s.store.Get(ctx, jobID, tenantID)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, auth.GetTraceID(ctx))
	}
	return job, nil
}

// GetResult 读终局结果
func (s *Service) GetResult(ctx context.Context, jobID, tenantID string) (*JobResult, error) {
	var res *JobResult
	err := s.withRetry(ctx, func() error {
		var err error
		res, err = s.store.GetResult(ctx, jobID, tenantID)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, auth.GetTraceID(ctx))
	}
	return res, nil
}

// List 租户内列表
func (s *Service) List(ctx context.Context, tenantID string, f ListFilters) ([]*Job, error) {
	traceID := auth.GetTraceID(ctx)
	if tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	for _, st := range f.Status {
		if !st.Valid() {
			return nil, jferrors.Ef(jferrors.KindValidation, "unknown status %q", st).WithTrace(traceID)
		}
	}
	var jobs []*Job
	err := s.withRetry(ctx, func() error {
		var err error
		jobs, err = s.store.List(ctx, tenantID, f)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, traceID)
	}
	return jobs, nil
}

// ListAttempts 读尝试历史
func (s *Service) ListAttempts(ctx context.Context, jobID, tenantID string) ([]*JobAttempt, error) {
	var list []*JobAttempt
	err := s.withRetry(ctx, func() error {
		var err error
		list, err = s.store.ListAttempts(ctx, jobID, tenantID)
		return err
	})
	if err != nil {
		return nil, s.mapErr(err, auth.GetTraceID(ctx))
	}
	return list, nil
}

// ReportQueueDepths 刷新每租户排队深度指标
func (s *Service) ReportQueueDepths(ctx context.Context) error {
	depths, err := s.store.QueueDepths(ctx)
	if err != nil {
		return err
	}
	for tenant, depth := range depths {
		metrics.QueueDepth.WithLabelValues(tenant).Set(float64(depth))
	}
	return nil
}

// withRetry 对瞬时存储错误重试，指数退避；不可重试的错误立即返回
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	var err error
	for i := 0; i < storeMaxRetries; i++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		delay := storeRetryBase << i
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isTransient 连接类故障与序列化冲突视为瞬时
func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return false
}

// mapErr 存储哨兵错误映射为稳定错误码
func (s *Service) mapErr(err error, traceID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return jferrors.E(jferrors.KindNotFound, "job not found").WithTrace(traceID)
	case errors.Is(err, ErrNotOwner):
		return jferrors.E(jferrors.KindNotOwner, "job is not owned by this worker").WithTrace(traceID)
	case errors.Is(err, ErrInvalidState):
		return jferrors.E(jferrors.KindInvalidState, "operation not allowed in current job state").WithTrace(traceID)
	case errors.Is(err, context.DeadlineExceeded):
		return jferrors.Wrap(jferrors.KindTimeout, err, "store operation timed out").WithTrace(traceID)
	default:
		return jferrors.Wrap(jferrors.KindInternal, err, "job store failure").WithTrace(traceID)
	}
}
