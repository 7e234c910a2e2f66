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
	"errors"
	"time"
)

var (
	// ErrNotFound 指定 job 不存在（或不属于该租户）
	ErrNotFound = errors.New("jobqueue: job not found")
	// ErrNotOwner claimed_by 与调用 worker 不一致，或租约已被他人接管
	ErrNotOwner = errors.New("jobqueue: job not owned by worker")
	// ErrInvalidState 当前状态不允许该操作（如对终态行 Complete）
	ErrInvalidState = errors.New("jobqueue: operation not allowed in current state")
	// ErrCancelled 任务已被取消，worker 应停止执行
	ErrCancelled = errors.New("jobqueue: job cancelled")
)

// StorePolicy 存储层语义参数：租约时长、默认 max_attempts、重试 backoff
type StorePolicy struct {
	LeaseDuration      time.Duration
	DefaultMaxAttempts int
	Retry              RetryPolicy
}

// withDefaults 填充零值
func (p StorePolicy) withDefaults() StorePolicy {
	if p.LeaseDuration <= 0 {
		p.LeaseDuration = 60 * time.Second
	}
	if p.DefaultMaxAttempts <= 0 {
		p.DefaultMaxAttempts = 5
	}
	p.Retry = p.Retry.withDefaults()
	return p
}

// Store 任务队列存储接口；Postgres 与内存两个实现，语义一致
type Store interface {
	// Enqueue 入队；幂等键命中唯一约束时返回既有行且 created=false，不报错
	Enqueue(ctx context.Context, p EnqueueParams) (job *Job, created bool, err error)
	// ClaimJobs 认领至多 limit 条可执行行（status=queued 且 run_at<=now），
	// 并发认领互不重叠；选取按租户轮转以保证公平，单租户内按 (run_at, created_at)
	ClaimJobs(ctx context.Context, workerID string, limit int) ([]*Job, error)
	// Heartbeat 续租；首次心跳将 claimed 置为 running。
	// 任务已取消时返回 cancelled=true 且无错误，worker 据此停止
	Heartbeat(ctx context.Context, jobID, workerID string) (cancelled bool, err error)
	// Complete 终局化一次执行：succeeded 落结果，failed 按 retryable 与剩余额度
	// 重回队列或死信。返回更新后的行
	Complete(ctx context.Context, p CompleteParams) (*Job, error)
	// Cancel 从 queued/claimed/running 取消；正在执行的 claim 在下次心跳或完成时被拒
	Cancel(ctx context.Context, jobID, tenantID string) error
	// Reschedule 仅允许 queued 状态修改 run_at
	Reschedule(ctx context.Context, jobID, tenantID string, runAt time.Time) error
	// ReapExpired 回收过期租约：重回队列（attempts 在 claim 时已计，不再累加），
	// 额度耗尽的行转死信；幂等，可并发执行。返回回收的行数
	ReapExpired(ctx context.Context) (int, error)
	// PruneTerminalBefore 删除 updated_at 早于 cutoff 的终态行，
	// 连带 job_results 与 job_attempts。非终态行永不删除。返回删除的 job 行数
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	Get(ctx context.Context, jobID, tenantID string) (*Job, error)
	GetResult(ctx context.Context, jobID, tenantID string) (*JobResult, error)
	List(ctx context.Context, tenantID string, f ListFilters) ([]*Job, error)
	ListAttempts(ctx context.Context, jobID, tenantID string) ([]*JobAttempt, error)
	// QueueDepths 每租户当前排队行数，供指标上报
	QueueDepths(ctx context.Context) (map[string]int, error)

	Close()
}
