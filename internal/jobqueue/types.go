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

// Package jobqueue 实现多租户任务队列核心：幂等入队、租约式 claim/heartbeat/complete
// 协议、租户公平认领、退避重试与死信。行的删除只属于 retention 清扫，队列操作从不删行。
package jobqueue

import (
	"encoding/json"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusQueued       Status = "queued"
	StatusClaimed      Status = "claimed"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal 是否终态；终态行不可再变更
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusDeadLettered:
		return true
	}
	return false
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusClaimed, StatusRunning, StatusSucceeded,
		StatusFailed, StatusCancelled, StatusDeadLettered:
		return true
	}
	return false
}

// 尝试结局，job_attempts.outcome 取值
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeLostLease = "lost_lease"
	OutcomeCancelled = "cancelled"
)

// Job 任务行；payload 对队列核心不透明
type Job struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         Status          `json:"status"`
	RunAt          time.Time       `json:"run_at"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LastError      *JobError       `json:"last_error,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobError 任务失败的结构化错误；Retryable 决定失败后重回队列还是死信
type JobError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// JobResult 终局结果行，每个终局完成一行
type JobResult struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	TenantID    string          `json:"tenant_id"`
	Status      Status          `json:"status"` // succeeded | failed
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	ArtifactRef string          `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// JobAttempt 一次开始执行的 claim 对应一行
type JobAttempt struct {
	ID        string     `json:"id"`
	JobID     string     `json:"job_id"`
	TenantID  string     `json:"tenant_id"`
	AttemptNo int        `json:"attempt_no"`
	WorkerID  string     `json:"worker_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}

// EnqueueParams 入队参数
type EnqueueParams struct {
	TenantID       string
	Type           string
	Payload        json.RawMessage
	IdempotencyKey string
	RunAt          time.Time // 零值表示立即可执行
	MaxAttempts    int       // <=0 使用队列默认
	TraceID        string
}

// CompleteParams 完成参数；Status 只接受 succeeded / failed
type CompleteParams struct {
	JobID       string
	WorkerID    string
	Status      Status
	Error       *JobError
	Result      json.RawMessage
	ArtifactRef string
}

// ListFilters 列表过滤；Limit 默认 50，上限 1000
type ListFilters struct {
	Status []Status
	Type   string
	Limit  int
	Offset int
}

func (f ListFilters) normalized() ListFilters {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
