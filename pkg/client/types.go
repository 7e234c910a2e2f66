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

package client

import (
	"encoding/json"
	"time"
)

// 任务状态取值，与服务端状态机一致
const (
	StatusQueued       = "queued"
	StatusClaimed      = "claimed"
	StatusRunning      = "running"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
	StatusDeadLettered = "dead_lettered"
)

// Job 任务行
type Job struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         string          `json:"status"`
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

// JobError 任务失败的结构化错误
type JobError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// JobResult 终局结果行
type JobResult struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	TenantID    string          `json:"tenant_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	ArtifactRef string          `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Event 已接收的领域事件行
type Event struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ProjectID       string          `json:"project_id,omitempty"`
	EventVersion    int             `json:"event_version"`
	EventType       string          `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	TraceID         string          `json:"trace_id"`
	SourceApp       string          `json:"source_app"`
	SourceModule    string          `json:"source_module,omitempty"`
	SubjectType     string          `json:"subject_type,omitempty"`
	SubjectID       string          `json:"subject_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	ContainsPII     bool            `json:"contains_pii"`
	RedactionHints  []string        `json:"redaction_hints,omitempty"`
	Processed       bool            `json:"processed"`
	ProcessingJobID string          `json:"processing_job_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Template 任务模板定义；schema 字段保持原始 JSON，由服务端校验
type Template struct {
	ID                 string          `json:"id"`
	TemplateKey        string          `json:"template_key"`
	Version            string          `json:"version"`
	Category           string          `json:"category"`
	InputSchema        json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema       json.RawMessage `json:"output_schema,omitempty"`
	RequiredScopes     []string        `json:"required_scopes,omitempty"`
	RequiredConnectors []string        `json:"required_connectors,omitempty"`
	EstimatedCostTier  string          `json:"estimated_cost_tier"`
	DefaultMaxAttempts int             `json:"default_max_attempts"`
	DefaultTimeoutMS   int             `json:"default_timeout_ms"`
	IsActionJob        bool            `json:"is_action_job"`
	Enabled            bool            `json:"enabled"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PolicyToken 动作令牌；Token 明文只在签发响应中出现一次
type PolicyToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"token,omitempty"`
	TenantID   string     `json:"tenant_id"`
	Scopes     []string   `json:"scopes"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	SingleUse  bool       `json:"single_use"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Output 运行清单中的一条产物引用
type Output struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Ref      string `json:"ref"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Manifest 一次运行的规范摘要；run_id 等于任务 id
type Manifest struct {
	RunID             string            `json:"run_id"`
	TenantID          string            `json:"tenant_id"`
	JobType           string            `json:"job_type"`
	Status            string            `json:"status"`
	Outputs           []Output          `json:"outputs"`
	Metrics           map[string]any    `json:"metrics,omitempty"`
	EnvFingerprint    string            `json:"env_fingerprint,omitempty"`
	ToolVersions      map[string]string `json:"tool_versions,omitempty"`
	InputsSnapshotRef string            `json:"inputs_snapshot_ref,omitempty"`
	LogsRef           string            `json:"logs_ref,omitempty"`
	Error             *ManifestError    `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ManifestError 失败运行的错误摘要
type ManifestError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// AuditEntry 审计日志条目
type AuditEntry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ActorID     string         `json:"actor_id,omitempty"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	TraceID     string         `json:"trace_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
