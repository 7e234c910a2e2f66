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

// Package evidence 为每次连接器调用生成确定性的证据包：耗时、重试、状态码、
// 脱敏输入、输出哈希，以及覆盖确定性内核的 evidence_hash。
package evidence

import "time"

// Packet 单次连接器调用的证据包
type Packet struct {
	EvidenceID      string    `json:"evidence_id"`
	ConnectorID     string    `json:"connector_id"`
	TenantID        string    `json:"tenant_id"`
	ProjectID       string    `json:"project_id,omitempty"`
	TraceID         string    `json:"trace_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationMS      int64     `json:"duration_ms"`
	Retries         int       `json:"retries"`
	StatusCodes     []int     `json:"status_codes"`
	BackoffDelaysMS []int64   `json:"backoff_delays_ms"`
	RateLimited     bool      `json:"rate_limited"`
	RedactedInput   any       `json:"redacted_input"`
	OutputHash      string    `json:"output_hash"`
	OK              bool      `json:"ok"`
	Error           *Failure  `json:"error,omitempty"`
	EvidenceHash    string    `json:"evidence_hash"`
}

// Failure 证据包中的失败记录
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
