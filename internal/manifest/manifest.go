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

// Package manifest 管理运行清单：一次任务执行的规范摘要，含产物引用与指标。
// 清单以 run_id（即任务 id）为主键，与事件、任务之间只以 id 关联。
package manifest

import (
	"runtime"
	"time"

	"jobforge/pkg/canonical"
)

// Status 清单状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Output 清单中的一条产物引用
type Output struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Ref      string `json:"ref"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// ErrorInfo 失败运行的错误摘要
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Manifest 一次运行的规范摘要；RunID 等于任务 id
type Manifest struct {
	RunID             string            `json:"run_id"`
	TenantID          string            `json:"tenant_id"`
	JobType           string            `json:"job_type"`
	Status            Status            `json:"status"`
	Outputs           []Output          `json:"outputs"`
	Metrics           map[string]any    `json:"metrics,omitempty"`
	EnvFingerprint    string            `json:"env_fingerprint,omitempty"`
	ToolVersions      map[string]string `json:"tool_versions,omitempty"`
	InputsSnapshotRef string            `json:"inputs_snapshot_ref,omitempty"`
	LogsRef           string            `json:"logs_ref,omitempty"`
	Error             *ErrorInfo        `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// EnvFingerprint 运行环境指纹：go 版本、操作系统与架构的规范哈希
func EnvFingerprint() string {
	h, err := canonical.Hash(map[string]any{
		"go":   runtime.Version(),
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	})
	if err != nil {
		return ""
	}
	return h
}
