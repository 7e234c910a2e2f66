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

// Package eventstore 实现事件域：信封校验、尽力而为去重、追加写入与触发编译。
package eventstore

import (
	"encoding/json"
	"time"
)

// MaxPayloadBytes 单个事件 payload 的大小上限（256 KiB）
const MaxPayloadBytes = 256 * 1024

// Event 一条已落库的事件行；除 processed / processing_job_id 外插入后不可变
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

// ListFilters 事件列表查询过滤条件
type ListFilters struct {
	EventType    string
	SourceApp    string
	Processed    *bool
	OccurredFrom time.Time
	OccurredTo   time.Time
	Limit        int
	Offset       int
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
