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

// Package audit 实现追加写审计日志：普通代码路径只追加，从不更新或删除。
package audit

import (
	"time"
)

// Action 审计动作枚举
type Action string

const (
	ActionEventSubmitted   Action = "event_submitted"
	ActionJobRequested     Action = "job_requested"
	ActionJobCancelled     Action = "job_cancelled"
	ActionPolicyDenied     Action = "policy_denied"
	ActionTemplateEnabled  Action = "template_enabled"
	ActionTemplateDisabled Action = "template_disabled"
	ActionTokenIssued      Action = "token_issued"
	ActionTokenConsumed    Action = "token_consumed"
)

// Valid 判断动作是否在枚举内
func (a Action) Valid() bool {
	switch a {
	case ActionEventSubmitted, ActionJobRequested, ActionJobCancelled, ActionPolicyDenied,
		ActionTemplateEnabled, ActionTemplateDisabled, ActionTokenIssued, ActionTokenConsumed:
		return true
	}
	return false
}

// Entry 一条审计记录
type Entry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ActorID     string         `json:"actor_id,omitempty"`
	Action      Action         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	TraceID     string         `json:"trace_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ListFilters 审计查询过滤条件
type ListFilters struct {
	Action Action
	From   time.Time
	To     time.Time
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
