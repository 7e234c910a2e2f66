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

// Package template 实现模板注册表与编译器：模板是创建 autopilot 任务的唯一入口，
// 编译产物是 type=template_key 的队列任务。
package template

import (
	"regexp"
	"time"

	"jobforge/internal/schema"
)

// Category 模板类别
type Category string

const (
	CategoryOps     Category = "ops"
	CategorySupport Category = "support"
	CategoryGrowth  Category = "growth"
	CategoryFinops  Category = "finops"
	CategoryCore    Category = "core"
)

// Valid 判断类别是否在枚举内
func (c Category) Valid() bool {
	switch c {
	case CategoryOps, CategorySupport, CategoryGrowth, CategoryFinops, CategoryCore:
		return true
	}
	return false
}

// CostTier 预估成本档位
type CostTier string

const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// Valid 判断档位是否在枚举内
func (t CostTier) Valid() bool {
	switch t {
	case CostLow, CostMedium, CostHigh:
		return true
	}
	return false
}

// Template 一个命名、带版本的任务规格；平台级资源，不按租户分片。
// RequiredConnectors 是该模板的 handler 会调用的连接器清单（供能力核对），
// DefaultTimeoutMS 是给 handler 的建议超时，harness 的尝试级超时独立生效。
type Template struct {
	ID                 string         `json:"id"`
	TemplateKey        string         `json:"template_key"`
	Version            string         `json:"version"`
	Category           Category       `json:"category"`
	InputSchema        *schema.Schema `json:"input_schema,omitempty"`
	OutputSchema       *schema.Schema `json:"output_schema,omitempty"`
	RequiredScopes     []string       `json:"required_scopes,omitempty"`
	RequiredConnectors []string       `json:"required_connectors,omitempty"`
	EstimatedCostTier  CostTier       `json:"estimated_cost_tier"`
	DefaultMaxAttempts int            `json:"default_max_attempts"`
	DefaultTimeoutMS   int            `json:"default_timeout_ms"`
	IsActionJob        bool           `json:"is_action_job"`
	Enabled            bool           `json:"enabled"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidVersion 校验语义版本号（major.minor.patch）
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}
