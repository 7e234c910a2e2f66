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

// Package policy 实现动作任务的策略门：令牌签发与校验，single_use 令牌消费后不可复用。
package policy

import (
	"time"
)

// PolicyToken 一条策略令牌行。Token 是裸密钥，只在签发响应中出现一次，
// 不参与 JSON 序列化。
type PolicyToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"-"`
	TenantID   string     `json:"tenant_id"`
	Scopes     []string   `json:"scopes"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	SingleUse  bool       `json:"single_use"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Expired 判断令牌在 now 时刻是否过期
func (t *PolicyToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// HasScopes 判断令牌是否覆盖全部所需 scope
func (t *PolicyToken) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(t.Scopes))
	for _, s := range t.Scopes {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// IssueParams 令牌签发参数
type IssueParams struct {
	TenantID  string        `json:"tenant_id"`
	Scopes    []string      `json:"scopes"`
	TTL       time.Duration `json:"-"`
	SingleUse bool          `json:"single_use"`
}
