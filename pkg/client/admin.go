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
	"context"
	"strconv"
	"time"
)

// IssueTokenParams 动作令牌签发参数；TTL 形如 "15m"，空取服务端默认
type IssueTokenParams struct {
	TenantID  string   `json:"tenant_id"`
	Scopes    []string `json:"scopes"`
	TTL       string   `json:"ttl,omitempty"`
	SingleUse bool     `json:"single_use,omitempty"`
}

// IssuePolicyToken 签发动作令牌；响应携带令牌明文，之后不再可取
func (c *Client) IssuePolicyToken(ctx context.Context, p IssueTokenParams) (*PolicyToken, error) {
	var out PolicyToken
	resp, err := c.req(ctx).SetBody(p).SetResult(&out).Post("/api/v1/policy/tokens")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// GetRunManifest 查询运行清单；runID 等于任务 id
func (c *Client) GetRunManifest(ctx context.Context, runID, tenantID string) (*Manifest, error) {
	var out Manifest
	r := c.req(ctx)
	if tenantID != "" {
		r.SetQueryParam("tenant_id", tenantID)
	}
	resp, err := r.SetResult(&out).Get("/api/v1/runs/" + runID + "/manifest")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ListArtifacts 列出一次运行产出的工件引用
func (c *Client) ListArtifacts(ctx context.Context, runID, tenantID string) ([]Output, error) {
	var out struct {
		Outputs []Output `json:"outputs"`
	}
	r := c.req(ctx)
	if tenantID != "" {
		r.SetQueryParam("tenant_id", tenantID)
	}
	resp, err := r.SetResult(&out).Get("/api/v1/runs/" + runID + "/artifacts")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Outputs, nil
}

// ListAuditParams 审计查询过滤条件
type ListAuditParams struct {
	TenantID string
	Action   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ListAuditLog 按租户查询审计日志；审计关闭时服务端返回空集
func (c *Client) ListAuditLog(ctx context.Context, p ListAuditParams) ([]*AuditEntry, error) {
	r := c.req(ctx)
	if p.TenantID != "" {
		r.SetQueryParam("tenant_id", p.TenantID)
	}
	if p.Action != "" {
		r.SetQueryParam("action", p.Action)
	}
	if !p.From.IsZero() {
		r.SetQueryParam("from", p.From.Format(time.RFC3339))
	}
	if !p.To.IsZero() {
		r.SetQueryParam("to", p.To.Format(time.RFC3339))
	}
	if p.Limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		r.SetQueryParam("offset", strconv.Itoa(p.Offset))
	}
	var out struct {
		Entries []*AuditEntry `json:"entries"`
	}
	resp, err := r.SetResult(&out).Get("/api/v1/audit")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Entries, nil
}
