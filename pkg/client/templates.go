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
	"encoding/json"
)

// RequestJobParams 模板任务请求参数
type RequestJobParams struct {
	TenantID    string          `json:"tenant_id"`
	TemplateKey string          `json:"template_key"`
	Inputs      json.RawMessage `json:"inputs"`
	ProjectID   string          `json:"project_id,omitempty"`
	TraceID     string          `json:"trace_id,omitempty"`
	ActorID     string          `json:"actor_id,omitempty"`
	PolicyToken string          `json:"policy_token,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
}

// RequestJobResult 模板任务请求响应；DryRun 时 Job 是未入队的合成行
type RequestJobResult struct {
	Job     *Job   `json:"job"`
	TraceID string `json:"trace_id"`
	AuditID string `json:"audit_id,omitempty"`
	DryRun  bool   `json:"dry_run"`
}

// RequestJob 按模板编译并入队任务；同一 trace 的重复请求命中既有任务
func (c *Client) RequestJob(ctx context.Context, p RequestJobParams) (*RequestJobResult, error) {
	var out RequestJobResult
	resp, err := c.req(ctx).SetBody(p).SetResult(&out).Post("/api/v1/templates/request")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// UpsertTemplate 创建或更新模板定义
func (c *Client) UpsertTemplate(ctx context.Context, t *Template) (*Template, error) {
	var out Template
	resp, err := c.req(ctx).SetBody(t).SetResult(&out).Put("/api/v1/templates/" + t.TemplateKey)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// SetTemplateEnabled 启停模板
func (c *Client) SetTemplateEnabled(ctx context.Context, templateKey string, enabled bool) (*Template, error) {
	var out Template
	resp, err := c.req(ctx).
		SetBody(map[string]bool{"enabled": enabled}).
		SetResult(&out).
		Post("/api/v1/templates/" + templateKey + "/enabled")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// GetTemplate 查询模板定义
func (c *Client) GetTemplate(ctx context.Context, templateKey string) (*Template, error) {
	var out Template
	resp, err := c.req(ctx).SetResult(&out).Get("/api/v1/templates/" + templateKey)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ListTemplates 列出全部模板
func (c *Client) ListTemplates(ctx context.Context) ([]*Template, error) {
	var out struct {
		Templates []*Template `json:"templates"`
	}
	resp, err := c.req(ctx).SetResult(&out).Get("/api/v1/templates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Templates, nil
}
