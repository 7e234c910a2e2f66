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

package http

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/template"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
)

// RequestJob 按模板编译并入队任务
// POST /api/v1/templates/request
func (h *Handler) RequestJob(ctx context.Context, c *app.RequestContext) {
	if !h.features.Autopilot || h.templates == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "template job requests are disabled"))
		return
	}
	var p template.RequestParams
	if err := json.Unmarshal(c.Request.Body(), &p); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	tenantID, err := requestTenant(ctx, p.TenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	p.TenantID = tenantID
	if p.ActorID == "" {
		p.ActorID = auth.GetActorID(ctx)
	}
	if p.TraceID == "" {
		p.TraceID = auth.GetTraceID(ctx)
	}
	res, err := h.templates.RequestJob(ctx, p)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// UpsertTemplate 创建或更新模板定义（按 template_key）
// PUT /api/v1/templates/:key
func (h *Handler) UpsertTemplate(ctx context.Context, c *app.RequestContext) {
	if h.templates == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "template registry is disabled"))
		return
	}
	var t template.Template
	if err := json.Unmarshal(c.Request.Body(), &t); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	key := c.Param("key")
	if t.TemplateKey == "" {
		t.TemplateKey = key
	} else if t.TemplateKey != key {
		writeValidation(ctx, c, "template_key in body does not match path")
		return
	}
	out, err := h.templates.UpsertTemplate(ctx, &t)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, out)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTemplateEnabled 启停模板；动作写入审计
// POST /api/v1/templates/:key/enabled
func (h *Handler) SetTemplateEnabled(ctx context.Context, c *app.RequestContext) {
	if h.templates == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "template registry is disabled"))
		return
	}
	var req setEnabledRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	out, err := h.templates.SetTemplateEnabled(ctx, auth.GetTenantID(ctx), c.Param("key"), req.Enabled)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, out)
}

// GetTemplate 查询模板定义
// GET /api/v1/templates/:key
func (h *Handler) GetTemplate(ctx context.Context, c *app.RequestContext) {
	if h.templates == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "template registry is disabled"))
		return
	}
	out, err := h.templates.GetTemplate(ctx, c.Param("key"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, out)
}

// ListTemplates 列出全部模板
// GET /api/v1/templates
func (h *Handler) ListTemplates(ctx context.Context, c *app.RequestContext) {
	if h.templates == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "template registry is disabled"))
		return
	}
	out, err := h.templates.ListTemplates(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if out == nil {
		out = []*template.Template{}
	}
	c.JSON(consts.StatusOK, map[string]any{"templates": out})
}
