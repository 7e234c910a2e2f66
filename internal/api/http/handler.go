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

// Package http RPC 边界：把队列/事件/模板/策略/清单/审计服务暴露为 JSON API。
// 薄层，不含业务规则；租户从认证主体解析，错误走统一信封。
package http

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/audit"
	"jobforge/internal/eventstore"
	"jobforge/internal/jobqueue"
	"jobforge/internal/manifest"
	"jobforge/internal/policy"
	"jobforge/internal/template"
	"jobforge/pkg/auth"
	"jobforge/pkg/config"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
)

// Handler HTTP 处理器；依赖按服务注入，nil 服务的路由返回 feature_disabled
type Handler struct {
	queue     *jobqueue.Service
	events    *eventstore.Service
	templates *template.Compiler
	gate      *policy.Gate
	manifests *manifest.Builder
	audits    *audit.Writer
	features  config.Features
	logger    *log.Logger
}

// NewHandler 创建处理器；queue 必选，其余服务按 feature 开关装配
func NewHandler(queue *jobqueue.Service, features config.Features, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Handler{queue: queue, features: features, logger: logger}
}

// SetEventService 注入事件服务（features.events）
func (h *Handler) SetEventService(s *eventstore.Service) {
	h.events = s
}

// SetTemplateCompiler 注入模板编译器（features.autopilot）
func (h *Handler) SetTemplateCompiler(c *template.Compiler) {
	h.templates = c
}

// SetPolicyGate 注入策略网关
func (h *Handler) SetPolicyGate(g *policy.Gate) {
	h.gate = g
}

// SetManifestBuilder 注入清单构建器（features.manifests）
func (h *Handler) SetManifestBuilder(b *manifest.Builder) {
	h.manifests = b
}

// SetAuditWriter 注入审计写入器（features.audit）
func (h *Handler) SetAuditWriter(w *audit.Writer) {
	h.audits = w
}

// HealthCheck 健康检查
// GET /healthz
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "jobforge-api",
		"timestamp": time.Now().Unix(),
	})
}

// Metrics Prometheus 文本格式暴露
// GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	c.Response.Header.SetContentType("text/plain; version=0.0.4; charset=utf-8")
	if err := metrics.WritePrometheus(c.Response.BodyWriter()); err != nil {
		writeError(ctx, c, jferrors.Wrap(jferrors.KindInternal, err, "gather metrics"))
	}
}

// requestTenant 解析本次请求的生效租户：认证主体优先，body 租户必须与其一致；
// 无认证主体（auth=none 且无 x-tenant-id 头）时信任 body
func requestTenant(ctx context.Context, bodyTenant string) (string, error) {
	authTenant := auth.GetTenantID(ctx)
	switch {
	case authTenant == "" && bodyTenant == "":
		return "", jferrors.E(jferrors.KindValidation, "tenant_id is required")
	case authTenant == "":
		return bodyTenant, nil
	case bodyTenant == "" || bodyTenant == authTenant:
		return authTenant, nil
	default:
		return "", jferrors.E(jferrors.KindNotOwner, "tenant_id does not match authenticated tenant")
	}
}

// recordAudit 尽力记录审计条目；审计关闭或失败不影响主流程
func (h *Handler) recordAudit(ctx context.Context, tenantID string, e audit.Entry) {
	if h.audits == nil {
		return
	}
	if e.ActorID == "" {
		e.ActorID = auth.GetActorID(ctx)
	}
	if e.TraceID == "" {
		e.TraceID = auth.GetTraceID(ctx)
	}
	if _, err := h.audits.Record(ctx, tenantID, e); err != nil {
		h.logger.WarnContext(ctx, "audit record failed",
			"action", string(e.Action), "tenant_id", tenantID, "error", err)
	}
}
