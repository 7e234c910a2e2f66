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

package template

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobforge/internal/audit"
	"jobforge/internal/jobqueue"
	"jobforge/internal/policy"
	"jobforge/internal/schema"
	"jobforge/pkg/auth"
	"jobforge/pkg/canonical"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

// Compiler 模板编译器：RequestJob 把 (template_key, inputs) 编译为一条队列任务。
// 动作模板先过策略门；拒绝永远不入队。
type Compiler struct {
	store          Store
	queue          *jobqueue.Service
	gate           *policy.Gate
	audit          *audit.Writer
	actionsEnabled bool
	logger         *log.Logger
}

// NewCompiler 创建模板编译器；gate 为 nil 时动作模板一律拒绝
func NewCompiler(store Store, queue *jobqueue.Service, gate *policy.Gate, auditWriter *audit.Writer, actionsEnabled bool, logger *log.Logger) *Compiler {
	if logger == nil {
		logger = log.Discard()
	}
	if auditWriter == nil {
		auditWriter = audit.NewWriter(nil, logger)
	}
	return &Compiler{
		store:          store,
		queue:          queue,
		gate:           gate,
		audit:          auditWriter,
		actionsEnabled: actionsEnabled,
		logger:         logger,
	}
}

// RequestParams RequestJob 请求参数
type RequestParams struct {
	TenantID    string          `json:"tenant_id"`
	TemplateKey string          `json:"template_key"`
	Inputs      json.RawMessage `json:"inputs"`
	ProjectID   string          `json:"project_id,omitempty"`
	TraceID     string          `json:"trace_id,omitempty"`
	ActorID     string          `json:"actor_id,omitempty"`
	PolicyToken string          `json:"policy_token,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
}

// RequestResult RequestJob 响应；DryRun 为 true 时 Job 是未入队的合成行（id 为空）
type RequestResult struct {
	Job     *jobqueue.Job `json:"job"`
	TraceID string        `json:"trace_id"`
	AuditID string        `json:"audit_id,omitempty"`
	DryRun  bool          `json:"dry_run"`
}

// RequestJob 编译并入队一条模板任务。幂等键是
// hash(template_key, tenant_id, canonical(inputs), trace_id)：
// 同一 trace 重复请求命中既有任务行。
func (c *Compiler) RequestJob(ctx context.Context, p RequestParams) (*RequestResult, error) {
	traceID := p.TraceID
	if traceID == "" {
		traceID = auth.GetTraceID(ctx)
	}
	if traceID == "" {
		traceID = auth.NewTraceID()
	}
	ctx = auth.WithTraceID(ctx, traceID)

	if p.TenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if p.TemplateKey == "" {
		return nil, jferrors.E(jferrors.KindValidation, "template_key is required").WithTrace(traceID)
	}
	if !auth.ValidTraceID(traceID) {
		return nil, jferrors.E(jferrors.KindValidation, "trace_id: must be a well-formed identifier").WithTrace(traceID)
	}

	t, err := c.store.GetByKey(ctx, p.TemplateKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, jferrors.Ef(jferrors.KindTemplateNotFound, "template not found: %s", p.TemplateKey).WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "template store failure").WithTrace(traceID)
	}
	if !t.Enabled {
		return nil, jferrors.Ef(jferrors.KindTemplateDisabled, "template disabled: %s", p.TemplateKey).WithTrace(traceID)
	}

	inputs := p.Inputs
	if inputs == nil {
		inputs = []byte("{}")
	}
	var inputsValue any
	if err := json.Unmarshal(inputs, &inputsValue); err != nil {
		return nil, jferrors.E(jferrors.KindValidation, "inputs: must be valid JSON").WithTrace(traceID)
	}
	if t.InputSchema != nil {
		if issues := t.InputSchema.ValidateAt(inputsValue, "inputs"); len(issues) > 0 {
			return nil, jferrors.E(jferrors.KindValidation, strings.Join(schema.Messages(issues), "; ")).WithTrace(traceID)
		}
	}

	if t.IsActionJob {
		if !c.actionsEnabled {
			return nil, jferrors.E(jferrors.KindFeatureDisabled, "action jobs are disabled").WithTrace(traceID)
		}
		if err := c.checkPolicy(ctx, p, t, traceID); err != nil {
			return nil, err
		}
	}

	idempotencyKey, err := canonical.Hash([]any{t.TemplateKey, p.TenantID, inputsValue, traceID})
	if err != nil {
		return nil, jferrors.Wrap(jferrors.KindValidation, err, "inputs: not canonicalizable").WithTrace(traceID)
	}

	// 审计先行：不存在没有审计记录的模板任务
	entry, err := c.audit.Record(ctx, p.TenantID, audit.Entry{
		ActorID:     p.ActorID,
		Action:      audit.ActionJobRequested,
		SubjectType: "template",
		SubjectID:   t.TemplateKey,
		TraceID:     traceID,
		Metadata: map[string]any{
			"idempotency_key": idempotencyKey,
			"dry_run":         p.DryRun,
			"cost_tier":       string(t.EstimatedCostTier),
		},
	})
	if err != nil {
		return nil, err
	}

	if p.DryRun {
		now := time.Now()
		synthetic := &jobqueue.Job{
			TenantID:       p.TenantID,
			Type:           t.TemplateKey,
			Payload:        inputs,
			IdempotencyKey: idempotencyKey,
			Status:         jobqueue.StatusQueued,
			RunAt:          now,
			MaxAttempts:    t.DefaultMaxAttempts,
			TraceID:        traceID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		c.logger.InfoContext(ctx, "template request dry run",
			"template_key", t.TemplateKey, "tenant_id", p.TenantID, "trace_id", traceID)
		return &RequestResult{Job: synthetic, TraceID: traceID, AuditID: entry.ID, DryRun: true}, nil
	}

	job, err := c.queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID:       p.TenantID,
		Type:           t.TemplateKey,
		Payload:        inputs,
		IdempotencyKey: idempotencyKey,
		MaxAttempts:    t.DefaultMaxAttempts,
		TraceID:        traceID,
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "template request compiled",
		"template_key", t.TemplateKey, "tenant_id", p.TenantID, "job_id", job.ID, "trace_id", traceID)
	return &RequestResult{Job: job, TraceID: traceID, AuditID: entry.ID, DryRun: false}, nil
}

// checkPolicy 动作模板的策略校验；拒绝被审计为 policy_denied 且不入队
func (c *Compiler) checkPolicy(ctx context.Context, p RequestParams, t *Template, traceID string) error {
	var gateErr error
	if c.gate == nil {
		gateErr = jferrors.E(jferrors.KindPolicyDenied, "policy gate is not configured").WithTrace(traceID)
	} else {
		_, gateErr = c.gate.Validate(ctx, p.PolicyToken, p.TenantID, t.RequiredScopes)
	}
	if gateErr == nil {
		return nil
	}
	if jferrors.IsKind(gateErr, jferrors.KindPolicyDenied) {
		if _, err := c.audit.Record(ctx, p.TenantID, audit.Entry{
			ActorID:     p.ActorID,
			Action:      audit.ActionPolicyDenied,
			SubjectType: "template",
			SubjectID:   t.TemplateKey,
			TraceID:     traceID,
			Metadata:    map[string]any{"reason": gateErr.Error()},
		}); err != nil {
			return err
		}
		c.logger.WarnContext(ctx, "action job denied by policy",
			"template_key", t.TemplateKey, "tenant_id", p.TenantID, "trace_id", traceID)
	}
	return gateErr
}

// UpsertTemplate 新建或更新模板；template_key 唯一，新建时分配 id
func (c *Compiler) UpsertTemplate(ctx context.Context, t *Template) (*Template, error) {
	traceID := auth.GetTraceID(ctx)
	if t == nil {
		return nil, jferrors.E(jferrors.KindValidation, "template is required").WithTrace(traceID)
	}
	if t.TemplateKey == "" {
		return nil, jferrors.E(jferrors.KindValidation, "template_key is required").WithTrace(traceID)
	}
	if !ValidVersion(t.Version) {
		return nil, jferrors.Ef(jferrors.KindValidation, "version %q is not a semantic version", t.Version).WithTrace(traceID)
	}
	if !t.Category.Valid() {
		return nil, jferrors.Ef(jferrors.KindValidation, "category %q is not one of ops, support, growth, finops, core", t.Category).WithTrace(traceID)
	}
	if t.EstimatedCostTier == "" {
		t.EstimatedCostTier = CostLow
	}
	if !t.EstimatedCostTier.Valid() {
		return nil, jferrors.Ef(jferrors.KindValidation, "estimated_cost_tier %q is not one of low, medium, high", t.EstimatedCostTier).WithTrace(traceID)
	}
	if t.DefaultMaxAttempts < 0 || t.DefaultMaxAttempts > 10 {
		return nil, jferrors.E(jferrors.KindValidation, "default_max_attempts must be between 0 and 10").WithTrace(traceID)
	}
	if t.DefaultTimeoutMS < 0 {
		return nil, jferrors.E(jferrors.KindValidation, "default_timeout_ms must not be negative").WithTrace(traceID)
	}

	cp := *t
	if cp.ID == "" {
		cp.ID = "tpl-" + uuid.New().String()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	saved, err := c.store.Upsert(ctx, &cp)
	if err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "template store failure").WithTrace(traceID)
	}
	c.logger.InfoContext(ctx, "template upserted",
		"template_key", saved.TemplateKey, "version", saved.Version, "enabled", saved.Enabled)
	return saved, nil
}

// SetTemplateEnabled 启停模板；tenantID 是执行该管理操作的租户，用于审计
func (c *Compiler) SetTemplateEnabled(ctx context.Context, tenantID, key string, enabled bool) (*Template, error) {
	traceID := auth.GetTraceID(ctx)
	if key == "" {
		return nil, jferrors.E(jferrors.KindValidation, "template_key is required").WithTrace(traceID)
	}
	t, err := c.store.SetEnabled(ctx, key, enabled, time.Now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, jferrors.Ef(jferrors.KindTemplateNotFound, "template not found: %s", key).WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "template store failure").WithTrace(traceID)
	}

	action := audit.ActionTemplateEnabled
	if !enabled {
		action = audit.ActionTemplateDisabled
	}
	if tenantID != "" {
		if _, err := c.audit.Record(ctx, tenantID, audit.Entry{
			Action:      action,
			SubjectType: "template",
			SubjectID:   key,
			Metadata:    map[string]any{"version": t.Version},
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTemplate 按 key 读取模板
func (c *Compiler) GetTemplate(ctx context.Context, key string) (*Template, error) {
	traceID := auth.GetTraceID(ctx)
	if key == "" {
		return nil, jferrors.E(jferrors.KindValidation, "template_key is required").WithTrace(traceID)
	}
	t, err := c.store.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, jferrors.Ef(jferrors.KindTemplateNotFound, "template not found: %s", key).WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "template store failure").WithTrace(traceID)
	}
	return t, nil
}

// ListTemplates 全部模板，按 key 排序
func (c *Compiler) ListTemplates(ctx context.Context) ([]*Template, error) {
	out, err := c.store.List(ctx)
	if err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "template store failure").WithTrace(auth.GetTraceID(ctx))
	}
	return out, nil
}
