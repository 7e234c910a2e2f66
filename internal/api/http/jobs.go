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
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/audit"
	"jobforge/internal/jobqueue"
	"jobforge/pkg/auth"
)

type enqueueRequest struct {
	TenantID       string          `json:"tenant_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

// EnqueueJob 入队任务
// POST /api/v1/jobs/enqueue
func (h *Handler) EnqueueJob(ctx context.Context, c *app.RequestContext) {
	var req enqueueRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	tenantID, err := requestTenant(ctx, req.TenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	p := jobqueue.EnqueueParams{
		TenantID:       tenantID,
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		MaxAttempts:    req.MaxAttempts,
		TraceID:        auth.GetTraceID(ctx),
	}
	if req.RunAt != nil {
		p.RunAt = *req.RunAt
	}
	job, err := h.queue.Enqueue(ctx, p)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, job)
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
	Limit    int    `json:"limit,omitempty"`
}

// ClaimJobs 认领一批可执行任务
// POST /api/v1/jobs/claim
func (h *Handler) ClaimJobs(ctx context.Context, c *app.RequestContext) {
	var req claimRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	jobs, err := h.queue.Claim(ctx, req.WorkerID, req.Limit)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if jobs == nil {
		jobs = []*jobqueue.Job{}
	}
	c.JSON(consts.StatusOK, map[string]any{"jobs": jobs})
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// HeartbeatJob 租约续期；任务已取消时响应 status=cancelled
// POST /api/v1/jobs/:id/heartbeat
func (h *Handler) HeartbeatJob(ctx context.Context, c *app.RequestContext) {
	var req heartbeatRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	cancelled, err := h.queue.Heartbeat(ctx, c.Param("id"), req.WorkerID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	status := "ok"
	if cancelled {
		status = "cancelled"
	}
	c.JSON(consts.StatusOK, map[string]string{"status": status})
}

type completeRequest struct {
	WorkerID    string             `json:"worker_id"`
	Status      string             `json:"status"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       *jobqueue.JobError `json:"error,omitempty"`
	ArtifactRef string             `json:"artifact_ref,omitempty"`
}

// CompleteJob 终局化一次执行
// POST /api/v1/jobs/:id/complete
func (h *Handler) CompleteJob(ctx context.Context, c *app.RequestContext) {
	var req completeRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	err := h.queue.Complete(ctx, jobqueue.CompleteParams{
		JobID:       c.Param("id"),
		WorkerID:    req.WorkerID,
		Status:      jobqueue.Status(req.Status),
		Result:      req.Result,
		Error:       req.Error,
		ArtifactRef: req.ArtifactRef,
	})
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

type cancelRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// CancelJob 取消任务；queued 直接取消，claimed/running 由 worker 在心跳中观察到
// POST /api/v1/jobs/:id/cancel
func (h *Handler) CancelJob(ctx context.Context, c *app.RequestContext) {
	var req cancelRequest
	if len(c.Request.Body()) > 0 {
		if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
			writeValidation(ctx, c, "request body must be valid JSON")
			return
		}
	}
	tenantID, err := requestTenant(ctx, req.TenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	jobID := c.Param("id")
	if err := h.queue.Cancel(ctx, jobID, tenantID); err != nil {
		writeError(ctx, c, err)
		return
	}
	h.recordAudit(ctx, tenantID, audit.Entry{
		Action:      audit.ActionJobCancelled,
		SubjectType: "job",
		SubjectID:   jobID,
	})
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

type rescheduleRequest struct {
	TenantID string    `json:"tenant_id,omitempty"`
	RunAt    time.Time `json:"run_at"`
}

// RescheduleJob 修改 run_at，仅允许 queued 状态
// POST /api/v1/jobs/:id/reschedule
func (h *Handler) RescheduleJob(ctx context.Context, c *app.RequestContext) {
	var req rescheduleRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	tenantID, err := requestTenant(ctx, req.TenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if err := h.queue.Reschedule(ctx, c.Param("id"), tenantID, req.RunAt); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

// ListJobs 租户内任务列表；query: status（逗号分隔）、type、limit、offset
// GET /api/v1/jobs
func (h *Handler) ListJobs(ctx context.Context, c *app.RequestContext) {
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	f := jobqueue.ListFilters{
		Type:   c.Query("type"),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Status = append(f.Status, jobqueue.Status(strings.TrimSpace(s)))
		}
	}
	jobs, err := h.queue.List(ctx, tenantID, f)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if jobs == nil {
		jobs = []*jobqueue.Job{}
	}
	c.JSON(consts.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

// GetJob 读单行
// GET /api/v1/jobs/:id
func (h *Handler) GetJob(ctx context.Context, c *app.RequestContext) {
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	job, err := h.queue.Get(ctx, c.Param("id"), tenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, job)
}

// GetJobResult 读终局结果
// GET /api/v1/jobs/:id/result
func (h *Handler) GetJobResult(ctx context.Context, c *app.RequestContext) {
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	res, err := h.queue.GetResult(ctx, c.Param("id"), tenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, res)
}

// queryInt 解析整数查询参数，缺失或非法时返回 0
func queryInt(c *app.RequestContext, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
