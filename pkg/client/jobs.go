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
	"strconv"
	"strings"
	"time"
)

// EnqueueParams 入队参数
type EnqueueParams struct {
	TenantID       string          `json:"tenant_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RunAt          *time.Time      `json:"run_at,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
}

// EnqueueJob 入队任务；相同幂等键返回既有任务行
func (c *Client) EnqueueJob(ctx context.Context, p EnqueueParams) (*Job, error) {
	var out Job
	resp, err := c.req(ctx).SetBody(p).SetResult(&out).Post("/api/v1/jobs/enqueue")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ClaimJobs 以 workerID 认领一批可执行任务；返回的任务带租约
func (c *Client) ClaimJobs(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	var out struct {
		Jobs []*Job `json:"jobs"`
	}
	resp, err := c.req(ctx).
		SetBody(map[string]any{"worker_id": workerID, "limit": limit}).
		SetResult(&out).
		Post("/api/v1/jobs/claim")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Jobs, nil
}

// HeartbeatJob 租约续期；cancelled 为 true 时任务已被取消，worker 应停止执行
func (c *Client) HeartbeatJob(ctx context.Context, jobID, workerID string) (cancelled bool, err error) {
	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.req(ctx).
		SetBody(map[string]string{"worker_id": workerID}).
		SetResult(&out).
		Post("/api/v1/jobs/" + jobID + "/heartbeat")
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, apiError(resp)
	}
	return out.Status == "cancelled", nil
}

// CompleteParams 终局化参数；Status 取 succeeded 或 failed
type CompleteParams struct {
	WorkerID    string          `json:"worker_id"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	ArtifactRef string          `json:"artifact_ref,omitempty"`
}

// CompleteJob 终局化一次执行
func (c *Client) CompleteJob(ctx context.Context, jobID string, p CompleteParams) error {
	resp, err := c.req(ctx).SetBody(p).Post("/api/v1/jobs/" + jobID + "/complete")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// CancelJob 取消任务；tenantID 为空时取客户端默认租户
func (c *Client) CancelJob(ctx context.Context, jobID, tenantID string) error {
	resp, err := c.req(ctx).
		SetBody(map[string]string{"tenant_id": tenantID}).
		Post("/api/v1/jobs/" + jobID + "/cancel")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// RescheduleJob 修改 queued 任务的 run_at
func (c *Client) RescheduleJob(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	resp, err := c.req(ctx).
		SetBody(map[string]any{"tenant_id": tenantID, "run_at": runAt}).
		Post("/api/v1/jobs/" + jobID + "/reschedule")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// ListJobsParams 任务列表过滤条件
type ListJobsParams struct {
	TenantID string
	Status   []string
	Type     string
	Limit    int
	Offset   int
}

// ListJobs 按租户列出任务
func (c *Client) ListJobs(ctx context.Context, p ListJobsParams) ([]*Job, error) {
	r := c.req(ctx)
	if p.TenantID != "" {
		r.SetQueryParam("tenant_id", p.TenantID)
	}
	if len(p.Status) > 0 {
		r.SetQueryParam("status", strings.Join(p.Status, ","))
	}
	if p.Type != "" {
		r.SetQueryParam("type", p.Type)
	}
	if p.Limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		r.SetQueryParam("offset", strconv.Itoa(p.Offset))
	}
	var out struct {
		Jobs []*Job `json:"jobs"`
	}
	resp, err := r.SetResult(&out).Get("/api/v1/jobs")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Jobs, nil
}

// GetJob 读单个任务
func (c *Client) GetJob(ctx context.Context, jobID, tenantID string) (*Job, error) {
	var out Job
	r := c.req(ctx)
	if tenantID != "" {
		r.SetQueryParam("tenant_id", tenantID)
	}
	resp, err := r.SetResult(&out).Get("/api/v1/jobs/" + jobID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// GetJobResult 读任务终局结果；任务未终局时返回 not_found
func (c *Client) GetJobResult(ctx context.Context, jobID, tenantID string) (*JobResult, error) {
	var out JobResult
	r := c.req(ctx)
	if tenantID != "" {
		r.SetQueryParam("tenant_id", tenantID)
	}
	resp, err := r.SetResult(&out).Get("/api/v1/jobs/" + jobID + "/result")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}
