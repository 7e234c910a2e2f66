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
	"time"
)

// SubmitEvent 提交领域事件；envelope 是完整的事件信封 JSON。
// 重复 (source_app, event_type, trace_id, occurred_at) 命中去重，返回既有事件行。
func (c *Client) SubmitEvent(ctx context.Context, envelope json.RawMessage) (*Event, error) {
	var out Event
	resp, err := c.req(ctx).SetBody(envelope).SetResult(&out).Post("/api/v1/events")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ListEventsParams 事件列表过滤条件
type ListEventsParams struct {
	TenantID  string
	EventType string
	SourceApp string
	Processed *bool
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// ListEvents 按租户列出事件
func (c *Client) ListEvents(ctx context.Context, p ListEventsParams) ([]*Event, error) {
	r := c.req(ctx)
	if p.TenantID != "" {
		r.SetQueryParam("tenant_id", p.TenantID)
	}
	if p.EventType != "" {
		r.SetQueryParam("event_type", p.EventType)
	}
	if p.SourceApp != "" {
		r.SetQueryParam("source_app", p.SourceApp)
	}
	if p.Processed != nil {
		r.SetQueryParam("processed", strconv.FormatBool(*p.Processed))
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
		Events []*Event `json:"events"`
	}
	resp, err := r.SetResult(&out).Get("/api/v1/events")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Events, nil
}

// GetEvent 查询单个事件
func (c *Client) GetEvent(ctx context.Context, eventID, tenantID string) (*Event, error) {
	var out Event
	r := c.req(ctx)
	if tenantID != "" {
		r.SetQueryParam("tenant_id", tenantID)
	}
	resp, err := r.SetResult(&out).Get("/api/v1/events/" + eventID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}
