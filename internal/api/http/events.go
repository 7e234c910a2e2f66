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
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/audit"
	"jobforge/internal/eventstore"
	jferrors "jobforge/pkg/errors"
)

// SubmitEvent 提交领域事件；信封即请求体，租户取自认证主体
// POST /api/v1/events
func (h *Handler) SubmitEvent(ctx context.Context, c *app.RequestContext) {
	if !h.features.Events || h.events == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "event ingestion is disabled"))
		return
	}
	tenantID, err := requestTenant(ctx, "")
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	ev, created, err := h.events.SubmitEvent(ctx, tenantID, c.Request.Body())
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	h.recordAudit(ctx, tenantID, audit.Entry{
		Action:      audit.ActionEventSubmitted,
		SubjectType: "event",
		SubjectID:   ev.ID,
		TraceID:     ev.TraceID,
		Metadata:    map[string]any{"event_type": ev.EventType, "deduplicated": !created},
	})
	c.JSON(consts.StatusOK, ev)
}

// ListEvents 按租户列出事件
// GET /api/v1/events?event_type=&source_app=&processed=&from=&to=&limit=&offset=
func (h *Handler) ListEvents(ctx context.Context, c *app.RequestContext) {
	if !h.features.Events || h.events == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "event ingestion is disabled"))
		return
	}
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	f := eventstore.ListFilters{
		EventType: c.Query("event_type"),
		SourceApp: c.Query("source_app"),
		Limit:     queryInt(c, "limit"),
		Offset:    queryInt(c, "offset"),
	}
	if v := c.Query("processed"); v != "" {
		processed := v == "true" || v == "1"
		f.Processed = &processed
	}
	if v := c.Query("from"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeValidation(ctx, c, "from: must be an RFC3339 timestamp")
			return
		}
		f.OccurredFrom = t
	}
	if v := c.Query("to"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeValidation(ctx, c, "to: must be an RFC3339 timestamp")
			return
		}
		f.OccurredTo = t
	}
	events, err := h.events.ListEvents(ctx, tenantID, f)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if events == nil {
		events = []*eventstore.Event{}
	}
	c.JSON(consts.StatusOK, map[string]any{"events": events})
}

// GetEvent 查询单个事件
// GET /api/v1/events/:id
func (h *Handler) GetEvent(ctx context.Context, c *app.RequestContext) {
	if !h.features.Events || h.events == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "event ingestion is disabled"))
		return
	}
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	ev, err := h.events.GetEvent(ctx, c.Param("id"), tenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, ev)
}
