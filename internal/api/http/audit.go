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
)

// ListAuditLog 按租户查询审计日志；审计关闭时返回空集而非报错
// GET /api/v1/audit?action=&from=&to=&limit=&offset=
func (h *Handler) ListAuditLog(ctx context.Context, c *app.RequestContext) {
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if h.audits == nil || !h.audits.Enabled() {
		c.JSON(consts.StatusOK, map[string]any{"entries": []*audit.Entry{}})
		return
	}
	f := audit.ListFilters{
		Action: audit.Action(c.Query("action")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if v := c.Query("from"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeValidation(ctx, c, "from: must be an RFC3339 timestamp")
			return
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeValidation(ctx, c, "to: must be an RFC3339 timestamp")
			return
		}
		f.To = t
	}
	entries, err := h.audits.List(ctx, tenantID, f)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(consts.StatusOK, map[string]any{"entries": entries})
}
