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
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/policy"
	jferrors "jobforge/pkg/errors"
)

type issueTokenRequest struct {
	TenantID  string   `json:"tenant_id"`
	Scopes    []string `json:"scopes"`
	TTL       string   `json:"ttl,omitempty"`
	SingleUse bool     `json:"single_use,omitempty"`
}

// issuedToken 签发响应；令牌明文只在这一次响应里出现
type issuedToken struct {
	*policy.PolicyToken
	Token string `json:"token"`
}

// IssuePolicyToken 签发动作令牌
// POST /api/v1/policy/tokens
func (h *Handler) IssuePolicyToken(ctx context.Context, c *app.RequestContext) {
	if h.gate == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "policy gate is disabled"))
		return
	}
	var req issueTokenRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		writeValidation(ctx, c, "request body must be valid JSON")
		return
	}
	tenantID, err := requestTenant(ctx, req.TenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	p := policy.IssueParams{TenantID: tenantID, Scopes: req.Scopes, SingleUse: req.SingleUse}
	if req.TTL != "" {
		ttl, perr := time.ParseDuration(req.TTL)
		if perr != nil || ttl <= 0 {
			writeValidation(ctx, c, "ttl: must be a positive duration such as 15m")
			return
		}
		p.TTL = ttl
	}
	tok, err := h.gate.IssueToken(ctx, p)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, issuedToken{PolicyToken: tok, Token: tok.Token})
}
