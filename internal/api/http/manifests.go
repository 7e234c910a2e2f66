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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/internal/manifest"
	jferrors "jobforge/pkg/errors"
)

// GetRunManifest 查询运行清单
// GET /api/v1/runs/:id/manifest
func (h *Handler) GetRunManifest(ctx context.Context, c *app.RequestContext) {
	if !h.features.Manifests || h.manifests == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "run manifests are disabled"))
		return
	}
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	m, err := h.manifests.GetRunManifest(ctx, c.Param("id"), tenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, m)
}

// ListArtifacts 列出一次运行产出的工件引用
// GET /api/v1/runs/:id/artifacts
func (h *Handler) ListArtifacts(ctx context.Context, c *app.RequestContext) {
	if !h.features.Manifests || h.manifests == nil {
		writeError(ctx, c, jferrors.E(jferrors.KindFeatureDisabled, "run manifests are disabled"))
		return
	}
	tenantID, err := requestTenant(ctx, c.Query("tenant_id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	outputs, err := h.manifests.ListArtifacts(ctx, c.Param("id"), tenantID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if outputs == nil {
		outputs = []manifest.Output{}
	}
	c.JSON(consts.StatusOK, map[string]any{"outputs": outputs})
}
