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

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

// Writer 审计写入口。store 为 nil 时（audit 开关关闭）记录被丢弃，
// 这是开关语义本身而不是降级。
type Writer struct {
	store  Store
	logger *log.Logger
}

// NewWriter 创建审计写入口
func NewWriter(store Store, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Writer{store: store, logger: logger}
}

// Enabled 审计是否落库
func (w *Writer) Enabled() bool {
	return w != nil && w.store != nil
}

// Record 追加一条审计记录。tenantID 是本次操作的租户；
// e.TenantID 非空且与之不一致时拒绝写入，条目不会引用其他租户。
func (w *Writer) Record(ctx context.Context, tenantID string, e Entry) (*Entry, error) {
	traceID := e.TraceID
	if traceID == "" {
		traceID = auth.GetTraceID(ctx)
	}
	if tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "audit: operation tenant is required").WithTrace(traceID)
	}
	if e.TenantID != "" && e.TenantID != tenantID {
		return nil, jferrors.Ef(jferrors.KindValidation,
			"audit: entry tenant %q does not match operation tenant %q", e.TenantID, tenantID).WithTrace(traceID)
	}
	if !e.Action.Valid() {
		return nil, jferrors.Ef(jferrors.KindValidation, "audit: unknown action %q", e.Action).WithTrace(traceID)
	}

	e.ID = "audit-" + uuid.New().String()
	e.TenantID = tenantID
	e.TraceID = traceID
	if e.ActorID == "" {
		e.ActorID = auth.GetActorID(ctx)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	if w.store == nil {
		return &e, nil
	}
	if err := w.store.Append(ctx, &e); err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "audit append failed").WithTrace(traceID)
	}
	w.logger.DebugContext(ctx, "audit entry recorded",
		"audit_id", e.ID, "tenant_id", e.TenantID, "action", string(e.Action),
		"subject_type", e.SubjectType, "subject_id", e.SubjectID, "trace_id", traceID)
	return &e, nil
}

// List 租户内审计记录，occurred_at 倒序
func (w *Writer) List(ctx context.Context, tenantID string, f ListFilters) ([]*Entry, error) {
	traceID := auth.GetTraceID(ctx)
	if tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, jferrors.Ef(jferrors.KindValidation, "unknown audit action %q", f.Action).WithTrace(traceID)
	}
	if w.store == nil {
		return nil, nil
	}
	entries, err := w.store.List(ctx, tenantID, f)
	if err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "audit list failed").WithTrace(traceID)
	}
	return entries, nil
}
