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

package policy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"jobforge/internal/audit"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

const defaultTokenTTL = time.Hour

// Gate 策略门：签发与校验动作任务令牌。policy_denied 的审计由调用方
// （模板编译器）负责，这里只审计令牌生命周期。
type Gate struct {
	store  Store
	audit  *audit.Writer
	logger *log.Logger
}

// NewGate 创建策略门
func NewGate(store Store, auditWriter *audit.Writer, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Discard()
	}
	if auditWriter == nil {
		auditWriter = audit.NewWriter(nil, logger)
	}
	return &Gate{store: store, audit: auditWriter, logger: logger}
}

// IssueToken 签发令牌：32 字节随机密钥（hex 编码），审计 token_issued。
// 裸密钥只出现在返回值里，不写审计。
func (g *Gate) IssueToken(ctx context.Context, p IssueParams) (*PolicyToken, error) {
	traceID := auth.GetTraceID(ctx)
	if p.TenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if len(p.Scopes) == 0 {
		return nil, jferrors.E(jferrors.KindValidation, "scopes must not be empty").WithTrace(traceID)
	}
	for _, s := range p.Scopes {
		if s == "" {
			return nil, jferrors.E(jferrors.KindValidation, "scopes must not contain empty values").WithTrace(traceID)
		}
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "token generation failed").WithTrace(traceID)
	}
	now := time.Now()
	t := &PolicyToken{
		ID:        "tok-" + uuid.New().String(),
		Token:     hex.EncodeToString(raw),
		TenantID:  p.TenantID,
		Scopes:    p.Scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		SingleUse: p.SingleUse,
	}
	if err := g.store.Insert(ctx, t); err != nil {
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "token store failure").WithTrace(traceID)
	}

	if _, err := g.audit.Record(ctx, p.TenantID, audit.Entry{
		Action:      audit.ActionTokenIssued,
		SubjectType: "policy_token",
		SubjectID:   t.ID,
		Metadata: map[string]any{
			"scopes":     p.Scopes,
			"single_use": p.SingleUse,
			"expires_at": t.ExpiresAt,
		},
	}); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "policy token issued",
		"token_id", t.ID, "tenant_id", p.TenantID, "scopes", p.Scopes, "single_use", p.SingleUse)
	return t, nil
}

// Validate 校验令牌并在 single_use 时原子消费。任何失败都归为 policy_denied，
// 原因写进消息；消费成功审计 token_consumed。令牌一经消费不再可用。
func (g *Gate) Validate(ctx context.Context, rawToken, tenantID string, requiredScopes []string) (*PolicyToken, error) {
	traceID := auth.GetTraceID(ctx)
	if rawToken == "" {
		return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token required").WithTrace(traceID)
	}

	t, err := g.store.GetByToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token not found").WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "token store failure").WithTrace(traceID)
	}
	if t.TenantID != tenantID {
		return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token belongs to another tenant").WithTrace(traceID)
	}
	now := time.Now()
	if t.Expired(now) {
		return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token expired").WithTrace(traceID)
	}
	if !t.HasScopes(requiredScopes) {
		return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token missing required scopes").WithTrace(traceID)
	}
	if t.ConsumedAt != nil {
		return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token already consumed").WithTrace(traceID)
	}

	if t.SingleUse {
		ok, err := g.store.Consume(ctx, t.ID, now)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, jferrors.Wrap(jferrors.KindInternal, err, "token store failure").WithTrace(traceID)
		}
		if err != nil || !ok {
			// 并发校验输掉了消费竞争
			return nil, jferrors.E(jferrors.KindPolicyDenied, "policy token already consumed").WithTrace(traceID)
		}
		t.ConsumedAt = &now

		if _, err := g.audit.Record(ctx, tenantID, audit.Entry{
			Action:      audit.ActionTokenConsumed,
			SubjectType: "policy_token",
			SubjectID:   t.ID,
			Metadata:    map[string]any{"scopes": requiredScopes},
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
