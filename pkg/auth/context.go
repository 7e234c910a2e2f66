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

// Package auth 提供请求主体信息的 context 注入与读取：tenant、actor、worker、trace。
package auth

import (
	"context"
)

type contextKey string

const (
	tenantIDKey contextKey = "auth.tenant_id"
	actorIDKey  contextKey = "auth.actor_id"
	workerIDKey contextKey = "auth.worker_id"
	traceIDKey  contextKey = "auth.trace_id"
)

// WithTenantID 将 tenant_id 注入 context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID 从 context 获取 tenant_id，缺省返回空串
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActorID 将 actor_id（人或服务主体）注入 context
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// GetActorID 从 context 获取 actor_id
func GetActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey).(string); ok {
		return v
	}
	return ""
}

// WithWorkerID 将 worker_id 注入 context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// GetWorkerID 从 context 获取 worker_id
func GetWorkerID(ctx context.Context) string {
	if v, ok := ctx.Value(workerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID 将 trace_id 注入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID 从 context 获取 trace_id
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
