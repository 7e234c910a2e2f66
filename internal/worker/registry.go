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

// Package worker 实现任务执行运行时：从队列 Claim、按类型派发处理器、
// 租约心跳与终局化。内置任务类型经由连接器 harness 执行，自定义处理器
// 直接注册进 Registry。
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"jobforge/internal/connector"
	"jobforge/internal/jobqueue"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/evidence"
)

// Result 处理器的执行产物；Data 序列化后写入结果行，Evidence 进入运行清单
type Result struct {
	Data        map[string]any
	Evidence    []*evidence.Packet
	ArtifactRef string
}

// Handler 处理一类任务。返回 error 时按 pkg/errors 的 kind 与 retryable
// 标记终局化：可重试错误按退避重回队列，否则死信
type Handler func(ctx context.Context, job *jobqueue.Job) (*Result, error)

// Registry 任务类型到处理器的映射；启动时注册，运行期只读
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册处理器；重名报错
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("worker: job type is required")
	}
	if h == nil {
		return fmt.Errorf("worker: handler for %s is nil", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("worker: handler for %s already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Get 按任务类型取处理器
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types 已注册的任务类型，排序后返回
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConnectorHandler 把连接器包装成同名任务类型的处理器：payload 即连接器输入，
// harness 的证据包与 artifact_ref 透传到执行产物
func ConnectorHandler(h *connector.Harness, connectorID string, dryRun bool) Handler {
	return func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		var input map[string]any
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &input); err != nil {
				return nil, jferrors.Wrap(jferrors.KindValidation, err, "payload must be a JSON object")
			}
		}
		res := h.Run(ctx, connector.Invocation{
			ConnectorID: connectorID,
			TenantID:    j.TenantID,
			TraceID:     j.TraceID,
			Input:       input,
			DryRun:      dryRun,
		})
		out := &Result{Data: res.Data}
		if res.Evidence != nil {
			out.Evidence = []*evidence.Packet{res.Evidence}
		}
		if ref, ok := res.Data["artifact_ref"].(string); ok {
			out.ArtifactRef = ref
		}
		if !res.OK {
			return out, jferrors.E(failureKind(res.Error.Code), res.Error.Message).
				WithRetryable(res.Error.Retryable)
		}
		return out, nil
	}
}

// RegisterConnectors 把 names 中的每个连接器注册为同名任务类型
func RegisterConnectors(reg *Registry, h *connector.Harness, names []string, dryRun bool) error {
	for _, name := range names {
		if err := reg.Register(name, ConnectorHandler(h, name, dryRun)); err != nil {
			return err
		}
	}
	return nil
}

// failureKind 证据包失败码到错误 kind 的映射；未知码归为 internal
func failureKind(code string) jferrors.Kind {
	switch code {
	case "validation":
		return jferrors.KindValidation
	case "not_found":
		return jferrors.KindNotFound
	case "rate_limited":
		return jferrors.KindRateLimited
	case "timeout":
		return jferrors.KindTimeout
	default:
		return jferrors.KindInternal
	}
}
