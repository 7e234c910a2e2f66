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

// Package connector 以重试、退避、超时与限流策略运行连接器函数，并为每次
// 调用生成证据包。连接器自身只关心一次尝试；重试归 harness。
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobforge/pkg/evidence"
)

// StatusError 连接器单次尝试的失败，Code 为 HTTP 语义状态码，驱动重试分类：
// 429 限流，5xx 可重试，其余 4xx 终止。
type StatusError struct {
	Code    int
	Message string
	// RetryAfter 429 响应携带的等待时长；0 表示未提供
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connector status %d: %s", e.Code, e.Message)
}

// Func 连接器函数：执行一次尝试，失败通过 *StatusError 报告。
// 失败时返回的 map 视为部分输出，会进入证据包。
type Func func(ctx context.Context, in map[string]any) (map[string]any, *StatusError)

// Invocation 一次连接器调用
type Invocation struct {
	ConnectorID string
	TenantID    string
	ProjectID   string
	TraceID     string
	Input       map[string]any
	// DryRun 跳过真实调用，返回合成成功输出
	DryRun bool
}

// Result harness 的调用结果；Evidence 总是存在，包括失败路径
type Result struct {
	OK       bool
	Data     map[string]any
	Error    *evidence.Failure
	Evidence *evidence.Packet
}

// Registry 连接器注册表；启动时注册，运行期只读
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register 注册连接器；重名报错
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("connector: name is required")
	}
	if fn == nil {
		return fmt.Errorf("connector: func is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("connector: %s already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister 注册连接器，失败 panic；仅用于进程启动
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Get 按名称取连接器
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names 已注册的连接器名称，字典序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
