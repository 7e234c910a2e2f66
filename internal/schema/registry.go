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

package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry shape 注册表：启动时注册，之后只读
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register 注册 schema；重名报错
func (r *Registry) Register(s *Schema) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("schema: register requires a named schema")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("schema: %q already registered", s.Name)
	}
	r.schemas[s.Name] = s
	return nil
}

// MustRegister Register 的 panic 版本，内置 schema 启动注册用
func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get 按名称获取 schema
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// List 返回所有已注册 schema 名称（字典序）
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 按名称校验 value；未注册的名称返回单条问题
func (r *Registry) Validate(name string, value any) []Issue {
	return r.ValidateAt(name, value, "")
}

// ValidateAt 同 Validate，path 为问题路径前缀
func (r *Registry) ValidateAt(name string, value any, path string) []Issue {
	s, ok := r.Get(name)
	if !ok {
		return []Issue{{Path: path, Message: fmt.Sprintf("no schema registered for %q", name)}}
	}
	return s.ValidateAt(value, path)
}
