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

package manifest

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound 清单不存在或属于其他租户
var ErrNotFound = errors.New("manifest: not found")

// ErrTenantMismatch run_id 已被其他租户占用
var ErrTenantMismatch = errors.New("manifest: run owned by another tenant")

// Store 清单存储；Put 以 run_id 为键做插入或覆盖
type Store interface {
	Put(ctx context.Context, m *Manifest) (*Manifest, error)
	Get(ctx context.Context, runID, tenantID string) (*Manifest, error)
	Close()
}

// memoryStore 进程内清单存储，测试与单机模式使用
type memoryStore struct {
	mu   sync.Mutex
	byID map[string]*Manifest
}

// NewMemoryStore 创建进程内清单存储
func NewMemoryStore() Store {
	return &memoryStore{byID: make(map[string]*Manifest)}
}

func (s *memoryStore) Put(ctx context.Context, m *Manifest) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyManifest(m)
	if existing, ok := s.byID[m.RunID]; ok {
		if existing.TenantID != m.TenantID {
			return nil, ErrTenantMismatch
		}
		cp.CreatedAt = existing.CreatedAt
	}
	s.byID[m.RunID] = cp
	return copyManifest(cp), nil
}

func (s *memoryStore) Get(ctx context.Context, runID, tenantID string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[runID]
	if !ok || m.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyManifest(m), nil
}

func (s *memoryStore) Close() {}

func copyManifest(m *Manifest) *Manifest {
	cp := *m
	if m.Outputs != nil {
		cp.Outputs = append([]Output(nil), m.Outputs...)
	}
	if m.Metrics != nil {
		cp.Metrics = make(map[string]any, len(m.Metrics))
		for k, v := range m.Metrics {
			cp.Metrics[k] = v
		}
	}
	if m.ToolVersions != nil {
		cp.ToolVersions = make(map[string]string, len(m.ToolVersions))
		for k, v := range m.ToolVersions {
			cp.ToolVersions[k] = v
		}
	}
	if m.Error != nil {
		e := *m.Error
		cp.Error = &e
	}
	return &cp
}
