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

package template

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound 模板不存在
var ErrNotFound = errors.New("template: not found")

// Store 模板存储；template_key 唯一
type Store interface {
	Upsert(ctx context.Context, t *Template) (*Template, error)
	GetByKey(ctx context.Context, key string) (*Template, error)
	SetEnabled(ctx context.Context, key string, enabled bool, at time.Time) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
	Close()
}

// memoryStore 进程内模板存储
type memoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Template
}

// NewMemoryStore 构建进程内模板存储
func NewMemoryStore() Store {
	return &memoryStore{byKey: make(map[string]*Template)}
}

func (s *memoryStore) Upsert(_ context.Context, t *Template) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if existing, ok := s.byKey[t.TemplateKey]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	s.byKey[t.TemplateKey] = &cp
	out := cp
	return &out, nil
}

func (s *memoryStore) GetByKey(_ context.Context, key string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) SetEnabled(_ context.Context, key string, enabled bool, at time.Time) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	t.Enabled = enabled
	t.UpdatedAt = at
	cp := *t
	return &cp, nil
}

func (s *memoryStore) List(_ context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.byKey))
	for _, t := range s.byKey {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateKey < out[j].TemplateKey })
	return out, nil
}

func (s *memoryStore) Close() {}
