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
	"errors"
	"sync"
	"time"
)

// ErrNotFound 令牌不存在
var ErrNotFound = errors.New("policy: token not found")

// Store 令牌存储。Consume 必须原子：同一令牌并发消费只有一次成功。
type Store interface {
	Insert(ctx context.Context, t *PolicyToken) error
	GetByToken(ctx context.Context, token string) (*PolicyToken, error)
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
	// PruneExpiredBefore 删除 expires_at 早于 cutoff 的令牌行，返回删除行数
	PruneExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close()
}

// memoryStore 进程内令牌存储
type memoryStore struct {
	mu      sync.Mutex
	byToken map[string]*PolicyToken
	byID    map[string]*PolicyToken
}

// NewMemoryStore 构建进程内令牌存储
func NewMemoryStore() Store {
	return &memoryStore{
		byToken: make(map[string]*PolicyToken),
		byID:    make(map[string]*PolicyToken),
	}
}

func (s *memoryStore) Insert(_ context.Context, t *PolicyToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byToken[t.Token] = &cp
	s.byID[t.ID] = &cp
	return nil
}

func (s *memoryStore) GetByToken(_ context.Context, token string) (*PolicyToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) Consume(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.ConsumedAt != nil {
		return false, nil
	}
	consumed := at
	t.ConsumedAt = &consumed
	return true, nil
}

func (s *memoryStore) PruneExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, t := range s.byID {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.byID, id)
			delete(s.byToken, t.Token)
			pruned++
		}
	}
	return pruned, nil
}

func (s *memoryStore) Close() {}
