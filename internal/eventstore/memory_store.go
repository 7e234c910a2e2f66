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

package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobforge/internal/jobqueue"
)

// memoryStore 进程内事件存储；queue 非 nil 时触发任务直接入队（无法跨存储事务，
// 尽力而为，与 processing_job_id 的 advisory 语义一致）
type memoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Event
	order []string // 插入序
	queue jobqueue.Store
}

// NewMemoryStore 构建进程内事件存储；queue 可为 nil（触发被忽略）
func NewMemoryStore(queue jobqueue.Store) Store {
	return &memoryStore{
		byID:  make(map[string]*Event),
		queue: queue,
	}
}

func (s *memoryStore) Insert(ctx context.Context, ev *Event, trigger *TriggerJob) (*Event, error) {
	if trigger != nil && s.queue != nil {
		job, _, err := s.queue.Enqueue(ctx, jobqueue.EnqueueParams{
			TenantID:       ev.TenantID,
			Type:           trigger.Type,
			Payload:        trigger.Payload,
			IdempotencyKey: "event:" + ev.ID,
			MaxAttempts:    trigger.MaxAttempts,
			TraceID:        ev.TraceID,
		})
		if err != nil {
			return nil, err
		}
		ev.ProcessingJobID = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.byID[ev.ID] = &cp
	s.order = append(s.order, ev.ID)
	out := cp
	return &out, nil
}

func (s *memoryStore) Get(_ context.Context, id, tenantID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	if !ok || ev.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *memoryStore) List(_ context.Context, tenantID string, f ListFilters) ([]*Event, error) {
	f = f.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Event
	for _, id := range s.order {
		ev := s.byID[id]
		if ev.TenantID != tenantID {
			continue
		}
		if f.EventType != "" && ev.EventType != f.EventType {
			continue
		}
		if f.SourceApp != "" && ev.SourceApp != f.SourceApp {
			continue
		}
		if f.Processed != nil && ev.Processed != *f.Processed {
			continue
		}
		if !f.OccurredFrom.IsZero() && ev.OccurredAt.Before(f.OccurredFrom) {
			continue
		}
		if !f.OccurredTo.IsZero() && ev.OccurredAt.After(f.OccurredTo) {
			continue
		}
		matched = append(matched, ev)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]*Event, 0, len(matched))
	for _, ev := range matched {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) MarkProcessed(_ context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok || ev.TenantID != tenantID {
		return ErrNotFound
	}
	ev.Processed = true
	return nil
}

func (s *memoryStore) PruneProcessedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	kept := s.order[:0]
	for _, id := range s.order {
		ev := s.byID[id]
		if ev.Processed && ev.CreatedAt.Before(cutoff) {
			delete(s.byID, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return pruned, nil
}

func (s *memoryStore) Close() {}
