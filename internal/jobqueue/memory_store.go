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

package jobqueue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore 内存实现：map + 互斥锁，语义与 Postgres 实现一致，测试与单机部署用
type memoryStore struct {
	mu       sync.Mutex
	policy   StorePolicy
	byID     map[string]*Job
	results  map[string]*JobResult
	attempts map[string][]*JobAttempt
	// idem (tenant, type, idempotency_key) -> jobID，唯一约束的内存形态
	idem map[string]string
	// rrPos 租户轮转游标，跨 Claim 调用推进
	rrPos int
	seq   int64
}

// NewMemoryStore 创建内存 Store
func NewMemoryStore(policy StorePolicy) Store {
	return &memoryStore{
		policy:   policy.withDefaults(),
		byID:     make(map[string]*Job),
		results:  make(map[string]*JobResult),
		attempts: make(map[string][]*JobAttempt),
		idem:     make(map[string]string),
	}
}

func idemKey(tenantID, jobType, key string) string {
	return tenantID + "\x00" + jobType + "\x00" + key
}

func (s *memoryStore) Enqueue(ctx context.Context, p EnqueueParams) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IdempotencyKey != "" {
		if existing, ok := s.idem[idemKey(p.TenantID, p.Type, p.IdempotencyKey)]; ok {
			cp := *s.byID[existing]
			return &cp, false, nil
		}
	}

	now := time.Now()
	runAt := p.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.policy.DefaultMaxAttempts
	}
	s.seq++
	j := &Job{
		ID:             "job-" + uuid.New().String(),
		TenantID:       p.TenantID,
		Type:           p.Type,
		Payload:        append([]byte(nil), p.Payload...),
		IdempotencyKey: p.IdempotencyKey,
		Status:         StatusQueued,
		RunAt:          runAt,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		TraceID:        p.TraceID,
		CreatedAt:      now.Add(time.Duration(s.seq)), // 保证同毫秒入队的行仍有稳定次序
		UpdatedAt:      now,
	}
	s.byID[j.ID] = j
	if p.IdempotencyKey != "" {
		s.idem[idemKey(p.TenantID, p.Type, p.IdempotencyKey)] = j.ID
	}
	cp := *j
	return &cp, true, nil
}

func (s *memoryStore) ClaimJobs(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	// 每租户的可执行行，按 (run_at, created_at)
	eligible := make(map[string][]*Job)
	for _, j := range s.byID {
		if j.Status == StatusQueued && !j.RunAt.After(now) {
			eligible[j.TenantID] = append(eligible[j.TenantID], j)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	tenants := make([]string, 0, len(eligible))
	for t := range eligible {
		tenants = append(tenants, t)
		sort.Slice(eligible[t], func(a, b int) bool {
			ja, jb := eligible[t][a], eligible[t][b]
			if !ja.RunAt.Equal(jb.RunAt) {
				return ja.RunAt.Before(jb.RunAt)
			}
			return ja.CreatedAt.Before(jb.CreatedAt)
		})
	}
	sort.Strings(tenants)

	// 轮转起点跨调用推进，热租户无法独占认领窗口；
	// 首轮每租户限量 ceil(limit/#tenants)，余额按同一轮转顺序补齐
	quota := (limit + len(tenants) - 1) / len(tenants)
	var claimed []*Job
	start := s.rrPos % len(tenants)
	s.rrPos++
	taken := make(map[string]int, len(tenants))
	for pass := 0; len(claimed) < limit; pass++ {
		progress := false
		for i := 0; i < len(tenants) && len(claimed) < limit; i++ {
			t := tenants[(start+i)%len(tenants)]
			list := eligible[t]
			want := limit - len(claimed)
			if pass == 0 && want > quota {
				want = quota
			}
			for n := 0; n < want && taken[t] < len(list); n++ {
				j := list[taken[t]]
				taken[t]++
				s.claimLocked(j, workerID, now)
				cp := *j
				claimed = append(claimed, &cp)
				progress = true
			}
		}
		if !progress {
			break
		}
	}
	return claimed, nil
}

func (s *memoryStore) claimLocked(j *Job, workerID string, now time.Time) {
	exp := now.Add(s.policy.LeaseDuration)
	j.Status = StatusClaimed
	j.ClaimedBy = workerID
	j.LeaseExpiresAt = &exp
	j.Attempts++
	j.UpdatedAt = now
	s.attempts[j.ID] = append(s.attempts[j.ID], &JobAttempt{
		ID:        "att-" + uuid.New().String(),
		JobID:     j.ID,
		TenantID:  j.TenantID,
		AttemptNo: j.Attempts,
		WorkerID:  workerID,
		StartedAt: now,
	})
}

func (s *memoryStore) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status == StatusCancelled {
		return true, nil
	}
	if j.Status != StatusClaimed && j.Status != StatusRunning {
		return false, ErrNotOwner
	}
	if j.ClaimedBy != workerID {
		return false, ErrNotOwner
	}
	now := time.Now()
	if j.Status == StatusClaimed {
		j.Status = StatusRunning
	}
	exp := now.Add(s.policy.LeaseDuration)
	j.LeaseExpiresAt = &exp
	j.UpdatedAt = now
	return false, nil
}

func (s *memoryStore) Complete(ctx context.Context, p CompleteParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[p.JobID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status.Terminal() {
		return nil, ErrInvalidState
	}
	if j.ClaimedBy != p.WorkerID {
		return nil, ErrNotOwner
	}
	now := time.Now()
	switch p.Status {
	case StatusSucceeded:
		j.Status = StatusSucceeded
		j.LastError = nil
		j.ClaimedBy = ""
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		s.putResultLocked(j, StatusSucceeded, p, now)
		s.closeAttemptLocked(j.ID, j.Attempts, OutcomeSucceeded, now)
	case StatusFailed:
		retryable := p.Error != nil && p.Error.Retryable
		if retryable && j.Attempts < j.MaxAttempts {
			j.Status = StatusQueued
			j.RunAt = now.Add(s.policy.Retry.Backoff(j.Attempts))
			j.LastError = p.Error
			j.ClaimedBy = ""
			j.LeaseExpiresAt = nil
			j.UpdatedAt = now
			s.closeAttemptLocked(j.ID, j.Attempts, OutcomeFailed, now)
		} else {
			j.Status = StatusDeadLettered
			j.LastError = p.Error
			j.ClaimedBy = ""
			j.LeaseExpiresAt = nil
			j.UpdatedAt = now
			s.putResultLocked(j, StatusFailed, p, now)
			s.closeAttemptLocked(j.ID, j.Attempts, OutcomeFailed, now)
		}
	default:
		return nil, ErrInvalidState
	}
	cp := *j
	return &cp, nil
}

func (s *memoryStore) putResultLocked(j *Job, status Status, p CompleteParams, now time.Time) {
	s.results[j.ID] = &JobResult{
		ID:          "res-" + uuid.New().String(),
		JobID:       j.ID,
		TenantID:    j.TenantID,
		Status:      status,
		Result:      append([]byte(nil), p.Result...),
		Error:       p.Error,
		ArtifactRef: p.ArtifactRef,
		CreatedAt:   now,
	}
}

func (s *memoryStore) closeAttemptLocked(jobID string, attemptNo int, outcome string, now time.Time) {
	for _, a := range s.attempts[jobID] {
		if a.AttemptNo == attemptNo && a.EndedAt == nil {
			a.EndedAt = &now
			a.Outcome = outcome
			return
		}
	}
}

func (s *memoryStore) Cancel(ctx context.Context, jobID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok || j.TenantID != tenantID {
		return ErrNotFound
	}
	switch j.Status {
	case StatusQueued, StatusClaimed, StatusRunning:
		now := time.Now()
		if j.Attempts > 0 {
			s.closeAttemptLocked(j.ID, j.Attempts, OutcomeCancelled, now)
		}
		j.Status = StatusCancelled
		j.ClaimedBy = ""
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		return nil
	default:
		return ErrInvalidState
	}
}

func (s *memoryStore) Reschedule(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok || j.TenantID != tenantID {
		return ErrNotFound
	}
	if j.Status != StatusQueued {
		return ErrInvalidState
	}
	j.RunAt = runAt
	j.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) ReapExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0
	for _, j := range s.byID {
		if j.Status != StatusClaimed && j.Status != StatusRunning {
			continue
		}
		if j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		s.closeAttemptLocked(j.ID, j.Attempts, OutcomeLostLease, now)
		// attempts 在 claim 时已计数，这里不再累加
		if j.Attempts >= j.MaxAttempts {
			j.Status = StatusDeadLettered
			j.LastError = &JobError{Code: "timeout", Message: "lease expired with attempts exhausted", Retryable: false}
		} else {
			j.Status = StatusQueued
		}
		j.ClaimedBy = ""
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		reaped++
	}
	return reaped, nil
}

func (s *memoryStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, j := range s.byID {
		if !j.Status.Terminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.byID, id)
		delete(s.results, id)
		delete(s.attempts, id)
		if j.IdempotencyKey != "" {
			delete(s.idem, idemKey(j.TenantID, j.Type, j.IdempotencyKey))
		}
		pruned++
	}
	return pruned, nil
}

func (s *memoryStore) Get(ctx context.Context, jobID, tenantID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok || (tenantID != "" && j.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memoryStore) GetResult(ctx context.Context, jobID, tenantID string) (*JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[jobID]
	if !ok || (tenantID != "" && r.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memoryStore) List(ctx context.Context, tenantID string, f ListFilters) ([]*Job, error) {
	f = f.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []*Job
	for _, j := range s.byID {
		if j.TenantID != tenantID {
			continue
		}
		if len(f.Status) > 0 && !statusIn(j.Status, f.Status) {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		rows = append(rows, j)
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].CreatedAt.Equal(rows[b].CreatedAt) {
			return strings.Compare(rows[a].ID, rows[b].ID) < 0
		}
		return rows[a].CreatedAt.After(rows[b].CreatedAt)
	})
	if f.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[f.Offset:]
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	out := make([]*Job, len(rows))
	for i, j := range rows {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

func (s *memoryStore) ListAttempts(ctx context.Context, jobID, tenantID string) ([]*JobAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byID[jobID]
	if !ok || (tenantID != "" && j.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	list := s.attempts[jobID]
	out := make([]*JobAttempt, len(list))
	for i, a := range list {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (s *memoryStore) QueueDepths(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int)
	for _, j := range s.byID {
		if j.Status == StatusQueued {
			depths[j.TenantID]++
		}
	}
	return depths, nil
}

func (s *memoryStore) Close() {}

func statusIn(s Status, list []Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
