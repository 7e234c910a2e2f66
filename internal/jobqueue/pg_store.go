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
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, tenant_id, type, payload, idempotency_key, status, run_at,
	attempts, max_attempts, last_error, claimed_by, lease_expires_at, trace_id,
	created_at, updated_at`

// pgStore PostgreSQL 实现：jobs / job_results / job_attempts 三张表，
// 认领用 FOR UPDATE SKIP LOCKED，幂等入队依赖 (tenant_id, type, idempotency_key) 唯一索引
type pgStore struct {
	pool   *pgxpool.Pool
	policy StorePolicy
	rrPos  atomic.Int64
}

// NewPostgresStore 创建基于 PostgreSQL 的 Store；dsn 为连接串
func NewPostgresStore(ctx context.Context, dsn string, policy StorePolicy) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool, policy: policy.withDefaults()}, nil
}

// NewPostgresStoreFromPool 复用既有连接池（API 与 Worker 同进程共享时用）
func NewPostgresStoreFromPool(pool *pgxpool.Pool, policy StorePolicy) Store {
	return &pgStore{pool: pool, policy: policy.withDefaults()}
}

// Close 关闭连接池
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Enqueue(ctx context.Context, p EnqueueParams) (*Job, bool, error) {
	now := time.Now()
	runAt := p.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.policy.DefaultMaxAttempts
	}
	payload := p.Payload
	if payload == nil {
		payload = []byte("null")
	}
	id := "job-" + uuid.New().String()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, tenant_id, type, payload, idempotency_key, status, run_at, attempts, max_attempts, trace_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, $9, $9)
		 RETURNING `+jobColumns,
		id, p.TenantID, p.Type, []byte(payload), nullStr(p.IdempotencyKey), runAt, maxAttempts, nullStr(p.TraceID), now)
	j, err := scanJob(row)
	if err != nil {
		if isUniqueViolation(err) {
			// 幂等键命中：既有行就是规范答案，调用方拿到相同的 id
			existing := s.pool.QueryRow(ctx,
				`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND type = $2 AND idempotency_key = $3`,
				p.TenantID, p.Type, p.IdempotencyKey)
			j, err = scanJob(existing)
			if err != nil {
				return nil, false, err
			}
			return j, false, nil
		}
		return nil, false, err
	}
	return j, true, nil
}

func (s *pgStore) ClaimJobs(ctx context.Context, workerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	rows, err := tx.Query(ctx,
		`SELECT DISTINCT tenant_id FROM jobs WHERE status = 'queued' AND run_at <= $1 ORDER BY tenant_id`, now)
	if err != nil {
		return nil, err
	}
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, err
		}
		tenants = append(tenants, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, nil
	}

	// 租户轮转 + 每租户配额，首轮限量、余额同序补齐
	quota := (limit + len(tenants) - 1) / len(tenants)
	start := int(s.rrPos.Add(1)-1) % len(tenants)
	expires := now.Add(s.policy.LeaseDuration)
	var claimed []*Job
	exhausted := make(map[string]bool, len(tenants))
	for pass := 0; len(claimed) < limit; pass++ {
		progress := false
		for i := 0; i < len(tenants) && len(claimed) < limit; i++ {
			t := tenants[(start+i)%len(tenants)]
			if exhausted[t] {
				continue
			}
			want := limit - len(claimed)
			if pass == 0 && want > quota {
				want = quota
			}
			batch, err := claimTenantBatch(ctx, tx, t, workerID, want, now, expires)
			if err != nil {
				return nil, err
			}
			if len(batch) < want {
				exhausted[t] = true
			}
			if len(batch) > 0 {
				claimed = append(claimed, batch...)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	for _, j := range claimed {
		_, err := tx.Exec(ctx,
			`INSERT INTO job_attempts (id, job_id, tenant_id, attempt_no, worker_id, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			"att-"+uuid.New().String(), j.ID, j.TenantID, j.Attempts, workerID, now)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func claimTenantBatch(ctx context.Context, tx pgx.Tx, tenantID, workerID string, limit int, now, expires time.Time) ([]*Job, error) {
	rows, err := tx.Query(ctx,
		`UPDATE jobs SET status = 'claimed', claimed_by = $1, lease_expires_at = $2, attempts = attempts + 1, updated_at = $3
		 WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued' AND run_at <= $3 AND tenant_id = $4
			ORDER BY run_at ASC, created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		workerID, expires, now, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batch []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, j)
	}
	return batch, rows.Err()
}

func (s *pgStore) Heartbeat(ctx context.Context, jobID, workerID string) (bool, error) {
	expires := time.Now().Add(s.policy.LeaseDuration)
	cmd, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = CASE WHEN status = 'claimed' THEN 'running' ELSE status END,
			lease_expires_at = $1, updated_at = now()
		 WHERE id = $2 AND claimed_by = $3 AND status IN ('claimed', 'running')`,
		expires, jobID, workerID)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() > 0 {
		return false, nil
	}
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		if errNoRows(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	if Status(status) == StatusCancelled {
		return true, nil
	}
	return false, ErrNotOwner
}

func (s *pgStore) Complete(ctx context.Context, p CompleteParams) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var tenantID, status string
	var claimedBy *string
	var attempts, maxAttempts int
	err = tx.QueryRow(ctx,
		`SELECT tenant_id, status, claimed_by, attempts, max_attempts FROM jobs WHERE id = $1 FOR UPDATE`,
		p.JobID).Scan(&tenantID, &status, &claimedBy, &attempts, &maxAttempts)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if Status(status).Terminal() {
		return nil, ErrInvalidState
	}
	if claimedBy == nil || *claimedBy != p.WorkerID {
		return nil, ErrNotOwner
	}

	now := time.Now()
	switch p.Status {
	case StatusSucceeded:
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = 'succeeded', last_error = NULL, claimed_by = NULL, lease_expires_at = NULL, updated_at = $2 WHERE id = $1`,
			p.JobID, now)
		if err != nil {
			return nil, err
		}
		if err := insertResult(ctx, tx, p.JobID, tenantID, StatusSucceeded, p, now); err != nil {
			return nil, err
		}
		if err := closeAttempt(ctx, tx, p.JobID, attempts, OutcomeSucceeded, now); err != nil {
			return nil, err
		}
	case StatusFailed:
		errJSON, merr := marshalJobError(p.Error)
		if merr != nil {
			return nil, merr
		}
		retryable := p.Error != nil && p.Error.Retryable
		if retryable && attempts < maxAttempts {
			runAt := now.Add(s.policy.Retry.Backoff(attempts))
			_, err = tx.Exec(ctx,
				`UPDATE jobs SET status = 'queued', run_at = $2, last_error = $3, claimed_by = NULL, lease_expires_at = NULL, updated_at = $4 WHERE id = $1`,
				p.JobID, runAt, errJSON, now)
			if err != nil {
				return nil, err
			}
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE jobs SET status = 'dead_lettered', last_error = $2, claimed_by = NULL, lease_expires_at = NULL, updated_at = $3 WHERE id = $1`,
				p.JobID, errJSON, now)
			if err != nil {
				return nil, err
			}
			if err := insertResult(ctx, tx, p.JobID, tenantID, StatusFailed, p, now); err != nil {
				return nil, err
			}
		}
		if err := closeAttempt(ctx, tx, p.JobID, attempts, OutcomeFailed, now); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidState
	}
	updated, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, p.JobID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func insertResult(ctx context.Context, tx pgx.Tx, jobID, tenantID string, status Status, p CompleteParams, now time.Time) error {
	errJSON, err := marshalJobError(p.Error)
	if err != nil {
		return err
	}
	result := p.Result
	if result == nil {
		result = []byte("null")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO job_results (id, job_id, tenant_id, status, result, error, artifact_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		"res-"+uuid.New().String(), jobID, tenantID, string(status), []byte(result), errJSON, nullStr(p.ArtifactRef), now)
	return err
}

func closeAttempt(ctx context.Context, tx pgx.Tx, jobID string, attemptNo int, outcome string, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE job_attempts SET ended_at = $1, outcome = $2 WHERE job_id = $3 AND attempt_no = $4 AND ended_at IS NULL`,
		now, outcome, jobID, attemptNo)
	return err
}

func (s *pgStore) Cancel(ctx context.Context, jobID, tenantID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var attempts int
	err = tx.QueryRow(ctx,
		`UPDATE jobs SET status = 'cancelled', claimed_by = NULL, lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('queued', 'claimed', 'running')
		 RETURNING attempts`,
		jobID, tenantID).Scan(&attempts)
	if err != nil {
		if errNoRows(err) {
			return s.stateErr(ctx, jobID, tenantID)
		}
		return err
	}
	if attempts > 0 {
		if err := closeAttempt(ctx, tx, jobID, attempts, OutcomeCancelled, time.Now()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *pgStore) Reschedule(ctx context.Context, jobID, tenantID string, runAt time.Time) error {
	cmd, err := s.pool.Exec(ctx,
		`UPDATE jobs SET run_at = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2 AND status = 'queued'`,
		jobID, tenantID, runAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.stateErr(ctx, jobID, tenantID)
	}
	return nil
}

// stateErr 更新未命中时区分 not found 与状态不允许
func (s *pgStore) stateErr(ctx context.Context, jobID, tenantID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND tenant_id = $2)`, jobID, tenantID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

func (s *pgStore) ReapExpired(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	deadErr, err := marshalJobError(&JobError{Code: "timeout", Message: "lease expired with attempts exhausted", Retryable: false})
	if err != nil {
		return 0, err
	}
	rows, err := tx.Query(ctx,
		`UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN 'dead_lettered' ELSE 'queued' END,
			last_error = CASE WHEN attempts >= max_attempts THEN $2 ELSE last_error END,
			claimed_by = NULL, lease_expires_at = NULL, updated_at = $1
		 WHERE status IN ('claimed', 'running') AND lease_expires_at < $1
		 RETURNING id, attempts`,
		now, deadErr)
	if err != nil {
		return 0, err
	}
	type reapedRow struct {
		id       string
		attempts int
	}
	var reaped []reapedRow
	for rows.Next() {
		var r reapedRow
		if err := rows.Scan(&r.id, &r.attempts); err != nil {
			rows.Close()
			return 0, err
		}
		reaped = append(reaped, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, r := range reaped {
		if err := closeAttempt(ctx, tx, r.id, r.attempts, OutcomeLostLease, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(reaped), nil
}

func (s *pgStore) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	const doomed = `SELECT id FROM jobs
		WHERE status IN ('succeeded', 'failed', 'cancelled', 'dead_lettered') AND updated_at < $1`
	if _, err := tx.Exec(ctx, `DELETE FROM job_results WHERE job_id IN (`+doomed+`)`, cutoff); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM job_attempts WHERE job_id IN (`+doomed+`)`, cutoff); err != nil {
		return 0, err
	}
	cmd, err := tx.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ('succeeded', 'failed', 'cancelled', 'dead_lettered') AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (s *pgStore) Get(ctx context.Context, jobID, tenantID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	args := []interface{}{jobID}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (s *pgStore) GetResult(ctx context.Context, jobID, tenantID string) (*JobResult, error) {
	query := `SELECT id, job_id, tenant_id, status, result, error, artifact_ref, created_at FROM job_results WHERE job_id = $1`
	args := []interface{}{jobID}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	var r JobResult
	var status string
	var result, errJSON []byte
	var artifactRef *string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&r.ID, &r.JobID, &r.TenantID, &status, &result, &errJSON, &artifactRef, &r.CreatedAt)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = Status(status)
	r.Result = result
	if len(errJSON) > 0 {
		var je JobError
		if err := json.Unmarshal(errJSON, &je); err == nil {
			r.Error = &je
		}
	}
	if artifactRef != nil {
		r.ArtifactRef = *artifactRef
	}
	return &r, nil
}

func (s *pgStore) List(ctx context.Context, tenantID string, f ListFilters) ([]*Job, error) {
	f = f.normalized()
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, st := range f.Status {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (s *pgStore) ListAttempts(ctx context.Context, jobID, tenantID string) ([]*JobAttempt, error) {
	if _, err := s.Get(ctx, jobID, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, tenant_id, attempt_no, worker_id, started_at, ended_at, outcome
		 FROM job_attempts WHERE job_id = $1 ORDER BY attempt_no`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*JobAttempt
	for rows.Next() {
		var a JobAttempt
		var outcome *string
		if err := rows.Scan(&a.ID, &a.JobID, &a.TenantID, &a.AttemptNo, &a.WorkerID, &a.StartedAt, &a.EndedAt, &outcome); err != nil {
			return nil, err
		}
		if outcome != nil {
			a.Outcome = *outcome
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (s *pgStore) QueueDepths(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, COUNT(*) FROM jobs WHERE status = 'queued' GROUP BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	depths := make(map[string]int)
	for rows.Next() {
		var tenant string
		var count int
		if err := rows.Scan(&tenant, &count); err != nil {
			return nil, err
		}
		depths[tenant] = count
	}
	return depths, rows.Err()
}

// scanJob 从一行扫出 Job；可空列走指针
func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var payload, lastErr []byte
	var idempotencyKey, claimedBy, traceID *string
	var status string
	err := row.Scan(&j.ID, &j.TenantID, &j.Type, &payload, &idempotencyKey, &status, &j.RunAt,
		&j.Attempts, &j.MaxAttempts, &lastErr, &claimedBy, &j.LeaseExpiresAt, &traceID,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	j.Status = Status(status)
	if idempotencyKey != nil {
		j.IdempotencyKey = *idempotencyKey
	}
	if claimedBy != nil {
		j.ClaimedBy = *claimedBy
	}
	if traceID != nil {
		j.TraceID = *traceID
	}
	if len(lastErr) > 0 {
		var je JobError
		if err := json.Unmarshal(lastErr, &je); err == nil {
			j.LastError = &je
		}
	}
	return &j, nil
}

func marshalJobError(je *JobError) ([]byte, error) {
	if je == nil {
		return nil, nil
	}
	return json.Marshal(je)
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func errNoRows(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}
