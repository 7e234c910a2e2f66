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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, tenant_id, project_id, event_version, event_type, occurred_at,
	trace_id, source_app, source_module, subject_type, subject_id, payload,
	contains_pii, redaction_hints, processed, processing_job_id, created_at`

// pgStore PostgreSQL 事件存储；触发任务与事件行在同一事务内写入
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的事件存储
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
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
	return &pgStore{pool: pool}, nil
}

// NewPostgresStoreFromPool 复用既有连接池
func NewPostgresStoreFromPool(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// Close 关闭连接池
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Insert(ctx context.Context, ev *Event, trigger *TriggerJob) (*Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if trigger != nil {
		ev.ProcessingJobID = trigger.JobID
	}
	hints := ev.RedactionHints
	if hints == nil {
		hints = []string{}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, tenant_id, project_id, event_version, event_type, occurred_at,
		   trace_id, source_app, source_module, subject_type, subject_id, payload,
		   contains_pii, redaction_hints, processed, processing_job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, $15, $16)`,
		ev.ID, ev.TenantID, nullStr(ev.ProjectID), ev.EventVersion, ev.EventType, ev.OccurredAt,
		ev.TraceID, ev.SourceApp, nullStr(ev.SourceModule), nullStr(ev.SubjectType), nullStr(ev.SubjectID),
		[]byte(ev.Payload), ev.ContainsPII, hints, nullStr(ev.ProcessingJobID), ev.CreatedAt)
	if err != nil {
		return nil, err
	}

	if trigger != nil {
		maxAttempts := trigger.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 5
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO jobs (id, tenant_id, type, payload, idempotency_key, status, run_at, attempts, max_attempts, trace_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 'queued', $6, 0, $7, $8, $6, $6)`,
			trigger.JobID, ev.TenantID, trigger.Type, []byte(trigger.Payload), "event:"+ev.ID,
			ev.CreatedAt, maxAttempts, nullStr(ev.TraceID))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	cp := *ev
	return &cp, nil
}

func (s *pgStore) Get(ctx context.Context, id, tenantID string) (*Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	ev, err := scanEvent(row)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

func (s *pgStore) List(ctx context.Context, tenantID string, f ListFilters) ([]*Event, error) {
	f = f.normalized()
	query := `SELECT ` + eventColumns + ` FROM events WHERE tenant_id = $1`
	args := []any{tenantID}
	n := 2
	if f.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", n)
		args = append(args, f.EventType)
		n++
	}
	if f.SourceApp != "" {
		query += fmt.Sprintf(" AND source_app = $%d", n)
		args = append(args, f.SourceApp)
		n++
	}
	if f.Processed != nil {
		query += fmt.Sprintf(" AND processed = $%d", n)
		args = append(args, *f.Processed)
		n++
	}
	if !f.OccurredFrom.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", n)
		args = append(args, f.OccurredFrom)
		n++
	}
	if !f.OccurredTo.IsZero() {
		query += fmt.Sprintf(" AND occurred_at <= $%d", n)
		args = append(args, f.OccurredTo)
		n++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *pgStore) MarkProcessed(ctx context.Context, id, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET processed = TRUE WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) PruneProcessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	cmd, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE processed = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	var projectID, sourceModule, subjectType, subjectID, processingJobID *string
	err := row.Scan(&ev.ID, &ev.TenantID, &projectID, &ev.EventVersion, &ev.EventType, &ev.OccurredAt,
		&ev.TraceID, &ev.SourceApp, &sourceModule, &subjectType, &subjectID, &ev.Payload,
		&ev.ContainsPII, &ev.RedactionHints, &ev.Processed, &processingJobID, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	if projectID != nil {
		ev.ProjectID = *projectID
	}
	if sourceModule != nil {
		ev.SourceModule = *sourceModule
	}
	if subjectType != nil {
		ev.SubjectType = *subjectType
	}
	if subjectID != nil {
		ev.SubjectID = *subjectID
	}
	if processingJobID != nil {
		ev.ProcessingJobID = *processingJobID
	}
	return &ev, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func errNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
