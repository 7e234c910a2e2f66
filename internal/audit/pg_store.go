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

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditColumns = `id, tenant_id, actor_id, action, subject_type, subject_id,
	trace_id, occurred_at, metadata`

// pgStore PostgreSQL 审计存储
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的审计存储
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

func (s *pgStore) Append(ctx context.Context, e *Entry) error {
	var metadata []byte
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metadata = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, tenant_id, actor_id, action, subject_type, subject_id, trace_id, occurred_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, nullStr(e.ActorID), string(e.Action), e.SubjectType, e.SubjectID,
		nullStr(e.TraceID), e.OccurredAt, metadata)
	return err
}

func (s *pgStore) List(ctx context.Context, tenantID string, f ListFilters) ([]*Entry, error) {
	f = f.normalized()
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE tenant_id = $1`
	args := []any{tenantID}
	n := 2
	if f.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", n)
		args = append(args, string(f.Action))
		n++
	}
	if !f.From.IsZero() {
		query += fmt.Sprintf(" AND occurred_at >= $%d", n)
		args = append(args, f.From)
		n++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(" AND occurred_at <= $%d", n)
		args = append(args, f.To)
		n++
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", n, n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var actorID, traceID *string
	var action string
	var metadata []byte
	err := row.Scan(&e.ID, &e.TenantID, &actorID, &action, &e.SubjectType, &e.SubjectID,
		&traceID, &e.OccurredAt, &metadata)
	if err != nil {
		return nil, err
	}
	e.Action = Action(action)
	if actorID != nil {
		e.ActorID = *actorID
	}
	if traceID != nil {
		e.TraceID = *traceID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
