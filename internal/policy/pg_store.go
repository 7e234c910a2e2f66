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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore PostgreSQL 令牌存储；消费依赖 consumed_at IS NULL 条件更新保证原子性
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的令牌存储
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

func (s *pgStore) Insert(ctx context.Context, t *PolicyToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_tokens (id, token, tenant_id, scopes, issued_at, expires_at, single_use)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Token, t.TenantID, t.Scopes, t.IssuedAt, t.ExpiresAt, t.SingleUse)
	return err
}

func (s *pgStore) GetByToken(ctx context.Context, token string) (*PolicyToken, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, token, tenant_id, scopes, issued_at, expires_at, single_use, consumed_at
		 FROM policy_tokens WHERE token = $1`, token)
	var t PolicyToken
	err := row.Scan(&t.ID, &t.Token, &t.TenantID, &t.Scopes, &t.IssuedAt, &t.ExpiresAt, &t.SingleUse, &t.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *pgStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_tokens SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) PruneExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM policy_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
