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
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobforge/internal/schema"
)

const templateColumns = `id, template_key, version, category, input_schema, output_schema,
	required_scopes, required_connectors, estimated_cost_tier, default_max_attempts,
	default_timeout_ms, is_action_job, enabled, created_at, updated_at`

// pgStore PostgreSQL 模板存储；input/output schema 以 JSONB 落库
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的模板存储
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

func (s *pgStore) Upsert(ctx context.Context, t *Template) (*Template, error) {
	inputSchema, err := marshalSchema(t.InputSchema)
	if err != nil {
		return nil, err
	}
	outputSchema, err := marshalSchema(t.OutputSchema)
	if err != nil {
		return nil, err
	}
	scopes := t.RequiredScopes
	if scopes == nil {
		scopes = []string{}
	}
	connectors := t.RequiredConnectors
	if connectors == nil {
		connectors = []string{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO templates (id, template_key, version, category, input_schema, output_schema,
		   required_scopes, required_connectors, estimated_cost_tier, default_max_attempts,
		   default_timeout_ms, is_action_job, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		 ON CONFLICT (template_key) DO UPDATE SET
		   version = EXCLUDED.version,
		   category = EXCLUDED.category,
		   input_schema = EXCLUDED.input_schema,
		   output_schema = EXCLUDED.output_schema,
		   required_scopes = EXCLUDED.required_scopes,
		   required_connectors = EXCLUDED.required_connectors,
		   estimated_cost_tier = EXCLUDED.estimated_cost_tier,
		   default_max_attempts = EXCLUDED.default_max_attempts,
		   default_timeout_ms = EXCLUDED.default_timeout_ms,
		   is_action_job = EXCLUDED.is_action_job,
		   enabled = EXCLUDED.enabled,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+templateColumns,
		t.ID, t.TemplateKey, t.Version, string(t.Category), inputSchema, outputSchema,
		scopes, connectors, string(t.EstimatedCostTier), t.DefaultMaxAttempts,
		t.DefaultTimeoutMS, t.IsActionJob, t.Enabled, t.UpdatedAt)
	return scanTemplate(row)
}

func (s *pgStore) GetByKey(ctx context.Context, key string) (*Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE template_key = $1`, key)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *pgStore) SetEnabled(ctx context.Context, key string, enabled bool, at time.Time) (*Template, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE templates SET enabled = $2, updated_at = $3 WHERE template_key = $1 RETURNING `+templateColumns,
		key, enabled, at)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *pgStore) List(ctx context.Context) ([]*Template, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY template_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var category, costTier string
	var inputSchema, outputSchema []byte
	err := row.Scan(&t.ID, &t.TemplateKey, &t.Version, &category, &inputSchema, &outputSchema,
		&t.RequiredScopes, &t.RequiredConnectors, &costTier, &t.DefaultMaxAttempts,
		&t.DefaultTimeoutMS, &t.IsActionJob, &t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Category = Category(category)
	t.EstimatedCostTier = CostTier(costTier)
	if t.InputSchema, err = unmarshalSchema(inputSchema); err != nil {
		return nil, err
	}
	if t.OutputSchema, err = unmarshalSchema(outputSchema); err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalSchema(s *schema.Schema) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func unmarshalSchema(b []byte) (*schema.Schema, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s schema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
