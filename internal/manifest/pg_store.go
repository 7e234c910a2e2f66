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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const manifestColumns = `run_id, tenant_id, job_type, status, outputs, metrics,
	env_fingerprint, tool_versions, inputs_snapshot_ref, logs_ref, error, created_at, updated_at`

// pgStore PostgreSQL 清单存储
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建基于 PostgreSQL 的清单存储
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

// Put 插入或覆盖清单；同 run_id 的覆盖仅在租户一致时生效，created_at 不变
func (s *pgStore) Put(ctx context.Context, m *Manifest) (*Manifest, error) {
	outputs, err := marshalJSON(m.Outputs)
	if err != nil {
		return nil, fmt.Errorf("marshal outputs: %w", err)
	}
	metrics, err := marshalJSON(m.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	tools, err := marshalJSON(m.ToolVersions)
	if err != nil {
		return nil, fmt.Errorf("marshal tool_versions: %w", err)
	}
	errInfo, err := marshalJSON(m.Error)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO manifests (run_id, tenant_id, job_type, status, outputs, metrics,
		   env_fingerprint, tool_versions, inputs_snapshot_ref, logs_ref, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (run_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   outputs = EXCLUDED.outputs,
		   metrics = EXCLUDED.metrics,
		   env_fingerprint = EXCLUDED.env_fingerprint,
		   tool_versions = EXCLUDED.tool_versions,
		   inputs_snapshot_ref = EXCLUDED.inputs_snapshot_ref,
		   logs_ref = EXCLUDED.logs_ref,
		   error = EXCLUDED.error,
		   updated_at = EXCLUDED.updated_at
		 WHERE manifests.tenant_id = EXCLUDED.tenant_id
		 RETURNING `+manifestColumns,
		m.RunID, m.TenantID, m.JobType, string(m.Status), outputs, metrics,
		nullStr(m.EnvFingerprint), tools, nullStr(m.InputsSnapshotRef), nullStr(m.LogsRef),
		errInfo, m.CreatedAt, m.UpdatedAt)

	saved, err := scanManifest(row)
	if err != nil {
		// 条件更新未命中：run_id 已存在且属于其他租户
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantMismatch
		}
		return nil, err
	}
	return saved, nil
}

func (s *pgStore) Get(ctx context.Context, runID, tenantID string) (*Manifest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+manifestColumns+` FROM manifests WHERE run_id = $1 AND tenant_id = $2`,
		runID, tenantID)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func scanManifest(row pgx.Row) (*Manifest, error) {
	var m Manifest
	var status string
	var outputs, metrics, tools, errInfo []byte
	var envFingerprint, inputsRef, logsRef *string
	err := row.Scan(&m.RunID, &m.TenantID, &m.JobType, &status, &outputs, &metrics,
		&envFingerprint, &tools, &inputsRef, &logsRef, &errInfo, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &m.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &m.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &m.ToolVersions); err != nil {
			return nil, fmt.Errorf("unmarshal tool_versions: %w", err)
		}
	}
	if len(errInfo) > 0 {
		if err := json.Unmarshal(errInfo, &m.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if envFingerprint != nil {
		m.EnvFingerprint = *envFingerprint
	}
	if inputsRef != nil {
		m.InputsSnapshotRef = *inputsRef
	}
	if logsRef != nil {
		m.LogsRef = *logsRef
	}
	return &m, nil
}

// marshalJSON 序列化 jsonb 列；nil 值落 NULL
func marshalJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case []Output:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case map[string]string:
		if x == nil {
			return nil, nil
		}
	case *ErrorInfo:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
