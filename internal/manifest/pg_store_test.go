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
	"errors"
	"os"
	"testing"
	"time"
)

func testManifestDSN(t *testing.T) string {
	dsn := os.Getenv("TEST_JOBFORGE_DSN")
	if dsn == "" {
		t.Skip("TEST_JOBFORGE_DSN not set, skipping Postgres manifest tests")
	}
	return dsn
}

func newTestPgStore(t *testing.T, ctx context.Context) (Store, func()) {
	t.Helper()
	store, err := NewPostgresStore(ctx, testManifestDSN(t))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	pg := store.(*pgStore)
	_, _ = pg.pool.Exec(ctx, `DELETE FROM manifests`)
	return store, func() { store.Close() }
}

func TestPgStore_PutRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestPgStore(t, ctx)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Microsecond)
	m := &Manifest{
		RunID:    "job-pg-1",
		TenantID: "t1",
		JobType:  "report_generate",
		Status:   StatusComplete,
		Outputs: []Output{
			{Name: "report", Type: "json", Ref: "reports/t1/job-pg-1.json", Size: 128, MimeType: "application/json"},
		},
		Metrics:        map[string]any{"duration_ms": float64(42)},
		EnvFingerprint: EnvFingerprint(),
		ToolVersions:   map[string]string{"go": "go1.24"},
		LogsRef:        "logs/t1/job-pg-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := store.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "job-pg-1", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusComplete || got.JobType != "report_generate" || got.LogsRef != "logs/t1/job-pg-1" {
		t.Errorf("round trip: %+v", got)
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Ref != "reports/t1/job-pg-1.json" {
		t.Errorf("outputs: %+v", got.Outputs)
	}
	if got.Metrics["duration_ms"] != float64(42) {
		t.Errorf("metrics: %v", got.Metrics)
	}

	if _, err := store.Get(ctx, "job-pg-1", "t2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant get: %v", err)
	}
}

func TestPgStore_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestPgStore(t, ctx)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Microsecond)
	pending := &Manifest{
		RunID: "job-pg-2", TenantID: "t1", JobType: "echo",
		Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := store.Put(ctx, pending); err != nil {
		t.Fatalf("pending Put: %v", err)
	}

	later := now.Add(time.Minute)
	final := &Manifest{
		RunID: "job-pg-2", TenantID: "t1", JobType: "echo",
		Status: StatusFailed, Error: &ErrorInfo{Code: "internal", Message: "boom"},
		CreatedAt: later, UpdatedAt: later,
	}
	saved, err := store.Put(ctx, final)
	if err != nil {
		t.Fatalf("final Put: %v", err)
	}
	if saved.Status != StatusFailed || saved.Error == nil || saved.Error.Message != "boom" {
		t.Errorf("final manifest: %+v", saved)
	}
	if !saved.CreatedAt.Equal(now) {
		t.Errorf("created_at must survive upsert: %v", saved.CreatedAt)
	}
	if !saved.UpdatedAt.Equal(later) {
		t.Errorf("updated_at: %v", saved.UpdatedAt)
	}

	// run_id is owned by the first tenant that wrote it
	foreign := &Manifest{
		RunID: "job-pg-2", TenantID: "t2", JobType: "echo",
		Status: StatusPending, CreatedAt: later, UpdatedAt: later,
	}
	if _, err := store.Put(ctx, foreign); !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("cross-tenant put: %v", err)
	}
}
