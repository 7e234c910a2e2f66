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
	"testing"
	"time"

	"jobforge/internal/schema"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

func newTestService() *Service {
	store := NewMemoryStore(StorePolicy{LeaseDuration: time.Minute})
	return NewService(store, schema.Builtin(), log.Discard())
}

func TestService_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Enqueue(ctx, EnqueueParams{Type: "echo", Payload: json.RawMessage(`{}`)})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("missing tenant: %v", err)
	}
	_, err = svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Payload: json.RawMessage(`{}`)})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("missing type: %v", err)
	}
	_, err = svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "echo", Payload: json.RawMessage(`{}`), MaxAttempts: 11})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("max_attempts out of range: %v", err)
	}
}

func TestService_EnqueueValidatesKnownConnectorPayload(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	// echo 有注册 schema：message 必填
	_, err := svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "echo", Payload: json.RawMessage(`{"delay_ms":5}`)})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Fatalf("invalid echo payload accepted: %v", err)
	}
	job, err := svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "echo", Payload: json.RawMessage(`{"message":"Hello","echo":true}`)})
	if err != nil {
		t.Fatalf("valid echo payload rejected: %v", err)
	}
	if job.Status != StatusQueued || job.Attempts != 0 {
		t.Errorf("fresh row: %+v", job)
	}

	// 未注册类型的 payload 对核心不透明，原样放行
	if _, err := svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "custom.type", Payload: json.RawMessage(`{"whatever":[1,2]}`)}); err != nil {
		t.Errorf("opaque payload rejected: %v", err)
	}
}

func TestService_TraceFlowsFromContext(t *testing.T) {
	svc := newTestService()
	ctx := auth.WithTraceID(context.Background(), "trace-abc")

	job, err := svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "custom", Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.TraceID != "trace-abc" {
		t.Errorf("trace not propagated: %q", job.TraceID)
	}

	_, err = svc.Get(ctx, "job-missing", "t1")
	e := jferrors.As(err)
	if e == nil || e.Kind != jferrors.KindNotFound || e.TraceID != "trace-abc" {
		t.Errorf("mapped error: %+v", e)
	}
}

func TestService_ClaimValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	if _, err := svc.Claim(ctx, "", 5); !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("empty worker: %v", err)
	}
	if _, err := svc.Claim(ctx, "w1", 500); !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("limit over cap: %v", err)
	}
	// limit<=0 退化为默认值
	if _, err := svc.Claim(ctx, "w1", 0); err != nil {
		t.Errorf("default limit: %v", err)
	}
}

func TestService_CompleteMapsSentinels(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	job, _ := svc.Enqueue(ctx, EnqueueParams{TenantID: "t1", Type: "custom", Payload: json.RawMessage(`{}`)})
	claimed, _ := svc.Claim(ctx, "w1", 1)
	if len(claimed) != 1 {
		t.Fatal("claim")
	}

	err := svc.Complete(ctx, CompleteParams{JobID: job.ID, WorkerID: "w2", Status: StatusSucceeded})
	if !jferrors.IsKind(err, jferrors.KindNotOwner) {
		t.Errorf("not owner: %v", err)
	}
	err = svc.Complete(ctx, CompleteParams{JobID: job.ID, WorkerID: "w1", Status: "half-done"})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("bad status: %v", err)
	}
	err = svc.Complete(ctx, CompleteParams{JobID: job.ID, WorkerID: "w1", Status: StatusFailed})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("failed without error: %v", err)
	}
	if err := svc.Complete(ctx, CompleteParams{JobID: job.ID, WorkerID: "w1", Status: StatusSucceeded}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	err = svc.Complete(ctx, CompleteParams{JobID: job.ID, WorkerID: "w1", Status: StatusSucceeded})
	if !jferrors.IsKind(err, jferrors.KindInvalidState) {
		t.Errorf("terminal: %v", err)
	}
	if err := svc.Cancel(ctx, "job-nope", "t1"); !jferrors.IsKind(err, jferrors.KindNotFound) {
		t.Errorf("cancel missing: %v", err)
	}
}

func TestService_ListValidatesStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	if _, err := svc.List(ctx, "t1", ListFilters{Status: []Status{"bogus"}}); !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("bogus status: %v", err)
	}
	if _, err := svc.List(ctx, "", ListFilters{}); !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Errorf("empty tenant: %v", err)
	}
}
