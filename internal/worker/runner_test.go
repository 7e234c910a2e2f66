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

package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"jobforge/internal/connector"
	"jobforge/internal/connector/connectors"
	"jobforge/internal/jobqueue"
	"jobforge/internal/manifest"
	"jobforge/internal/schema"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

func newTestQueue(t *testing.T, lease time.Duration) *jobqueue.Service {
	t.Helper()
	store := jobqueue.NewMemoryStore(jobqueue.StorePolicy{
		LeaseDuration: lease,
		Retry:         jobqueue.RetryPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond},
	})
	return jobqueue.NewService(store, schema.Builtin(), log.Discard())
}

func newTestHarness(t *testing.T) *connector.Harness {
	t.Helper()
	reg := connector.NewRegistry()
	if err := connectors.RegisterBuiltin(reg, connectors.Deps{}); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}
	return connector.NewHarness(reg, nil, connector.Policy{}, log.Discard())
}

// waitForStatus 轮询任务直到进入期望状态
func waitForStatus(t *testing.T, queue *jobqueue.Service, jobID, tenantID string, want jobqueue.Status) *jobqueue.Job {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := queue.Get(ctx, jobID, tenantID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := queue.Get(ctx, jobID, tenantID)
	t.Fatalf("job never reached %s, last: %+v", want, j)
	return nil
}

func TestRunner_ExecutesConnectorJob(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()
	if err := RegisterConnectors(reg, newTestHarness(t), []string{connectors.NameEcho}, false); err != nil {
		t.Fatalf("RegisterConnectors: %v", err)
	}

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1",
		Type:     "echo",
		Payload:  json.RawMessage(`{"message":"Hello","echo":true}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 5*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusSucceeded)
	res, err := queue.GetResult(ctx, job.ID, "t1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(res.Result, &data); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if data["message"] != "Hello World!" {
		t.Errorf("echo output: %v", data)
	}
}

func TestRunner_RetryableFailureDeadLettersAfterBudget(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()

	var calls atomic.Int32
	err := reg.Register("flaky", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		calls.Add(1)
		return nil, jferrors.E(jferrors.KindInternal, "upstream down").WithRetryable(true)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID:    "t1",
		Type:        "flaky",
		Payload:     json.RawMessage(`{}`),
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	final := waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusDeadLettered)
	if final.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", final.Attempts)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
	res, err := queue.GetResult(ctx, job.ID, "t1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Status != jobqueue.StatusFailed || res.Error == nil || res.Error.Code != "internal" {
		t.Errorf("failure result: %+v", res)
	}
}

func TestRunner_NonRetryableFailureDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()
	_ = reg.Register("strict", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		return nil, jferrors.E(jferrors.KindValidation, "bad input")
	})

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1", Type: "strict", Payload: json.RawMessage(`{}`), MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	final := waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusDeadLettered)
	if final.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", final.Attempts)
	}
	if final.LastError == nil || final.LastError.Code != "validation" {
		t.Errorf("last error: %+v", final.LastError)
	}
}

func TestRunner_UnknownJobTypeFailsValidation(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1", Type: "nobody.handles.this", Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	final := waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusDeadLettered)
	if final.LastError == nil || final.LastError.Code != "validation" {
		t.Errorf("unknown type should dead letter with validation, got %+v", final.LastError)
	}
}

func TestRunner_PanicInHandlerBecomesInternalError(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()
	_ = reg.Register("boom", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		panic("kaboom")
	})

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1", Type: "boom", Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	final := waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusDeadLettered)
	if final.LastError == nil || final.LastError.Code != "internal" {
		t.Errorf("panic should surface as internal: %+v", final.LastError)
	}
}

func TestRunner_CancelStopsRunningJob(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, 50*time.Millisecond) // 心跳间隔 = 25ms，取消信号很快到达
	reg := NewRegistry()

	started := make(chan struct{})
	_ = reg.Register("slow", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1", Type: "slow", Payload: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, 50*time.Millisecond, 5, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	if err := queue.Cancel(ctx, job.ID, "t1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusCancelled)
	if final.Status != jobqueue.StatusCancelled {
		t.Fatalf("status = %s", final.Status)
	}
	// 取消后不落终局结果
	if _, err := queue.GetResult(ctx, job.ID, "t1"); !jferrors.IsKind(err, jferrors.KindNotFound) {
		t.Errorf("cancelled job should have no result: %v", err)
	}
}

func TestRunner_WritesRunManifest(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()
	if err := RegisterConnectors(reg, newTestHarness(t), []string{connectors.NameEcho}, false); err != nil {
		t.Fatalf("RegisterConnectors: %v", err)
	}
	builder := manifest.NewBuilder(manifest.NewMemoryStore(), map[string]string{"worker": "test"}, log.Discard())

	job, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1",
		Type:     "echo",
		Payload:  json.RawMessage(`{"message":"Hi"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.SetManifestBuilder(builder)
	r.Start(ctx)
	defer r.Stop()

	waitForStatus(t, queue, job.ID, "t1", jobqueue.StatusSucceeded)

	deadline := time.Now().Add(5 * time.Second)
	for {
		m, err := builder.GetRunManifest(ctx, job.ID, "t1")
		if err == nil && m.Status == manifest.StatusComplete {
			if len(m.Outputs) != 1 {
				t.Errorf("manifest outputs: %+v", m.Outputs)
			}
			if m.Metrics["attempt_no"] != 1 && m.Metrics["attempt_no"] != float64(1) {
				t.Errorf("manifest metrics: %+v", m.Metrics)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("manifest never completed: m=%+v err=%v", m, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_BackpressureBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()

	var running, peak atomic.Int32
	_ = reg.Register("busy", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return &Result{Data: map[string]any{"ok": true}}, nil
	})

	var jobs []*jobqueue.Job
	for i := 0; i < 6; i++ {
		j, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
			TenantID: "t1", Type: "busy", Payload: json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		jobs = append(jobs, j)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 10, 2, log.Discard())
	r.Start(ctx)
	defer r.Stop()

	for _, j := range jobs {
		waitForStatus(t, queue, j.ID, "t1", jobqueue.StatusSucceeded)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRunner_StopWaitsForInflightJobs(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, time.Minute)
	reg := NewRegistry()

	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	_ = reg.Register("linger", func(ctx context.Context, j *jobqueue.Job) (*Result, error) {
		close(started)
		<-release
		finished.Store(true)
		return &Result{Data: map[string]any{"done": true}}, nil
	})

	if _, err := queue.Enqueue(ctx, jobqueue.EnqueueParams{
		TenantID: "t1", Type: "linger", Payload: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	r := NewRunner("w-test", queue, reg, 2*time.Millisecond, time.Minute, 5, 2, log.Discard())
	r.Start(ctx)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned")
	}
	if !finished.Load() {
		t.Error("job did not finish before Stop returned")
	}
}

func TestDefaultWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "w-42")
	if got := DefaultWorkerID(); got != "w-42" {
		t.Errorf("env override: %q", got)
	}
	t.Setenv("WORKER_ID", "")
	if got := DefaultWorkerID(); got == "" {
		t.Error("fallback id is empty")
	}
}
