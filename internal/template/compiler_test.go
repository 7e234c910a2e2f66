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
	"strings"
	"testing"
	"time"

	"jobforge/internal/audit"
	"jobforge/internal/jobqueue"
	"jobforge/internal/policy"
	"jobforge/internal/schema"
	jferrors "jobforge/pkg/errors"
)

type testEnv struct {
	compiler *Compiler
	queue    jobqueue.Store
	gate     *policy.Gate
	audit    *audit.Writer
}

func newTestEnv(t *testing.T, actionsEnabled bool) *testEnv {
	t.Helper()
	queueStore := jobqueue.NewMemoryStore(jobqueue.StorePolicy{})
	queueSvc := jobqueue.NewService(queueStore, schema.Builtin(), nil)
	auditWriter := audit.NewWriter(audit.NewMemoryStore(), nil)
	gate := policy.NewGate(policy.NewMemoryStore(), auditWriter, nil)
	compiler := NewCompiler(NewMemoryStore(), queueSvc, gate, auditWriter, actionsEnabled, nil)
	return &testEnv{compiler: compiler, queue: queueStore, gate: gate, audit: auditWriter}
}

func reportTemplate() *Template {
	return &Template{
		TemplateKey:        "report.weekly",
		Version:            "1.0.0",
		Category:           CategoryOps,
		EstimatedCostTier:  CostLow,
		DefaultMaxAttempts: 3,
		DefaultTimeoutMS:   30000,
		Enabled:            true,
	}
}

func TestRequestJob_CompilesAndEnqueues(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	tpl := reportTemplate()
	tpl.InputSchema = &schema.Schema{Fields: []schema.Field{
		{Name: "report_type", Type: schema.String, Required: true, Enum: []string{"usage-summary", "job-analytics"}},
		{Name: "window_days", Type: schema.Integer, Min: schema.MinOf(1), Max: schema.MaxOf(90)},
	}}
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	res, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "report.weekly",
		Inputs:      json.RawMessage(`{"report_type":"usage-summary","window_days":7}`),
		TraceID:     "trace-req-1",
	})
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if res.DryRun || res.Job.ID == "" {
		t.Fatalf("expected enqueued job: %+v", res)
	}
	if res.Job.Type != "report.weekly" || res.Job.MaxAttempts != 3 {
		t.Errorf("compiled job: type=%s max_attempts=%d", res.Job.Type, res.Job.MaxAttempts)
	}
	if res.TraceID != "trace-req-1" || res.Job.TraceID != "trace-req-1" {
		t.Errorf("trace: %s / %s", res.TraceID, res.Job.TraceID)
	}
	if res.AuditID == "" {
		t.Error("audit id missing")
	}

	// 同 trace 同 inputs 的重复请求命中幂等键，返回同一任务
	res2, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "report.weekly",
		Inputs:      json.RawMessage(`{"window_days":7,"report_type":"usage-summary"}`),
		TraceID:     "trace-req-1",
	})
	if err != nil {
		t.Fatalf("repeat RequestJob: %v", err)
	}
	if res2.Job.ID != res.Job.ID {
		t.Errorf("idempotency: %s vs %s", res2.Job.ID, res.Job.ID)
	}

	// 不同 trace 产生新任务
	res3, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "report.weekly",
		Inputs:      json.RawMessage(`{"report_type":"usage-summary","window_days":7}`),
		TraceID:     "trace-req-2",
	})
	if err != nil {
		t.Fatalf("third RequestJob: %v", err)
	}
	if res3.Job.ID == res.Job.ID {
		t.Error("distinct trace must produce a distinct job")
	}

	entries, _ := env.audit.List(ctx, "t1", audit.ListFilters{Action: audit.ActionJobRequested})
	if len(entries) != 3 {
		t.Errorf("job_requested audit entries: %d", len(entries))
	}
}

func TestRequestJob_TemplateGates(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	_, err := env.compiler.RequestJob(ctx, RequestParams{TenantID: "t1", TemplateKey: "nope"})
	if !jferrors.IsKind(err, jferrors.KindTemplateNotFound) {
		t.Errorf("missing template: %v", err)
	}

	tpl := reportTemplate()
	tpl.Enabled = false
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	_, err = env.compiler.RequestJob(ctx, RequestParams{TenantID: "t1", TemplateKey: "report.weekly"})
	if !jferrors.IsKind(err, jferrors.KindTemplateDisabled) {
		t.Errorf("disabled template: %v", err)
	}

	if _, err := env.compiler.SetTemplateEnabled(ctx, "t1", "report.weekly", true); err != nil {
		t.Fatalf("SetTemplateEnabled: %v", err)
	}
	if _, err = env.compiler.RequestJob(ctx, RequestParams{TenantID: "t1", TemplateKey: "report.weekly"}); err != nil {
		t.Errorf("enabled template: %v", err)
	}
}

func TestRequestJob_InputValidation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	tpl := reportTemplate()
	tpl.InputSchema = &schema.Schema{Fields: []schema.Field{
		{Name: "report_type", Type: schema.String, Required: true},
	}}
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	_, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "report.weekly",
		Inputs:      json.RawMessage(`{"report_type":7}`),
	})
	if !jferrors.IsKind(err, jferrors.KindValidation) {
		t.Fatalf("bad inputs: %v", err)
	}
	if !strings.Contains(err.Error(), "inputs.report_type") {
		t.Errorf("issue path: %v", err)
	}

	jobs, _ := env.queue.List(ctx, "t1", jobqueue.ListFilters{})
	if len(jobs) != 0 {
		t.Error("invalid inputs must not enqueue")
	}
}

func TestRequestJob_ActionDeniedWithoutToken(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	tpl := reportTemplate()
	tpl.TemplateKey = "autopilot.ops.apply"
	tpl.IsActionJob = true
	tpl.RequiredScopes = []string{"autopilot:apply"}
	tpl.InputSchema = nil
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	_, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "autopilot.ops.apply",
		Inputs:      json.RawMessage(`{"change":"scale-up"}`),
	})
	if !jferrors.IsKind(err, jferrors.KindPolicyDenied) {
		t.Fatalf("missing token: %v", err)
	}

	jobs, _ := env.queue.List(ctx, "t1", jobqueue.ListFilters{})
	if len(jobs) != 0 {
		t.Error("denied action job must never be enqueued")
	}
	denials, _ := env.audit.List(ctx, "t1", audit.ListFilters{Action: audit.ActionPolicyDenied})
	if len(denials) != 1 {
		t.Fatalf("policy_denied audit entries: %d", len(denials))
	}
	if denials[0].SubjectID != "autopilot.ops.apply" {
		t.Errorf("denial subject: %+v", denials[0])
	}
}

func TestRequestJob_ActionAllowedWithToken(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	tpl := reportTemplate()
	tpl.TemplateKey = "autopilot.ops.apply"
	tpl.IsActionJob = true
	tpl.RequiredScopes = []string{"autopilot:apply"}
	tpl.InputSchema = nil
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	tok, err := env.gate.IssueToken(ctx, policy.IssueParams{
		TenantID: "t1", Scopes: []string{"autopilot:apply"}, TTL: time.Minute, SingleUse: true,
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	res, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "autopilot.ops.apply",
		Inputs:      json.RawMessage(`{"change":"scale-up"}`),
		PolicyToken: tok.Token,
	})
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if res.Job.ID == "" {
		t.Fatal("action job not enqueued")
	}

	// 令牌已消费，重放被拒
	_, err = env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "autopilot.ops.apply",
		Inputs:      json.RawMessage(`{"change":"scale-up"}`),
		PolicyToken: tok.Token,
		TraceID:     "trace-replay",
	})
	if !jferrors.IsKind(err, jferrors.KindPolicyDenied) {
		t.Errorf("replayed token: %v", err)
	}
}

func TestRequestJob_ActionsFeatureDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	tpl := reportTemplate()
	tpl.TemplateKey = "autopilot.ops.apply"
	tpl.IsActionJob = true
	tpl.InputSchema = nil
	if _, err := env.compiler.UpsertTemplate(ctx, tpl); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	tok, err := env.gate.IssueToken(ctx, policy.IssueParams{TenantID: "t1", Scopes: []string{"x"}, TTL: time.Minute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	_, err = env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "autopilot.ops.apply",
		PolicyToken: tok.Token,
	})
	if !jferrors.IsKind(err, jferrors.KindFeatureDisabled) {
		t.Fatalf("actions disabled: %v", err)
	}
}

func TestRequestJob_DryRun(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if _, err := env.compiler.UpsertTemplate(ctx, reportTemplate()); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	res, err := env.compiler.RequestJob(ctx, RequestParams{
		TenantID:    "t1",
		TemplateKey: "report.weekly",
		Inputs:      json.RawMessage(`{}`),
		DryRun:      true,
	})
	if err != nil {
		t.Fatalf("RequestJob: %v", err)
	}
	if !res.DryRun || res.Job.ID != "" {
		t.Errorf("dry run must return a synthetic row: %+v", res.Job)
	}
	if res.TraceID == "" {
		t.Error("trace must be generated when absent")
	}

	jobs, _ := env.queue.List(ctx, "t1", jobqueue.ListFilters{})
	if len(jobs) != 0 {
		t.Error("dry run must not enqueue")
	}
}

func TestUpsertTemplate_Validation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Template)
	}{
		{"missing key", func(t *Template) { t.TemplateKey = "" }},
		{"bad version", func(t *Template) { t.Version = "v1" }},
		{"bad category", func(t *Template) { t.Category = "misc" }},
		{"bad cost tier", func(t *Template) { t.EstimatedCostTier = "huge" }},
		{"bad attempts", func(t *Template) { t.DefaultMaxAttempts = 11 }},
		{"bad timeout", func(t *Template) { t.DefaultTimeoutMS = -1 }},
	}
	for _, tc := range cases {
		tpl := reportTemplate()
		tc.mutate(tpl)
		if _, err := env.compiler.UpsertTemplate(ctx, tpl); !jferrors.IsKind(err, jferrors.KindValidation) {
			t.Errorf("%s: %v", tc.name, err)
		}
	}

	// upsert 保序：同 key 更新保留 id 与 created_at
	first, err := env.compiler.UpsertTemplate(ctx, reportTemplate())
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	update := reportTemplate()
	update.Version = "1.1.0"
	second, err := env.compiler.UpsertTemplate(ctx, update)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID || second.Version != "1.1.0" {
		t.Errorf("upsert identity: %+v", second)
	}

	all, err := env.compiler.ListTemplates(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListTemplates: %d %v", len(all), err)
	}
}

func TestSetTemplateEnabled_Audited(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if _, err := env.compiler.UpsertTemplate(ctx, reportTemplate()); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	if _, err := env.compiler.SetTemplateEnabled(ctx, "t-admin", "report.weekly", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := env.compiler.SetTemplateEnabled(ctx, "t-admin", "report.weekly", true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	disabled, _ := env.audit.List(ctx, "t-admin", audit.ListFilters{Action: audit.ActionTemplateDisabled})
	enabled, _ := env.audit.List(ctx, "t-admin", audit.ListFilters{Action: audit.ActionTemplateEnabled})
	if len(disabled) != 1 || len(enabled) != 1 {
		t.Errorf("lifecycle audit: disabled=%d enabled=%d", len(disabled), len(enabled))
	}

	if _, err := env.compiler.SetTemplateEnabled(ctx, "t-admin", "nope", true); !jferrors.IsKind(err, jferrors.KindTemplateNotFound) {
		t.Errorf("missing template: %v", err)
	}
}
