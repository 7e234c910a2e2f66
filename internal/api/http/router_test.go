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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"jobforge/internal/api/http/middleware"
	"jobforge/internal/audit"
	"jobforge/internal/eventstore"
	"jobforge/internal/jobqueue"
	"jobforge/internal/manifest"
	"jobforge/internal/policy"
	"jobforge/internal/schema"
	"jobforge/internal/template"
	"jobforge/pkg/config"
	"jobforge/pkg/log"
)

type testServices struct {
	queue     *jobqueue.Service
	events    *eventstore.Service
	templates *template.Compiler
	gate      *policy.Gate
	manifests *manifest.Builder
	audits    *audit.Writer
}

func buildRouterForTest(features config.Features) (*server.Hertz, *testServices) {
	qstore := jobqueue.NewMemoryStore(jobqueue.StorePolicy{
		LeaseDuration:      time.Minute,
		DefaultMaxAttempts: 3,
	})
	queue := jobqueue.NewService(qstore, schema.Builtin(), log.Discard())

	auditWriter := audit.NewWriter(audit.NewMemoryStore(), log.Discard())
	if !features.Audit {
		auditWriter = audit.NewWriter(nil, log.Discard())
	}
	gate := policy.NewGate(policy.NewMemoryStore(), auditWriter, log.Discard())
	compiler := template.NewCompiler(template.NewMemoryStore(), queue, gate, auditWriter, features.Actions, log.Discard())
	events := eventstore.NewService(
		eventstore.NewMemoryStore(qstore), schema.Builtin(),
		eventstore.NewMemoryDeduper(time.Minute), nil, log.Discard())
	manifests := manifest.NewBuilder(manifest.NewMemoryStore(), nil, log.Discard())

	h := NewHandler(queue, features, log.Discard())
	h.SetEventService(events)
	h.SetTemplateCompiler(compiler)
	h.SetPolicyGate(gate)
	h.SetManifestBuilder(manifests)
	h.SetAuditWriter(auditWriter)

	r := NewRouter(h, middleware.NewMiddleware())
	svc := &testServices{
		queue: queue, events: events, templates: compiler,
		gate: gate, manifests: manifests, audits: auditWriter,
	}
	return r.Build(":0"), svc
}

func allFeatures() config.Features {
	return config.Features{
		Events: true, Triggers: true, Autopilot: true,
		Actions: true, Manifests: true, Audit: true,
	}
}

func performJSON(t *testing.T, s *server.Hertz, method, path, tenant string, body any) *ut.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if tenant != "" {
		headers = append(headers, ut.Header{Key: "x-tenant-id", Value: tenant})
	}
	return ut.PerformRequest(s.Engine, method, path, &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}, headers...)
}

func decodeJSON(t *testing.T, w *ut.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Result().Body(), v); err != nil {
		t.Fatalf("decode response %s: %v", w.Result().Body(), err)
	}
}

type errorEnvelopeBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
		TraceID   string `json:"trace_id"`
	} `json:"error"`
}

func TestRouter_Healthz(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "GET", "/healthz", "", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /healthz status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"ok"`)) {
		t.Fatalf("healthz body = %s, want status ok", w.Result().Body())
	}
}

func TestRouter_MetricsExposition(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "GET", "/metrics", "", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /metrics status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte("jobforge_")) {
		t.Fatalf("metrics exposition missing jobforge_ collectors: %.200s", w.Result().Body())
	}
}

func TestRouter_JobLifecycle(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	w := performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", map[string]any{
		"tenant_id": "acme",
		"type":      "demo.echo",
		"payload":   map[string]any{"msg": "hi"},
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("enqueue status = %d, body=%s", got, w.Result().Body())
	}
	var job jobqueue.Job
	decodeJSON(t, w, &job)
	if job.ID == "" || job.Status != jobqueue.StatusQueued {
		t.Fatalf("enqueue returned job %+v, want queued row with id", job)
	}

	w = performJSON(t, s, "POST", "/api/v1/jobs/claim", "acme", map[string]any{
		"worker_id": "w1", "limit": 5,
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("claim status = %d, body=%s", got, w.Result().Body())
	}
	var claimed struct {
		Jobs []*jobqueue.Job `json:"jobs"`
	}
	decodeJSON(t, w, &claimed)
	if len(claimed.Jobs) != 1 || claimed.Jobs[0].ID != job.ID {
		t.Fatalf("claim returned %d jobs, want the enqueued one", len(claimed.Jobs))
	}

	w = performJSON(t, s, "POST", "/api/v1/jobs/"+job.ID+"/heartbeat", "acme", map[string]any{"worker_id": "w1"})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("heartbeat status = %d, body=%s", got, w.Result().Body())
	}
	var hb map[string]string
	decodeJSON(t, w, &hb)
	if hb["status"] != "ok" {
		t.Fatalf("heartbeat status = %q, want ok", hb["status"])
	}

	w = performJSON(t, s, "POST", "/api/v1/jobs/"+job.ID+"/complete", "acme", map[string]any{
		"worker_id": "w1", "status": "succeeded",
		"result": map[string]any{"echo": "hi"},
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("complete status = %d, body=%s", got, w.Result().Body())
	}

	w = performJSON(t, s, "GET", "/api/v1/jobs/"+job.ID+"?tenant_id=acme", "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("get job status = %d, body=%s", got, w.Result().Body())
	}
	var got jobqueue.Job
	decodeJSON(t, w, &got)
	if got.Status != jobqueue.StatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", got.Status)
	}

	w = performJSON(t, s, "GET", "/api/v1/jobs/"+job.ID+"/result", "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("get result status = %d, body=%s", got, w.Result().Body())
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"echo"`)) {
		t.Fatalf("result body = %s, want stored result", w.Result().Body())
	}

	w = performJSON(t, s, "GET", "/api/v1/jobs?tenant_id=acme&status=succeeded", "acme", nil)
	var list struct {
		Jobs  []*jobqueue.Job `json:"jobs"`
		Total int             `json:"total"`
	}
	decodeJSON(t, w, &list)
	if list.Total != 1 || len(list.Jobs) != 1 {
		t.Fatalf("list total = %d len = %d, want 1/1", list.Total, len(list.Jobs))
	}
}

func TestRouter_EnqueueIdempotency(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	body := map[string]any{
		"tenant_id":       "acme",
		"type":            "demo.echo",
		"payload":         map[string]any{"n": 1},
		"idempotency_key": "idem-1",
	}
	w := performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", body)
	var first jobqueue.Job
	decodeJSON(t, w, &first)

	w = performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", body)
	var second jobqueue.Job
	decodeJSON(t, w, &second)
	if first.ID != second.ID {
		t.Fatalf("idempotent enqueue returned distinct jobs: %s vs %s", first.ID, second.ID)
	}
}

func TestRouter_TenantMismatchRejected(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", map[string]any{
		"tenant_id": "umbrella",
		"type":      "demo.echo",
		"payload":   map[string]any{},
	})
	if got := w.Result().StatusCode(); got != 409 {
		t.Fatalf("cross-tenant enqueue status = %d, want 409", got)
	}
	var env errorEnvelopeBody
	decodeJSON(t, w, &env)
	if env.Error.Code != "not_owner" {
		t.Fatalf("error code = %q, want not_owner", env.Error.Code)
	}
}

func TestRouter_ErrorEnvelopeShape(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "GET", "/api/v1/jobs/job-missing", "acme", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("status = %d, want 404", got)
	}
	var env errorEnvelopeBody
	decodeJSON(t, w, &env)
	if env.Error.Code != "not_found" || env.Error.Message == "" {
		t.Fatalf("envelope = %+v, want populated not_found", env.Error)
	}
	if env.Error.Retryable {
		t.Fatal("not_found must not be retryable")
	}
	if env.Error.TraceID == "" {
		t.Fatal("error envelope missing trace_id")
	}
}

func TestRouter_TraceIDEchoedOnResponse(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	raw := []byte(`{}`)
	w := ut.PerformRequest(s.Engine, "GET", "/healthz",
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: "x-trace-id", Value: "trace-test-123"})
	if got := w.Result().Header.Get("x-trace-id"); got != "trace-test-123" {
		t.Fatalf("x-trace-id response header = %q, want echo of inbound value", got)
	}

	w = ut.PerformRequest(s.Engine, "GET", "/healthz", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if got := w.Result().Header.Get("x-trace-id"); got == "" {
		t.Fatal("x-trace-id response header missing when none supplied")
	}
}

func TestRouter_FeatureGates(t *testing.T) {
	s, _ := buildRouterForTest(config.Features{})

	cases := []struct {
		method, path string
		body         any
	}{
		{"POST", "/api/v1/events", map[string]any{}},
		{"GET", "/api/v1/events", nil},
		{"POST", "/api/v1/templates/request", map[string]any{"template_key": "x"}},
		{"GET", "/api/v1/runs/run-1/manifest", nil},
		{"GET", "/api/v1/runs/run-1/artifacts", nil},
	}
	for _, tc := range cases {
		w := performJSON(t, s, tc.method, tc.path, "acme", tc.body)
		if got := w.Result().StatusCode(); got != 403 {
			t.Fatalf("%s %s status = %d, want 403 when feature off", tc.method, tc.path, got)
		}
		var env errorEnvelopeBody
		decodeJSON(t, w, &env)
		if env.Error.Code != "feature_disabled" {
			t.Fatalf("%s %s error code = %q, want feature_disabled", tc.method, tc.path, env.Error.Code)
		}
	}

	// 审计读取在关闭时返回空集而非错误
	w := performJSON(t, s, "GET", "/api/v1/audit", "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /api/v1/audit status = %d, want 200 with audit off", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"entries":[]`)) {
		t.Fatalf("audit body = %s, want empty entries", w.Result().Body())
	}
}

func eventEnvelope(traceID string) map[string]any {
	return map[string]any{
		"event_version": 1,
		"event_type":    "invoice.created",
		"occurred_at":   time.Now().UTC().Format(time.RFC3339),
		"trace_id":      traceID,
		"source_app":    "billing",
		"subject_type":  "invoice",
		"subject_id":    "inv-9",
		"payload":       map[string]any{"total": 42},
	}
}

func TestRouter_EventSubmitDedupeAndAudit(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	w := performJSON(t, s, "POST", "/api/v1/events", "acme", eventEnvelope("trace-ev-1"))
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("submit status = %d, body=%s", got, w.Result().Body())
	}
	var first eventstore.Event
	decodeJSON(t, w, &first)
	if first.ID == "" {
		t.Fatal("submit returned event without id")
	}

	w = performJSON(t, s, "POST", "/api/v1/events", "acme", eventEnvelope("trace-ev-1"))
	var second eventstore.Event
	decodeJSON(t, w, &second)
	if second.ID != first.ID {
		t.Fatalf("duplicate submit returned %s, want original %s", second.ID, first.ID)
	}

	w = performJSON(t, s, "GET", "/api/v1/events?event_type=invoice.created", "acme", nil)
	var listed struct {
		Events []*eventstore.Event `json:"events"`
	}
	decodeJSON(t, w, &listed)
	if len(listed.Events) != 1 {
		t.Fatalf("listed %d events, want 1", len(listed.Events))
	}

	w = performJSON(t, s, "GET", "/api/v1/audit?action=event_submitted", "acme", nil)
	var audited struct {
		Entries []*audit.Entry `json:"entries"`
	}
	decodeJSON(t, w, &audited)
	if len(audited.Entries) != 2 {
		t.Fatalf("audited %d event_submitted entries, want 2 (one per submit)", len(audited.Entries))
	}
	if audited.Entries[0].SubjectID != first.ID {
		t.Fatalf("audit subject = %s, want event id %s", audited.Entries[0].SubjectID, first.ID)
	}
}

func TestRouter_EventValidationError(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "POST", "/api/v1/events", "acme", map[string]any{"event_type": "x"})
	if got := w.Result().StatusCode(); got != 400 {
		t.Fatalf("invalid envelope status = %d, want 400", got)
	}
	var env errorEnvelopeBody
	decodeJSON(t, w, &env)
	if env.Error.Code != "validation" {
		t.Fatalf("error code = %q, want validation", env.Error.Code)
	}
}

func putTestTemplate(t *testing.T, s *server.Hertz, key string) {
	t.Helper()
	w := performJSON(t, s, "PUT", "/api/v1/templates/"+key, "acme", map[string]any{
		"template_key": key,
		"version":      "1.0.0",
		"category":     "ops",
		"enabled":      true,
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("upsert template status = %d, body=%s", got, w.Result().Body())
	}
}

func TestRouter_TemplateRequestFlow(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	putTestTemplate(t, s, "ops.cleanup")

	w := performJSON(t, s, "POST", "/api/v1/templates/request", "acme", map[string]any{
		"tenant_id":    "acme",
		"template_key": "ops.cleanup",
		"inputs":       map[string]any{"days": 30},
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("request status = %d, body=%s", got, w.Result().Body())
	}
	var res template.RequestResult
	decodeJSON(t, w, &res)
	if res.Job == nil || res.Job.ID == "" || res.DryRun {
		t.Fatalf("request result = %+v, want enqueued job", res)
	}
	if res.AuditID == "" {
		t.Fatal("request result missing audit_id")
	}

	w = performJSON(t, s, "GET", "/api/v1/jobs/"+res.Job.ID, "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("requested job not visible: status %d", got)
	}
}

func TestRouter_TemplateDryRunEnqueuesNothing(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	putTestTemplate(t, s, "ops.cleanup")

	w := performJSON(t, s, "POST", "/api/v1/templates/request", "acme", map[string]any{
		"tenant_id":    "acme",
		"template_key": "ops.cleanup",
		"inputs":       map[string]any{},
		"dry_run":      true,
	})
	var res template.RequestResult
	decodeJSON(t, w, &res)
	if !res.DryRun || res.Job == nil || res.Job.ID != "" {
		t.Fatalf("dry run result = %+v, want synthetic row without id", res)
	}

	w = performJSON(t, s, "GET", "/api/v1/jobs?tenant_id=acme", "acme", nil)
	var list struct {
		Total int `json:"total"`
	}
	decodeJSON(t, w, &list)
	if list.Total != 0 {
		t.Fatalf("dry run enqueued %d jobs, want 0", list.Total)
	}
}

func TestRouter_TemplateEnableDisable(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	putTestTemplate(t, s, "ops.cleanup")

	w := performJSON(t, s, "POST", "/api/v1/templates/ops.cleanup/enabled", "acme", map[string]any{"enabled": false})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("disable status = %d, body=%s", got, w.Result().Body())
	}

	w = performJSON(t, s, "POST", "/api/v1/templates/request", "acme", map[string]any{
		"tenant_id":    "acme",
		"template_key": "ops.cleanup",
	})
	if got := w.Result().StatusCode(); got != 403 {
		t.Fatalf("request on disabled template status = %d, want 403", got)
	}
	var env errorEnvelopeBody
	decodeJSON(t, w, &env)
	if env.Error.Code != "template_disabled" {
		t.Fatalf("error code = %q, want template_disabled", env.Error.Code)
	}

	w = performJSON(t, s, "GET", "/api/v1/templates", "acme", nil)
	if !bytes.Contains(w.Result().Body(), []byte(`"ops.cleanup"`)) {
		t.Fatalf("template list = %s, want ops.cleanup present", w.Result().Body())
	}
}

func TestRouter_PolicyTokenIssue(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	w := performJSON(t, s, "POST", "/api/v1/policy/tokens", "acme", map[string]any{
		"tenant_id":  "acme",
		"scopes":     []string{"action:cleanup"},
		"ttl":        "15m",
		"single_use": true,
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("issue status = %d, body=%s", got, w.Result().Body())
	}
	var issued struct {
		ID        string   `json:"id"`
		Token     string   `json:"token"`
		Scopes    []string `json:"scopes"`
		SingleUse bool     `json:"single_use"`
	}
	decodeJSON(t, w, &issued)
	if issued.Token == "" || issued.ID == "" || !issued.SingleUse {
		t.Fatalf("issued = %+v, want token material in response", issued)
	}

	w = performJSON(t, s, "POST", "/api/v1/policy/tokens", "acme", map[string]any{
		"tenant_id": "acme",
		"scopes":    []string{},
	})
	if got := w.Result().StatusCode(); got != 400 {
		t.Fatalf("empty scopes status = %d, want 400", got)
	}
}

func TestRouter_ActionTemplateRequiresToken(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	w := performJSON(t, s, "PUT", "/api/v1/templates/ops.restart", "acme", map[string]any{
		"template_key":    "ops.restart",
		"version":         "1.0.0",
		"category":        "ops",
		"enabled":         true,
		"is_action_job":   true,
		"required_scopes": []string{"action:restart"},
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("upsert action template status = %d, body=%s", got, w.Result().Body())
	}

	w = performJSON(t, s, "POST", "/api/v1/templates/request", "acme", map[string]any{
		"tenant_id":    "acme",
		"template_key": "ops.restart",
	})
	if got := w.Result().StatusCode(); got != 403 {
		t.Fatalf("tokenless action request status = %d, want 403", got)
	}
	var env errorEnvelopeBody
	decodeJSON(t, w, &env)
	if env.Error.Code != "policy_denied" {
		t.Fatalf("error code = %q, want policy_denied", env.Error.Code)
	}

	// 有效令牌放行
	w = performJSON(t, s, "POST", "/api/v1/policy/tokens", "acme", map[string]any{
		"tenant_id": "acme",
		"scopes":    []string{"action:restart"},
	})
	var issued struct {
		Token string `json:"token"`
	}
	decodeJSON(t, w, &issued)

	w = performJSON(t, s, "POST", "/api/v1/templates/request", "acme", map[string]any{
		"tenant_id":    "acme",
		"template_key": "ops.restart",
		"policy_token": issued.Token,
	})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("tokened action request status = %d, body=%s", got, w.Result().Body())
	}
}

func TestRouter_ManifestEndpoints(t *testing.T) {
	s, svc := buildRouterForTest(allFeatures())

	if _, err := svc.manifests.BeginRun(context.Background(), "run-1", "acme", "demo.echo"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	w := performJSON(t, s, "GET", "/api/v1/runs/run-1/manifest", "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("manifest status = %d, body=%s", got, w.Result().Body())
	}
	var m manifest.Manifest
	decodeJSON(t, w, &m)
	if m.RunID != "run-1" || m.Status != manifest.StatusPending {
		t.Fatalf("manifest = %+v, want pending run-1", m)
	}

	w = performJSON(t, s, "GET", "/api/v1/runs/run-1/artifacts", "acme", nil)
	if !bytes.Contains(w.Result().Body(), []byte(`"outputs"`)) {
		t.Fatalf("artifacts body = %s, want outputs list", w.Result().Body())
	}

	w = performJSON(t, s, "GET", "/api/v1/runs/run-1/manifest", "umbrella", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("cross-tenant manifest status = %d, want 404", got)
	}
}

func TestRouter_CancelRecordsAudit(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	w := performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", map[string]any{
		"tenant_id": "acme", "type": "demo.echo", "payload": map[string]any{},
	})
	var job jobqueue.Job
	decodeJSON(t, w, &job)

	w = performJSON(t, s, "POST", "/api/v1/jobs/"+job.ID+"/cancel", "acme", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("cancel status = %d, body=%s", got, w.Result().Body())
	}

	w = performJSON(t, s, "GET", "/api/v1/audit?action=job_cancelled", "acme", nil)
	var audited struct {
		Entries []*audit.Entry `json:"entries"`
	}
	decodeJSON(t, w, &audited)
	if len(audited.Entries) != 1 || audited.Entries[0].SubjectID != job.ID {
		t.Fatalf("audit entries = %+v, want one job_cancelled for %s", audited.Entries, job.ID)
	}
}

func TestRouter_RateLimitEnvelope(t *testing.T) {
	qstore := jobqueue.NewMemoryStore(jobqueue.StorePolicy{LeaseDuration: time.Minute})
	queue := jobqueue.NewService(qstore, schema.Builtin(), log.Discard())
	h := NewHandler(queue, allFeatures(), log.Discard())
	r := NewRouter(h, middleware.NewMiddleware())
	r.SetRateLimit(1)
	s := r.Build(":0")

	sawLimited := false
	for i := 0; i < 5; i++ {
		w := performJSON(t, s, "GET", "/api/v1/jobs?tenant_id=acme", "acme", nil)
		if w.Result().StatusCode() == 429 {
			var env errorEnvelopeBody
			decodeJSON(t, w, &env)
			if env.Error.Code != "rate_limited" || !env.Error.Retryable {
				t.Fatalf("429 envelope = %+v, want retryable rate_limited", env.Error)
			}
			sawLimited = true
			break
		}
	}
	if !sawLimited {
		t.Fatal("burst of requests never hit the rate limit")
	}

	// 健康检查不参与限流
	for i := 0; i < 5; i++ {
		w := performJSON(t, s, "GET", "/healthz", "", nil)
		if got := w.Result().StatusCode(); got != 200 {
			t.Fatalf("healthz under burst status = %d, want 200", got)
		}
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())
	w := performJSON(t, s, "GET", "/api/v1/nope", "acme", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("unknown route status = %d, want 404", got)
	}
}

func TestRouter_ListJobsStatusFilterCSV(t *testing.T) {
	s, _ := buildRouterForTest(allFeatures())

	for i := 0; i < 3; i++ {
		performJSON(t, s, "POST", "/api/v1/jobs/enqueue", "acme", map[string]any{
			"tenant_id": "acme", "type": "demo.echo",
			"payload":         map[string]any{"n": i},
			"idempotency_key": fmt.Sprintf("k%d", i),
		})
	}
	performJSON(t, s, "POST", "/api/v1/jobs/claim", "acme", map[string]any{"worker_id": "w1", "limit": 1})

	w := performJSON(t, s, "GET", "/api/v1/jobs?tenant_id=acme&status=queued,claimed", "acme", nil)
	var list struct {
		Jobs  []*jobqueue.Job `json:"jobs"`
		Total int             `json:"total"`
	}
	decodeJSON(t, w, &list)
	if list.Total != 3 {
		t.Fatalf("queued+claimed total = %d, want 3", list.Total)
	}
	statuses := map[jobqueue.Status]int{}
	for _, j := range list.Jobs {
		statuses[j.Status]++
	}
	if statuses[jobqueue.StatusClaimed] != 1 || statuses[jobqueue.StatusQueued] != 2 {
		t.Fatalf("status split = %v, want 1 claimed / 2 queued", statuses)
	}
	if strings.Contains(string(w.Result().Body()), `"payload":null` ) {
		t.Fatalf("list rows must carry payloads: %s", w.Result().Body())
	}
}
