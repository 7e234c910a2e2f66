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

package connectors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobforge/internal/connector"
	"jobforge/pkg/secrets"
)

func TestSignPayload_Deterministic(t *testing.T) {
	body := []byte(`{"event_id":"123"}`)
	first := signPayload(body, "top-secret", "sha256")
	if first != signPayload(body, "top-secret", "sha256") {
		t.Fatalf("signature must be deterministic")
	}
	if first == signPayload(body, "top-secret", "sha512") {
		t.Fatalf("sha256 and sha512 must differ")
	}
	if first == signPayload(body, "other", "sha256") {
		t.Fatalf("different secrets must differ")
	}
}

func TestWebhookDeliver_SignsAndDelivers(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	store := secrets.NewMemoryStore()
	if err := store.Set(context.Background(), "hook-secret", "secret-value"); err != nil {
		t.Fatalf("seed secret: %v", err)
	}

	fn := newWebhookDeliver(testClient(srv), store, nil)
	ctx := connector.WithAttempt(context.Background(), 2)
	out, serr := fn(ctx, map[string]any{
		"target_url": "https://hooks.example.com/jobforge",
		"event_type": "job.completed",
		"event_id":   "evt-123",
		"data":       map[string]any{"ok": true},
		"secret_ref": "hook-secret",
	})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if out["delivered"] != true || out["status"] != 200 {
		t.Fatalf("delivered/status = %v/%v", out["delivered"], out["status"])
	}

	wantSig := "sha256=" + signPayload(gotBody, "secret-value", "sha256")
	if got := gotHeaders.Get("X-JobForge-Signature"); got != wantSig {
		t.Errorf("signature header = %q, want %q", got, wantSig)
	}
	if got := gotHeaders.Get("X-JobForge-Delivery-Attempt"); got != "2" {
		t.Errorf("delivery attempt header = %q", got)
	}
	if got := gotHeaders.Get("X-JobForge-Event"); got != "job.completed" {
		t.Errorf("event header = %q", got)
	}
	if got := gotHeaders.Get("X-JobForge-Event-ID"); got != "evt-123" {
		t.Errorf("event id header = %q", got)
	}
	if _, err := time.Parse(time.RFC3339, gotHeaders.Get("X-JobForge-Timestamp")); err != nil {
		t.Errorf("timestamp header: %v", err)
	}

	var body struct {
		EventType string         `json:"event_type"`
		EventID   string         `json:"event_id"`
		Timestamp string         `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.EventType != "job.completed" || body.EventID != "evt-123" || body.Data["ok"] != true {
		t.Errorf("body = %+v", body)
	}
	if !strings.HasPrefix(string(gotBody), `{"event_type":`) {
		t.Errorf("field order changed, signature verification will break downstream: %s", gotBody)
	}
}

func TestWebhookDeliver_InlineSecretSHA512(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	fn := newWebhookDeliver(testClient(srv), secrets.NewMemoryStore(), nil)
	out, serr := fn(context.Background(), map[string]any{
		"target_url":     "https://hooks.example.com/jobforge",
		"event_type":     "job.failed",
		"event_id":       "evt-9",
		"data":           map[string]any{},
		"secret":         "inline-secret",
		"signature_algo": "sha512",
	})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	wantSig := "sha512=" + signPayload(gotBody, "inline-secret", "sha512")
	if got := gotHeaders.Get("X-JobForge-Signature"); got != wantSig {
		t.Errorf("signature header = %q, want %q", got, wantSig)
	}
	if out["signature"] == "" {
		t.Errorf("result must carry the signature")
	}
}

func TestWebhookDeliver_UnsignedWithoutSecret(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
	}))
	defer srv.Close()

	fn := newWebhookDeliver(testClient(srv), secrets.NewMemoryStore(), nil)
	out, serr := fn(context.Background(), map[string]any{
		"target_url": "https://hooks.example.com/jobforge",
		"event_type": "job.completed",
		"event_id":   "evt-1",
		"data":       map[string]any{"n": 1},
	})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if _, ok := gotHeaders["X-Jobforge-Signature"]; ok {
		t.Errorf("unsigned delivery must not carry a signature header")
	}
	if out["signature"] != "" {
		t.Errorf("signature = %v, want empty", out["signature"])
	}
}

func TestWebhookDeliver_MissingSecretRef(t *testing.T) {
	// 密钥解析失败在发起请求之前，连接器不产生网络调用
	fn := NewWebhookDeliver(secrets.NewMemoryStore(), nil)
	_, serr := fn(context.Background(), map[string]any{
		"target_url": "https://hooks.example.com/jobforge",
		"event_type": "job.completed",
		"event_id":   "evt-1",
		"data":       map[string]any{},
		"secret_ref": "nope",
	})
	if serr == nil || serr.Code != 400 {
		t.Fatalf("error = %v, want 400", serr)
	}
}

func TestWebhookDeliver_UpstreamStatusDrivesRetryClass(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	fn := newWebhookDeliver(testClient(srv), secrets.NewMemoryStore(), nil)
	in := map[string]any{
		"target_url": "https://hooks.example.com/jobforge",
		"event_type": "job.completed",
		"event_id":   "evt-1",
		"data":       map[string]any{},
	}

	out, serr := fn(context.Background(), in)
	if serr == nil || serr.Code != 500 {
		t.Fatalf("error = %v, want 500", serr)
	}
	if out == nil || out["delivered"] != false {
		t.Errorf("partial output = %v, want delivered=false", out)
	}

	status = http.StatusTooManyRequests
	_, serr = fn(context.Background(), in)
	if serr == nil || serr.Code != 429 {
		t.Fatalf("error = %v, want 429", serr)
	}
	if serr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v, want 7s", serr.RetryAfter)
	}
}

func TestWebhookDeliver_BlockedTarget(t *testing.T) {
	fn := NewWebhookDeliver(secrets.NewMemoryStore(), nil)
	_, serr := fn(context.Background(), map[string]any{
		"target_url": "http://localhost:9/x",
		"event_type": "job.completed",
		"event_id":   "evt-1",
		"data":       map[string]any{},
	})
	if serr == nil || serr.Code != 403 {
		t.Fatalf("error = %v, want 403", serr)
	}
}
