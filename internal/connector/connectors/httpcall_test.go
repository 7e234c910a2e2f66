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

	"github.com/go-resty/resty/v2"
)

// rewriteTransport 把请求改写到本地测试服务器；SSRF 防护只看 URL，
// 测试用公网域名过防护、用传输层落到 httptest
type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = rt.target
	return http.DefaultTransport.RoundTrip(clone)
}

func testClient(srv *httptest.Server) *resty.Client {
	return resty.New().SetTransport(rewriteTransport{target: srv.Listener.Addr().String()})
}

func TestHTTPRequest_Success(t *testing.T) {
	var gotMethod, gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotHeader = r.Method, r.URL.Path, r.Header.Get("X-Request-Source")
		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Set-Cookie", "session=secret")
		w.Header().Set("Authorization", "Bearer leaked")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"hello":"world"}`)
	}))
	defer srv.Close()

	fn := newHTTPRequest(testClient(srv), nil)
	out, serr := fn(context.Background(), map[string]any{
		"url":     "https://api.example.com/things",
		"headers": map[string]any{"X-Request-Source": "jobforge"},
	})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if gotMethod != "GET" || gotPath != "/things" || gotHeader != "jobforge" {
		t.Errorf("request seen by server: %s %s source=%q", gotMethod, gotPath, gotHeader)
	}
	if out["status"] != 200 || out["success"] != true {
		t.Errorf("status/success = %v/%v", out["status"], out["success"])
	}
	if out["response_body_preview"] != `{"hello":"world"}` {
		t.Errorf("preview = %v", out["response_body_preview"])
	}

	headers := out["response_headers"].(map[string]string)
	if headers["X-Upstream"] != "yes" {
		t.Errorf("upstream header missing: %v", headers)
	}
	for name := range headers {
		lower := strings.ToLower(name)
		if lower == "set-cookie" || lower == "authorization" {
			t.Errorf("sensitive header leaked: %s", name)
		}
	}
}

func TestHTTPRequest_PostJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	fn := newHTTPRequest(testClient(srv), nil)
	out, serr := fn(context.Background(), map[string]any{
		"url":    "https://api.example.com/things",
		"method": "post",
		"body":   map[string]any{"name": "forge"},
	})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if !strings.HasPrefix(gotContentType, "application/json") {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotBody["name"] != "forge" {
		t.Errorf("body seen by server: %v", gotBody)
	}
	if out["status"] != 201 || out["success"] != true {
		t.Errorf("status/success = %v/%v", out["status"], out["success"])
	}
}

func TestHTTPRequest_UpstreamErrorIsConnectorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fn := newHTTPRequest(testClient(srv), nil)
	out, serr := fn(context.Background(), map[string]any{"url": "https://api.example.com/busy"})
	if serr != nil {
		t.Fatalf("completed exchange must not be a connector failure: %v", serr)
	}
	if out["status"] != 503 || out["success"] != false {
		t.Errorf("status/success = %v/%v", out["status"], out["success"])
	}
}

func TestHTTPRequest_RedirectNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://10.0.0.1/steal", http.StatusFound)
	}))
	defer srv.Close()

	fn := newHTTPRequest(testClient(srv), nil)
	out, serr := fn(context.Background(), map[string]any{"url": "https://api.example.com/redirect"})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if out["status"] != 302 {
		t.Errorf("status = %v, want 302 (redirect must not be followed)", out["status"])
	}
}

func TestHTTPRequest_LargeBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("a", maxBodyPreview+10))
	}))
	defer srv.Close()

	fn := newHTTPRequest(testClient(srv), nil)
	out, serr := fn(context.Background(), map[string]any{"url": "https://api.example.com/blob"})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	preview := out["response_body_preview"].(string)
	if !strings.HasSuffix(preview, "... (truncated)") {
		t.Errorf("preview not truncated, len=%d", len(preview))
	}
	if len(preview) != maxBodyPreview+len("... (truncated)") {
		t.Errorf("preview length = %d", len(preview))
	}
}

func TestHTTPRequest_Validation(t *testing.T) {
	fn := NewHTTPRequest([]string{"example.com"})

	tests := []struct {
		name     string
		in       map[string]any
		wantCode int
	}{
		{name: "missing url", in: map[string]any{}, wantCode: 400},
		{name: "bad method", in: map[string]any{"url": "https://api.example.com", "method": "BREW"}, wantCode: 400},
		{name: "timeout too large", in: map[string]any{"url": "https://api.example.com", "timeout_ms": 300001}, wantCode: 400},
		{name: "blocked host", in: map[string]any{"url": "http://169.254.169.254/"}, wantCode: 403},
		{name: "allowlist miss", in: map[string]any{"url": "https://api.other.com/"}, wantCode: 403},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, serr := fn(context.Background(), tc.in)
			if serr == nil || serr.Code != tc.wantCode {
				t.Fatalf("error = %v, want code %d", serr, tc.wantCode)
			}
		})
	}
}
