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
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"jobforge/internal/connector"
)

// maxBodyPreview 响应体预览上限，超出部分截断
const maxBodyPreview = 1_000_000

var allowedMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {},
}

type httpRequestPayload struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	TimeoutMS     int               `json:"timeout_ms"`
	RedactHeaders []string          `json:"redact_headers"`
}

// NewHTTPRequest 构造 http_request 连接器。目标必须通过 SSRF 防护；
// 重定向不跟随，响应落在 3xx 本身。上游完成应答即视为连接器成功，
// success 字段反映上游状态；只有传输层失败才报 StatusError。
func NewHTTPRequest(allowlist []string) connector.Func {
	client := resty.New().
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	return newHTTPRequest(client, allowlist)
}

func newHTTPRequest(client *resty.Client, allowlist []string) connector.Func {
	return func(ctx context.Context, in map[string]any) (map[string]any, *connector.StatusError) {
		var p httpRequestPayload
		if serr := decode(in, &p); serr != nil {
			return nil, serr
		}
		if p.URL == "" {
			return nil, badRequest("url is required")
		}
		method := strings.ToUpper(p.Method)
		if method == "" {
			method = "GET"
		}
		if _, ok := allowedMethods[method]; !ok {
			return nil, badRequest("method must be one of GET, POST, PUT, PATCH, DELETE, HEAD")
		}
		if p.TimeoutMS == 0 {
			p.TimeoutMS = 30000
		}
		if p.TimeoutMS < 1 || p.TimeoutMS > 300000 {
			return nil, badRequest("timeout_ms must be within [1, 300000]")
		}
		redact := p.RedactHeaders
		if redact == nil {
			redact = []string{"authorization", "cookie", "set-cookie"}
		}

		if err := ValidateTarget(p.URL, allowlist); err != nil {
			return nil, &connector.StatusError{Code: 403, Message: err.Error()}
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		req := client.R().SetContext(callCtx).SetHeaders(p.Headers)
		if p.Body != nil && method != "GET" && method != "HEAD" {
			req.SetBody(p.Body)
		}

		resp, err := req.Execute(method, p.URL)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
				return nil, &connector.StatusError{Code: 504, Message: "request timed out: " + err.Error()}
			}
			return nil, &connector.StatusError{Code: 502, Message: "request failed: " + err.Error()}
		}

		return map[string]any{
			"status":                resp.StatusCode(),
			"duration_ms":           resp.Time().Milliseconds(),
			"response_headers":      redactHeaders(resp.Header(), redact),
			"response_body_preview": bodyPreview(resp.Body(), maxBodyPreview),
			"success":               resp.IsSuccess(),
		}, nil
	}
}

// redactHeaders 去掉命中脱敏名单的响应头；名单不区分大小写
func redactHeaders(h http.Header, redact []string) map[string]string {
	denied := make(map[string]struct{}, len(redact))
	for _, name := range redact {
		denied[strings.ToLower(name)] = struct{}{}
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, drop := denied[strings.ToLower(name)]; drop {
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func bodyPreview(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit]) + "... (truncated)"
	}
	return string(body)
}
