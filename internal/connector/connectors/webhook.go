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
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"jobforge/internal/connector"
	"jobforge/pkg/secrets"
)

// responsePreviewLimit webhook 响应预览上限
const responsePreviewLimit = 500

type webhookPayload struct {
	TargetURL     string `json:"target_url"`
	EventType     string `json:"event_type"`
	EventID       string `json:"event_id"`
	Data          any    `json:"data"`
	SecretRef     string `json:"secret_ref"`
	Secret        string `json:"secret"`
	SignatureAlgo string `json:"signature_algo"`
	TimeoutMS     int    `json:"timeout_ms"`
}

// webhookBody 投递体；字段顺序即序列化顺序，签名覆盖整个序列化结果
type webhookBody struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// NewWebhookDeliver 构造 webhook_deliver 连接器。目标受 SSRF 防护约束；
// 配置了密钥时在 X-JobForge-Signature 头携带 HMAC 签名。上游非 2xx 应答
// 以对应状态码报告给 harness：429/5xx 会被重试，其余 4xx 终止。
func NewWebhookDeliver(store secrets.Store, allowlist []string) connector.Func {
	return newWebhookDeliver(resty.New(), store, allowlist)
}

func newWebhookDeliver(client *resty.Client, store secrets.Store, allowlist []string) connector.Func {
	return func(ctx context.Context, in map[string]any) (map[string]any, *connector.StatusError) {
		var p webhookPayload
		if serr := decode(in, &p); serr != nil {
			return nil, serr
		}
		if p.TargetURL == "" {
			return nil, badRequest("target_url is required")
		}
		if p.EventType == "" {
			return nil, badRequest("event_type is required")
		}
		if p.EventID == "" {
			return nil, badRequest("event_id is required")
		}
		if _, ok := in["data"]; !ok {
			return nil, badRequest("data is required")
		}
		algo := p.SignatureAlgo
		if algo == "" {
			algo = "sha256"
		}
		if algo != "sha256" && algo != "sha512" {
			return nil, badRequest("signature_algo must be sha256 or sha512")
		}
		if p.TimeoutMS == 0 {
			p.TimeoutMS = 10000
		}
		if p.TimeoutMS < 1 || p.TimeoutMS > 60000 {
			return nil, badRequest("timeout_ms must be within [1, 60000]")
		}

		if err := ValidateTarget(p.TargetURL, allowlist); err != nil {
			return nil, &connector.StatusError{Code: 403, Message: err.Error()}
		}

		timestamp := time.Now().UTC().Format(time.RFC3339)
		body, err := json.Marshal(webhookBody{
			EventType: p.EventType,
			EventID:   p.EventID,
			Timestamp: timestamp,
			Data:      p.Data,
		})
		if err != nil {
			return nil, badRequest("data is not serializable: " + err.Error())
		}

		attempt := connector.AttemptFrom(ctx)
		headers := map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   "JobForge-Webhook/1.0",
		}
		headers["X-JobForge-Event"] = p.EventType
		headers["X-JobForge-Event-ID"] = p.EventID
		headers["X-JobForge-Timestamp"] = timestamp
		headers["X-JobForge-Delivery-Attempt"] = strconv.Itoa(attempt)

		signature := ""
		secret, serr := resolveSecret(ctx, store, p.SecretRef, p.Secret)
		if serr != nil {
			return nil, serr
		}
		if secret != "" {
			signature = signPayload(body, secret, algo)
			headers["X-JobForge-Signature"] = algo + "=" + signature
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		resp, err := client.R().
			SetContext(callCtx).
			SetHeaders(headers).
			SetBody(body).
			Post(p.TargetURL)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
				return nil, &connector.StatusError{Code: 504, Message: "delivery timed out: " + err.Error()}
			}
			return nil, &connector.StatusError{Code: 502, Message: "delivery failed: " + err.Error()}
		}

		out := map[string]any{
			"delivered":        resp.IsSuccess(),
			"status":           resp.StatusCode(),
			"signature":        signature,
			"duration_ms":      resp.Time().Milliseconds(),
			"response_preview": bodyPreview(resp.Body(), responsePreviewLimit),
			"attempt_context":  map[string]any{"attempt": attempt, "timestamp": timestamp},
		}
		if !resp.IsSuccess() {
			serr := &connector.StatusError{
				Code:    resp.StatusCode(),
				Message: fmt.Sprintf("target responded %d", resp.StatusCode()),
			}
			if resp.StatusCode() == 429 {
				if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
					serr.RetryAfter = time.Duration(secs) * time.Second
				}
			}
			return out, serr
		}
		return out, nil
	}
}

// resolveSecret secret_ref 优先走 secret store，其次取内联值；都没有则不签名
func resolveSecret(ctx context.Context, store secrets.Store, ref, inline string) (string, *connector.StatusError) {
	if ref != "" {
		secret, err := store.Get(ctx, ref)
		if err != nil {
			return "", badRequest("secret not found: " + ref)
		}
		return secret, nil
	}
	return inline, nil
}

func signPayload(body []byte, secret, algo string) string {
	var mac hash.Hash
	if algo == "sha512" {
		mac = hmac.New(sha512.New, []byte(secret))
	} else {
		mac = hmac.New(sha256.New, []byte(secret))
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
