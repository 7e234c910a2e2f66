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

// Package client JobForge HTTP API 的 Go 客户端，供 CLI 与外部调用方使用。
// 错误信封被还原成 pkg/errors 的结构化错误，trace_id 经 x-trace-id 头全程传播。
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// Client JobForge API 客户端；并发安全，可跨 goroutine 复用
type Client struct {
	http *resty.Client
}

// Option 客户端可选配置
type Option func(*Client)

// WithTenant 设置默认租户头；网关未启用 JWT 时作为请求租户
func WithTenant(tenantID string) Option {
	return func(c *Client) { c.http.SetHeader("x-tenant-id", tenantID) }
}

// WithActor 设置操作者头，写入审计日志的 actor_id
func WithActor(actorID string) Option {
	return func(c *Client) { c.http.SetHeader("x-actor-id", actorID) }
}

// WithToken 设置 Bearer 令牌；网关启用 JWT 时必需
func WithToken(token string) Option {
	return func(c *Client) { c.http.SetAuthToken(token) }
}

// WithTimeout 覆盖默认 30s 请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New 创建客户端，baseURL 如 "http://localhost:8080"
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health 探测服务可用性
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.req(ctx).Get("/healthz")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// req 构造单次请求；ctx 携带 trace_id 时放入 x-trace-id 头
func (c *Client) req(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if tid := auth.GetTraceID(ctx); tid != "" {
		r.SetHeader("x-trace-id", tid)
	}
	return r
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	TraceID   string         `json:"trace_id"`
	Debug     map[string]any `json:"debug"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// apiError 把错误信封还原成结构化错误；信封不可解析时归为 internal
func apiError(resp *resty.Response) error {
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.Error.Code == "" {
		return jferrors.Ef(jferrors.KindInternal, "unexpected response %d: %s", resp.StatusCode(), resp.String())
	}
	traceID := env.Error.TraceID
	if traceID == "" {
		traceID = resp.Header().Get("x-trace-id")
	}
	return jferrors.E(jferrors.Kind(env.Error.Code), env.Error.Message).
		WithRetryable(env.Error.Retryable).
		WithTrace(traceID)
}
