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

// Package middleware API 横切中间件：trace 传播、请求指标、CORS、限流、认证。
package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"jobforge/pkg/auth"
	"jobforge/pkg/metrics"
)

// Middleware 中间件管理器
type Middleware struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMiddleware 创建中间件管理器
func NewMiddleware() *Middleware {
	return &Middleware{limiters: make(map[string]*rate.Limiter)}
}

// TraceID 入站接受 x-trace-id，缺失或不合法时生成新的；
// 写回响应头并放入请求上下文供全链路使用
func (m *Middleware) TraceID() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		traceID := string(c.GetHeader("x-trace-id"))
		if !auth.ValidTraceID(traceID) {
			traceID = ""
		}
		if traceID == "" {
			traceID = auth.NewTraceID()
		}
		c.Response.Header.Set("x-trace-id", traceID)
		c.Next(auth.WithTraceID(ctx, traceID))
	}
}

// Metrics 按路由模板与状态码记录请求耗时
func (m *Middleware) Metrics() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		route := c.FullPath()
		if route == "" {
			route = string(c.Path())
		}
		metrics.APIRequestDuration.
			WithLabelValues(route, strconv.Itoa(c.Response.StatusCode())).
			Observe(time.Since(start).Seconds())
	}
}

// CORS CORS 中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Response.Header.Set("Access-Control-Allow-Origin", "*")
		c.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Response.Header.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, x-tenant-id, x-actor-id, x-trace-id")
		c.Response.Header.Set("Access-Control-Expose-Headers", "Content-Length, x-trace-id")
		c.Response.Header.Set("Access-Control-Max-Age", "86400")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 按调用方（已认证租户，否则客户端 IP）限流；超限返回统一错误信封
func (m *Middleware) RateLimit(rps int) app.HandlerFunc {
	if rps <= 0 {
		rps = 100
	}
	return func(ctx context.Context, c *app.RequestContext) {
		key := auth.GetTenantID(ctx)
		if key == "" {
			key = string(c.GetHeader("x-tenant-id"))
		}
		if key == "" {
			key = c.ClientIP()
		}
		if !m.limiter(key, rps).Allow() {
			c.JSON(consts.StatusTooManyRequests, map[string]any{
				"error": map[string]any{
					"code":      "rate_limited",
					"message":   "request rate limit exceeded",
					"retryable": true,
					"trace_id":  auth.GetTraceID(ctx),
				},
			})
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}

func (m *Middleware) limiter(key string, rps int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rps), rps)
		m.limiters[key] = l
	}
	return l
}
