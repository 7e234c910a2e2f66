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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"jobforge/internal/api/http/middleware"
)

// Router 路由装配器；JWT 与限流按配置可选
type Router struct {
	handler      *Handler
	mw           *middleware.Middleware
	jwt          *jwt.HertzJWTMiddleware
	rateLimitRPS int
}

// NewRouter 创建路由装配器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, mw: mw}
}

// SetJWT 启用 JWT 认证；启用后不再信任 x-tenant-id 头
func (r *Router) SetJWT(j *jwt.HertzJWTMiddleware) {
	r.jwt = j
}

// SetRateLimit 启用按调用方限流，rps<=0 表示关闭
func (r *Router) SetRateLimit(rps int) {
	r.rateLimitRPS = rps
}

// Build 构建 Hertz server 并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	options := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(options...)

	h.Use(r.mw.TraceID(), r.mw.Metrics(), r.mw.CORS())

	h.GET("/healthz", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)

	v1 := h.Group("/api/v1")
	if r.jwt != nil {
		v1.Use(r.jwt.MiddlewareFunc())
	}
	v1.Use(r.mw.Identity(r.jwt == nil))
	if r.rateLimitRPS > 0 {
		v1.Use(r.mw.RateLimit(r.rateLimitRPS))
	}

	jobs := v1.Group("/jobs")
	jobs.POST("/enqueue", r.handler.EnqueueJob)
	jobs.POST("/claim", r.handler.ClaimJobs)
	jobs.POST("/:id/heartbeat", r.handler.HeartbeatJob)
	jobs.POST("/:id/complete", r.handler.CompleteJob)
	jobs.POST("/:id/cancel", r.handler.CancelJob)
	jobs.POST("/:id/reschedule", r.handler.RescheduleJob)
	jobs.GET("", r.handler.ListJobs)
	jobs.GET("/:id", r.handler.GetJob)
	jobs.GET("/:id/result", r.handler.GetJobResult)

	events := v1.Group("/events")
	events.POST("", r.handler.SubmitEvent)
	events.GET("", r.handler.ListEvents)
	events.GET("/:id", r.handler.GetEvent)

	templates := v1.Group("/templates")
	templates.POST("/request", r.handler.RequestJob)
	templates.PUT("/:key", r.handler.UpsertTemplate)
	templates.POST("/:key/enabled", r.handler.SetTemplateEnabled)
	templates.GET("", r.handler.ListTemplates)
	templates.GET("/:key", r.handler.GetTemplate)

	v1.POST("/policy/tokens", r.handler.IssuePolicyToken)

	runs := v1.Group("/runs")
	runs.GET("/:id/manifest", r.handler.GetRunManifest)
	runs.GET("/:id/artifacts", r.handler.ListArtifacts)

	v1.GET("/audit", r.handler.ListAuditLog)

	return h
}
