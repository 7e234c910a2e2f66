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

package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"jobforge/pkg/auth"
)

// jwtIdentityKey JWT 校验通过后身份在 RequestContext 里的存放键
const jwtIdentityKey = "identity"

const (
	claimTenant = "tenant_id"
	claimActor  = "actor_id"
)

// Claims API 调用方身份；jwt 模式下来自令牌 claims
type Claims struct {
	TenantID string
	ActorID  string
}

// NewJWTAuth 构建 JWT 校验中间件。只做校验，不提供签发路由：
// 令牌由运维侧用共享密钥离线签发（claims 含 tenant_id / actor_id）。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	if timeout <= 0 {
		timeout = time.Hour
	}
	if maxRefresh <= 0 {
		maxRefresh = time.Hour
	}
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:         "jobforge",
		Key:           key,
		Timeout:       timeout,
		MaxRefresh:    maxRefresh,
		IdentityKey:   jwtIdentityKey,
		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			id := &Claims{}
			if v, ok := claims[claimTenant].(string); ok {
				id.TenantID = v
			}
			if v, ok := claims[claimActor].(string); ok {
				id.ActorID = v
			}
			return id
		},
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(*Claims); ok {
				return jwt.MapClaims{claimTenant: id.TenantID, claimActor: id.ActorID}
			}
			return jwt.MapClaims{}
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]any{
				"error": map[string]any{
					"code":      "policy_denied",
					"message":   message,
					"retryable": false,
					"trace_id":  auth.GetTraceID(ctx),
				},
			})
		},
	})
}

// Identity 把调用方身份绑定进请求上下文。jwt 模式下读取令牌身份；
// trustHeaders 仅在 auth=none 的本地部署下开启，信任 x-tenant-id / x-actor-id 头
func (m *Middleware) Identity(trustHeaders bool) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		var tenantID, actorID string
		if v, ok := c.Get(jwtIdentityKey); ok {
			if id, ok := v.(*Claims); ok {
				tenantID = id.TenantID
				actorID = id.ActorID
			}
		}
		if trustHeaders {
			if tenantID == "" {
				tenantID = string(c.GetHeader("x-tenant-id"))
			}
			if actorID == "" {
				actorID = string(c.GetHeader("x-actor-id"))
			}
		}
		if tenantID != "" {
			ctx = auth.WithTenantID(ctx, tenantID)
		}
		if actorID != "" {
			ctx = auth.WithActorID(ctx, actorID)
		}
		c.Next(ctx)
	}
}
