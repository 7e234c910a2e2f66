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

// Package api 装配 API 进程：HTTP 路由、中间件与后台循环（租约回收、保留清扫、队列深度上报）。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"jobforge/internal/api/http"
	"jobforge/internal/api/http/middleware"
	"jobforge/internal/app"
	"jobforge/internal/jobqueue"
	"jobforge/pkg/retention"
)

const queueDepthInterval = 15 * time.Second

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware 与后台循环；由 cmd/api 驱动）
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	reaper       *jobqueue.Reaper
	sweeper      *retention.Sweeper

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Config == nil {
		return nil, fmt.Errorf("bootstrap 未初始化")
	}
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	handler := http.NewHandler(bootstrap.Queue, cfg.Features, logger)
	if bootstrap.Events != nil {
		handler.SetEventService(bootstrap.Events)
	}
	if bootstrap.Templates != nil {
		handler.SetTemplateCompiler(bootstrap.Templates)
	}
	handler.SetPolicyGate(bootstrap.Gate)
	handler.SetAuditWriter(bootstrap.Audit)
	if bootstrap.Manifests != nil {
		handler.SetManifestBuilder(bootstrap.Manifests)
	}

	mw := middleware.NewMiddleware()
	router := http.NewRouter(handler, mw)

	// 认证失败即拒绝启动：带错误的 JWT 配置不允许退化成匿名放行
	if cfg.API.Middleware.Auth == "jwt" {
		if cfg.API.Middleware.JWTKey == "" {
			return nil, fmt.Errorf("认证模式为 jwt 但未配置 jwt_key")
		}
		timeout := app.Duration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := app.Duration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey), timeout, maxRefresh)
		if err != nil {
			return nil, fmt.Errorf("初始化 JWT 失败: %w", err)
		}
		router.SetJWT(jwtAuth)
		logger.Info("JWT 认证已启用")
	}
	if cfg.API.Middleware.RateLimit && cfg.API.Middleware.RateLimitRPS > 0 {
		router.SetRateLimit(cfg.API.Middleware.RateLimitRPS)
	}

	a := &App{
		bootstrap: bootstrap,
		router:    router,
		reaper:    jobqueue.NewReaper(bootstrap.Queue.Store(), app.Duration(cfg.Queue.ReapInterval, 5*time.Second), logger),
	}
	if cfg.Retention.Enable {
		a.sweeper = retention.NewSweeper(retention.Pruners{
			Jobs:   bootstrap.QueueStore,
			Events: bootstrap.EventStore,
			Tokens: bootstrap.PolicyStore,
		}, cfg.Retention.RetentionDays, app.Duration(cfg.Retention.ScanInterval, 24*time.Hour), logger)
		logger.Info("保留期清扫已启用", "retention_days", cfg.Retention.RetentionDays)
	}
	return a, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	logger := a.bootstrap.Logger
	logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	switch cfg.Log.Level {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "jobforge-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	a.reaper.Start(bgCtx)
	if a.sweeper != nil {
		a.sweeper.Start(bgCtx)
	}
	a.bgWG.Add(1)
	go a.reportQueueDepths(bgCtx)

	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.reaper.Stop()
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	a.bgWG.Wait()
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	a.bootstrap.Close()
	return nil
}

// reportQueueDepths 周期性上报各租户的待处理队列深度指标
func (a *App) reportQueueDepths(ctx context.Context) {
	defer a.bgWG.Done()
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.bootstrap.Queue.ReportQueueDepths(ctx); err != nil {
				a.bootstrap.Logger.DebugContext(ctx, "queue depth report failed", "error", err)
			}
		}
	}
}
