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

// Package worker 装配 Worker 进程：连接器执行栈、Claim 循环与租约回收。
package worker

import (
	"context"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"jobforge/internal/app"
	"jobforge/internal/connector"
	"jobforge/internal/connector/connectors"
	"jobforge/internal/jobqueue"
	"jobforge/internal/worker"
	"jobforge/pkg/secrets"
	"jobforge/pkg/tracing"
)

// App Worker 应用（Claim 循环 + 连接器执行栈；由 cmd/worker 驱动）
type App struct {
	bootstrap *app.Bootstrap
	runner    *worker.Runner
	reaper    *jobqueue.Reaper
	tracer    *sdktrace.TracerProvider

	runCancel context.CancelFunc
}

// NewApp 创建 Worker 应用（由 cmd/worker 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Config == nil {
		return nil, fmt.Errorf("bootstrap 未初始化")
	}
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	secretStore, err := secrets.NewStore(secrets.Config{
		Provider:   cfg.Secrets.Provider,
		VaultAddr:  cfg.Secrets.VaultAddr,
		VaultToken: cfg.Secrets.VaultToken,
		PathPrefix: cfg.Secrets.PathPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Secret Store 失败: %w", err)
	}

	reg := connector.NewRegistry()
	if err := connectors.RegisterBuiltin(reg, connectors.Deps{
		Secrets:       secretStore,
		HostAllowlist: cfg.Connectors.HostAllowlist,
	}); err != nil {
		return nil, fmt.Errorf("注册内置连接器失败: %w", err)
	}

	limits := make(map[string]connector.LimitConfig, len(cfg.Connectors.RateLimits))
	for id, lc := range cfg.Connectors.RateLimits {
		limits[id] = connector.LimitConfig{QPS: lc.QPS, MaxConcurrent: lc.MaxConcurrent, Burst: lc.Burst}
	}
	harness := connector.NewHarness(reg, connector.NewRateLimiter(limits, nil), connector.Policy{
		MaxAttempts:       cfg.Connectors.MaxAttempts,
		AttemptTimeout:    app.Duration(cfg.Connectors.AttemptTimeout, 30*time.Second),
		BackoffBase:       app.Duration(cfg.Connectors.BackoffBase, 250*time.Millisecond),
		BackoffMultiplier: cfg.Connectors.BackoffFactor,
		BackoffCap:        app.Duration(cfg.Connectors.BackoffCap, 10*time.Second),
		RateLimitDelay:    app.Duration(cfg.Connectors.RateLimitDelay, time.Second),
	}, logger)

	// 任务类型未配置时接管全部内置连接器
	jobTypes := cfg.Worker.JobTypes
	if len(jobTypes) == 0 {
		jobTypes = []string{
			connectors.NameEcho,
			connectors.NameHTTPRequest,
			connectors.NameReportGenerate,
			connectors.NameWebhookDeliver,
		}
	}
	handlers := worker.NewRegistry()
	if err := worker.RegisterConnectors(handlers, harness, jobTypes, cfg.Worker.DryRun); err != nil {
		return nil, fmt.Errorf("注册任务处理器失败: %w", err)
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = worker.DefaultWorkerID()
	}
	runner := worker.NewRunner(
		workerID,
		bootstrap.Queue,
		handlers,
		app.Duration(cfg.Worker.PollInterval, 2*time.Second),
		app.Duration(cfg.Queue.LeaseDuration, 60*time.Second),
		cfg.Worker.ClaimLimit,
		cfg.Worker.Concurrency,
		logger,
	)
	if bootstrap.Manifests != nil {
		runner.SetManifestBuilder(bootstrap.Manifests)
	}

	a := &App{
		bootstrap: bootstrap,
		runner:    runner,
		reaper:    jobqueue.NewReaper(bootstrap.Queue.Store(), app.Duration(cfg.Queue.ReapInterval, 5*time.Second), logger),
	}
	logger.Info("Worker 已装配", "worker_id", workerID, "job_types", jobTypes, "dry_run", cfg.Worker.DryRun)
	return a, nil
}

// Start 启动 Claim 循环与租约回收；非阻塞
func (a *App) Start() error {
	cfg := a.bootstrap.Config
	logger := a.bootstrap.Logger
	logger.Info("启动 worker 应用")

	// 可选：启用链路追踪（OpenTelemetry）；失败只降级，不拦截启动
	if cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "jobforge-worker"
		}
		tp, err := tracing.InitTracer(context.Background(), tracing.Config{
			ServiceName:    serviceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			logger.Warn("初始化链路追踪失败，已跳过", "error", err)
		} else {
			a.tracer = tp
			logger.Info("链路追踪已启用", "service_name", serviceName)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	a.reaper.Start(ctx)
	a.runner.Start(ctx)

	logger.Info("worker 应用启动成功")
	return nil
}

// Shutdown 关闭应用：停止认领、等待在途任务收尾，再关追踪与存储
func (a *App) Shutdown(ctx context.Context) error {
	logger := a.bootstrap.Logger
	logger.Info("关闭 worker 应用")

	if a.runCancel != nil {
		a.runCancel()
	}
	a.runner.Stop()
	a.reaper.Stop()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Error("关闭链路追踪失败", "error", err)
		}
	}
	a.bootstrap.Close()

	logger.Info("worker 应用关闭成功")
	return nil
}
