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

// Package app 进程装配：配置 → 日志 → 存储 → 服务，供 api 与 worker 复用，
// 避免在 cmd 内写业务初始化。
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobforge/internal/audit"
	"jobforge/internal/eventstore"
	"jobforge/internal/jobqueue"
	"jobforge/internal/manifest"
	"jobforge/internal/policy"
	"jobforge/internal/schema"
	"jobforge/internal/template"
	"jobforge/pkg/config"
	"jobforge/pkg/log"
)

// Version 进程版本；写入运行清单的 tool_versions
const Version = "0.1.0"

// Bootstrap 进程级共享状态。服务字段按 Features 装配：
// 关闭的特性留 nil，API 层据此回 feature_disabled。
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger
	// Pool store.type=postgres 时非 nil，所有存储共享同一连接池
	Pool *pgxpool.Pool

	Queue     *jobqueue.Service
	Events    *eventstore.Service // features.events
	Templates *template.Compiler  // features.autopilot
	Gate      *policy.Gate
	Audit     *audit.Writer
	Manifests *manifest.Builder // features.manifests

	// 裸存储句柄：租约回收与保留清扫直接走存储层，不经服务层
	QueueStore  jobqueue.Store
	EventStore  eventstore.Store
	PolicyStore policy.Store
}

// NewBootstrap 根据配置创建 Bootstrap；ctx 约束存储连接与探活
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	b := &Bootstrap{Config: cfg, Logger: logger}

	queuePolicy := jobqueue.StorePolicy{
		LeaseDuration:      Duration(cfg.Queue.LeaseDuration, 60*time.Second),
		DefaultMaxAttempts: cfg.Queue.MaxAttempts,
		Retry: jobqueue.RetryPolicy{
			Base:       Duration(cfg.Queue.BackoffBase, 30*time.Second),
			Multiplier: cfg.Queue.BackoffFactor,
			Cap:        Duration(cfg.Queue.BackoffCap, time.Hour),
		},
	}

	var (
		queueStore    jobqueue.Store
		eventStore    eventstore.Store
		templateStore template.Store
		policyStore   policy.Store
		auditStore    audit.Store
		manifestStore manifest.Store
	)
	switch cfg.Store.Type {
	case "", "memory":
		queueStore = jobqueue.NewMemoryStore(queuePolicy)
		eventStore = eventstore.NewMemoryStore(queueStore)
		templateStore = template.NewMemoryStore()
		policyStore = policy.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		manifestStore = manifest.NewMemoryStore()
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store.type=postgres 需要 store.dsn")
		}
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("解析数据库连接串失败: %w", err)
		}
		if cfg.Store.PoolSize > 0 {
			poolCfg.MaxConns = int32(cfg.Store.PoolSize)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("创建数据库连接池失败: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("数据库探活失败: %w", err)
		}
		b.Pool = pool
		queueStore = jobqueue.NewPostgresStoreFromPool(pool, queuePolicy)
		eventStore = eventstore.NewPostgresStoreFromPool(pool)
		templateStore = template.NewPostgresStoreFromPool(pool)
		policyStore = policy.NewPostgresStoreFromPool(pool)
		auditStore = audit.NewPostgresStoreFromPool(pool)
		manifestStore = manifest.NewPostgresStoreFromPool(pool)
		logger.Info("存储使用 PostgreSQL 后端", "pool_size", poolCfg.MaxConns)
	default:
		return nil, fmt.Errorf("未知的存储类型 %q", cfg.Store.Type)
	}
	b.QueueStore = queueStore
	b.EventStore = eventStore
	b.PolicyStore = policyStore

	schemas := schema.Builtin()
	b.Queue = jobqueue.NewService(queueStore, schemas, logger)

	// 审计关闭时 Writer 持 nil 存储：条目照常组装返回但不落库
	if !cfg.Features.Audit {
		auditStore = nil
	}
	b.Audit = audit.NewWriter(auditStore, logger)
	b.Gate = policy.NewGate(policyStore, b.Audit, logger)

	if cfg.Features.Events {
		deduper, err := eventstore.NewDeduper(ctx, cfg.Events.Dedupe)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("初始化事件去重失败: %w", err)
		}
		var triggers map[string]string
		if cfg.Features.Triggers {
			triggers = cfg.Events.Triggers
		}
		b.Events = eventstore.NewService(eventStore, schemas, deduper, triggers, logger)
	}

	if cfg.Features.Autopilot {
		b.Templates = template.NewCompiler(
			templateStore, b.Queue, b.Gate, b.Audit, cfg.Features.Actions, logger)
	}

	if cfg.Features.Manifests {
		b.Manifests = manifest.NewBuilder(manifestStore,
			map[string]string{"jobforge": Version}, logger)
	}

	return b, nil
}

// Close 释放进程级资源；memory 模式无资源可释放
func (b *Bootstrap) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// Duration 解析时长字符串，空串或无效时返回 fallback
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
