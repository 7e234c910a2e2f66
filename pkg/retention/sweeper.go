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

// Package retention 按保留期清扫历史数据：终态任务、已处理事件、过期令牌。
// 清扫器是系统中唯一的删行入口，其余路径只做状态迁移。
package retention

import (
	"context"
	"sync"
	"time"

	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
)

const (
	defaultRetentionDays = 90
	defaultScanInterval  = 24 * time.Hour
)

// JobPruner 任务面清扫入口
type JobPruner interface {
	// PruneTerminalBefore 删除 updated_at 早于 cutoff 的终态任务（连带结果与尝试记录）
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// EventPruner 事件面清扫入口
type EventPruner interface {
	// PruneProcessedBefore 删除 processed 且 created_at 早于 cutoff 的事件
	PruneProcessedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TokenPruner 策略令牌面清扫入口
type TokenPruner interface {
	// PruneExpiredBefore 删除 expires_at 早于 cutoff 的令牌
	PruneExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Pruners 各数据面的清扫入口；nil 字段跳过对应数据面
type Pruners struct {
	Jobs   JobPruner
	Events EventPruner
	Tokens TokenPruner
}

// Sweeper 定期按保留期删除过期数据。单面失败不影响其余面，下一轮重试。
type Sweeper struct {
	pruners  Pruners
	horizon  time.Duration
	interval time.Duration
	logger   *log.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper 创建清扫器；retentionDays<=0 取 90 天，scanInterval<=0 取 24h
func NewSweeper(p Pruners, retentionDays int, scanInterval time.Duration, logger *log.Logger) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if scanInterval <= 0 {
		scanInterval = defaultScanInterval
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Sweeper{
		pruners:  p,
		horizon:  time.Duration(retentionDays) * 24 * time.Hour,
		interval: scanInterval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动清扫循环；ctx 取消或 Stop 调用时退出
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx, time.Now())
			}
		}
	}()
}

// Stop 停止并等待循环退出
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SweepOnce 对所有数据面执行一轮清扫，cutoff 为 now 减保留期。
// 返回删除的总行数；单面失败只记日志，该面按 0 行计。
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.horizon)
	total := 0
	if s.pruners.Jobs != nil {
		total += s.sweep(ctx, "jobs", cutoff, s.pruners.Jobs.PruneTerminalBefore)
	}
	if s.pruners.Events != nil {
		total += s.sweep(ctx, "events", cutoff, s.pruners.Events.PruneProcessedBefore)
	}
	if s.pruners.Tokens != nil {
		total += s.sweep(ctx, "tokens", cutoff, s.pruners.Tokens.PruneExpiredBefore)
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "retention sweep finished",
			"cutoff", cutoff.Format(time.RFC3339), "rows", total)
	}
	return total
}

func (s *Sweeper) sweep(ctx context.Context, kind string, cutoff time.Time, prune func(context.Context, time.Time) (int, error)) int {
	n, err := prune(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention sweep failed", "kind", kind, "error", err)
		return 0
	}
	if n > 0 {
		metrics.RowsSweptTotal.WithLabelValues(kind).Add(float64(n))
	}
	return n
}
