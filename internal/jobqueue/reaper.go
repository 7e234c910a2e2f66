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

package jobqueue

import (
	"context"
	"sync"
	"time"

	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
)

const defaultReapInterval = 5 * time.Second

// Reaper 租约回收：定期把过期租约的行放回队列（或死信），幂等且可多实例并发
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *log.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper 创建回收器；interval<=0 使用默认 5s
func NewReaper(store Store, interval time.Duration, logger *log.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动回收循环；ctx 取消或 Stop 调用时退出
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				reaped, err := r.store.ReapExpired(ctx)
				if err != nil {
					r.logger.ErrorContext(ctx, "lease reap failed", "error", err)
					continue
				}
				if reaped > 0 {
					metrics.LeasesReapedTotal.Add(float64(reaped))
					r.logger.InfoContext(ctx, "expired leases reaped", "count", reaped)
				}
			}
		}
	}()
}

// Stop 停止并等待循环退出
func (r *Reaper) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
