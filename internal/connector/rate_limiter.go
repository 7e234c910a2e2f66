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

package connector

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig 单个连接器的限流配置
type LimitConfig struct {
	QPS           float64 `mapstructure:"qps"`            // 每秒调用数上限
	MaxConcurrent int     `mapstructure:"max_concurrent"` // 最大并发数
	Burst         int     `mapstructure:"burst"`          // 令牌桶容量，默认为 QPS
}

// RateLimiter 连接器维度的限流器：QPS + 并发双重控制
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*connectorLimiter // connector id -> limiter
	defaults *LimitConfig
}

type connectorLimiter struct {
	rateLimiter *rate.Limiter
	semaphore   chan struct{}
	config      LimitConfig
}

// NewRateLimiter 创建连接器限流器；未配置的连接器使用 defaults
func NewRateLimiter(configs map[string]LimitConfig, defaults *LimitConfig) *RateLimiter {
	if defaults == nil {
		defaults = &LimitConfig{
			QPS:           100,
			MaxConcurrent: 10,
			Burst:         100,
		}
	}

	limiter := &RateLimiter{
		limiters: make(map[string]*connectorLimiter),
		defaults: defaults,
	}
	for id, config := range configs {
		limiter.addLimiter(id, config)
	}
	return limiter
}

func (l *RateLimiter) addLimiter(id string, config LimitConfig) {
	if config.Burst == 0 {
		config.Burst = int(config.QPS)
	}

	limiter := &connectorLimiter{config: config}
	if config.QPS > 0 {
		limiter.rateLimiter = rate.NewLimiter(rate.Limit(config.QPS), config.Burst)
	}
	if config.MaxConcurrent > 0 {
		limiter.semaphore = make(chan struct{}, config.MaxConcurrent)
	}

	l.mu.Lock()
	l.limiters[id] = limiter
	l.mu.Unlock()
}

// Wait 阻塞到可以执行：先过 QPS 令牌桶，再占并发槽
func (l *RateLimiter) Wait(ctx context.Context, id string) error {
	limiter := l.limiterFor(id)

	if limiter.rateLimiter != nil {
		if err := limiter.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	if limiter.semaphore != nil {
		select {
		case limiter.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 释放并发槽；与成功的 Wait 配对调用
func (l *RateLimiter) Release(id string) {
	l.mu.RLock()
	limiter, exists := l.limiters[id]
	l.mu.RUnlock()

	if exists && limiter.semaphore != nil {
		select {
		case <-limiter.semaphore:
		default:
			// semaphore 已空，无需释放
		}
	}
}

// Allow 非阻塞检查：QPS 与并发任一超限即返回 false
func (l *RateLimiter) Allow(id string) bool {
	limiter := l.limiterFor(id)

	if limiter.rateLimiter != nil && !limiter.rateLimiter.Allow() {
		return false
	}
	if limiter.semaphore != nil {
		select {
		case limiter.semaphore <- struct{}{}:
		default:
			return false
		}
	}
	return true
}

func (l *RateLimiter) limiterFor(id string) *connectorLimiter {
	l.mu.RLock()
	limiter, exists := l.limiters[id]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.addLimiter(id, *l.defaults)
	l.mu.RLock()
	limiter = l.limiters[id]
	l.mu.RUnlock()
	return limiter
}
