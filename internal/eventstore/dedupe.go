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

package eventstore

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"jobforge/pkg/canonical"
	"jobforge/pkg/config"
)

const (
	dedupeKeyPrefix  = "jobforge:event:dedupe:"
	defaultDedupeTTL = 10 * time.Minute
	maxMemoryEntries = 65536
)

// Deduper 事件去重器。Claim 以 (key, eventID) 原子登记：首次出现返回空串，
// 已登记过则返回此前的事件 id。整个机制是尽力而为的，调用方在出错时按未命中处理。
type Deduper interface {
	Claim(ctx context.Context, key, eventID string) (existingID string, err error)
	Close() error
}

// DedupeKey 由 (tenant_id, event_type, trace_id, subject_id) 派生去重键
func DedupeKey(tenantID, eventType, traceID, subjectID string) string {
	raw := tenantID + "\x00" + eventType + "\x00" + traceID + "\x00" + subjectID
	return dedupeKeyPrefix + canonical.HashBytes([]byte(raw))
}

// NewDeduper 按配置构建去重器：配置了 redis_addr 时用 Redis SETNX+TTL，
// 否则退化为进程内 LRU
func NewDeduper(ctx context.Context, cfg config.DedupeConfig) (Deduper, error) {
	ttl := defaultDedupeTTL
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, errors.New("eventstore: invalid dedupe ttl: " + cfg.TTL)
		}
		ttl = d
	}
	if cfg.RedisAddr == "" {
		return NewMemoryDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New("eventstore: redis ping: " + err.Error())
	}
	return &redisDeduper{client: client, ttl: ttl}, nil
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func (d *redisDeduper) Claim(ctx context.Context, key, eventID string) (string, error) {
	ok, err := d.client.SetNX(ctx, key, eventID, d.ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		// 键在 SETNX 与 GET 之间过期：当作首次出现
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return existing, nil
}

func (d *redisDeduper) Close() error {
	return d.client.Close()
}

// memoryDeduper 进程内 LRU + TTL；单进程部署或 Redis 缺席时的退化实现
type memoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // 头部最新
}

type dedupeEntry struct {
	key       string
	eventID   string
	expiresAt time.Time
}

// NewMemoryDeduper 构建进程内去重器
func NewMemoryDeduper(ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &memoryDeduper{
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (d *memoryDeduper) Claim(_ context.Context, key, eventID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()

	if el, ok := d.entries[key]; ok {
		ent := el.Value.(*dedupeEntry)
		if ent.expiresAt.After(now) {
			d.order.MoveToFront(el)
			return ent.eventID, nil
		}
		d.order.Remove(el)
		delete(d.entries, key)
	}

	for d.order.Len() >= maxMemoryEntries {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(*dedupeEntry).key)
	}

	el := d.order.PushFront(&dedupeEntry{key: key, eventID: eventID, expiresAt: now.Add(d.ttl)})
	d.entries[key] = el
	return "", nil
}

func (d *memoryDeduper) Close() error { return nil }
