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
	"context"
	"encoding/json"
	"errors"
	"time"
)

// 存储层哨兵错误
var (
	ErrNotFound = errors.New("eventstore: event not found")
)

// TriggerJob 事件触发的处理任务；非 nil 时与事件写入在同一事务中入队，
// 任务 payload 只携带事件 id 级别的链接，不携带事件对象本身
type TriggerJob struct {
	JobID       string
	Type        string
	Payload     json.RawMessage
	MaxAttempts int
}

// Store 事件行存储。Insert 负责把 trigger（若有）与事件原子写入；
// 除 MarkProcessed 外事件行不可变。
type Store interface {
	Insert(ctx context.Context, ev *Event, trigger *TriggerJob) (*Event, error)
	Get(ctx context.Context, id, tenantID string) (*Event, error)
	List(ctx context.Context, tenantID string, f ListFilters) ([]*Event, error)
	MarkProcessed(ctx context.Context, id, tenantID string) error
	// PruneProcessedBefore 删除 processed 且 created_at 早于 cutoff 的事件行，
	// 返回删除行数。未处理的事件不删。
	PruneProcessedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close()
}
