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

import "context"

type ctxKey int

const (
	attemptKey ctxKey = iota
	jobIDKey
)

// WithAttempt 标注当前尝试序号（从 1 开始）；harness 在每次尝试前设置
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFrom 读取当前尝试序号；未设置时为 1
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey).(int); ok && n > 0 {
		return n
	}
	return 1
}

// WithJobID 标注触发本次调用的任务；连接器用它命名产物引用
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFrom 读取任务 ID；未设置时为空串
func JobIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}
