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

package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobforge/pkg/canonical"
	"jobforge/pkg/redact"
)

// Builder 按调用生命周期累积证据，Success/Failure 终结并产出 Packet。
// 单次调用内使用，非并发安全。
type Builder struct {
	packet Packet
	start  time.Time // 含单调时钟，用于 duration 计算
	done   bool
}

// NewBuilder 创建证据构建器；构造即记录 started_at 并完成输入脱敏
func NewBuilder(connectorID, traceID, tenantID, projectID string, input any) *Builder {
	now := time.Now()
	return &Builder{
		packet: Packet{
			EvidenceID:      "ev-" + uuid.New().String(),
			ConnectorID:     connectorID,
			TenantID:        tenantID,
			ProjectID:       projectID,
			TraceID:         traceID,
			StartedAt:       now.UTC(),
			StatusCodes:     []int{},
			BackoffDelaysMS: []int64{},
			RedactedInput:   redact.Redact(normalize(input)),
		},
		start: now,
	}
}

// RecordRetry 记录一次重试及其退避等待
func (b *Builder) RecordRetry(delayMS int64) {
	b.packet.Retries++
	b.packet.BackoffDelaysMS = append(b.packet.BackoffDelaysMS, delayMS)
}

// RecordStatusCode 记录一次尝试返回的状态码
func (b *Builder) RecordStatusCode(code int) {
	b.packet.StatusCodes = append(b.packet.StatusCodes, code)
}

// RecordRateLimited 标记本次调用命中过限流
func (b *Builder) RecordRateLimited() {
	b.packet.RateLimited = true
}

// Success 以成功终结，data 为连接器输出
func (b *Builder) Success(data any) (*Packet, error) {
	return b.finish(true, data, nil)
}

// Failure 以失败终结；partial 为失败前的部分输出，可为 nil
func (b *Builder) Failure(code, message string, retryable bool, partial any) (*Packet, error) {
	return b.finish(false, partial, &Failure{Code: code, Message: message, Retryable: retryable})
}

func (b *Builder) finish(ok bool, data any, failure *Failure) (*Packet, error) {
	if b.done {
		return nil, fmt.Errorf("evidence: builder already terminated")
	}
	b.done = true

	b.packet.EndedAt = time.Now().UTC()
	b.packet.DurationMS = time.Since(b.start).Milliseconds()
	b.packet.OK = ok
	b.packet.Error = failure

	if data != nil {
		h, err := canonical.Hash(normalize(data))
		if err != nil {
			return nil, fmt.Errorf("evidence: hash output: %w", err)
		}
		b.packet.OutputHash = h
	}

	h, err := b.hashPacket()
	if err != nil {
		return nil, err
	}
	b.packet.EvidenceHash = h

	p := b.packet
	return &p, nil
}

// hashPacket 计算 evidence_hash：覆盖包的确定性内核，排除 evidence_hash 本身
// 以及随机/时变字段（evidence_id、时间戳、耗时），保证相同输入输出产生相同哈希。
func (b *Builder) hashPacket() (string, error) {
	core := map[string]any{
		"connector_id":      b.packet.ConnectorID,
		"tenant_id":         b.packet.TenantID,
		"project_id":        b.packet.ProjectID,
		"trace_id":          b.packet.TraceID,
		"redacted_input":    b.packet.RedactedInput,
		"output_hash":       b.packet.OutputHash,
		"ok":                b.packet.OK,
		"retries":           b.packet.Retries,
		"status_codes":      b.packet.StatusCodes,
		"backoff_delays_ms": b.packet.BackoffDelaysMS,
		"rate_limited":      b.packet.RateLimited,
	}
	if b.packet.Error != nil {
		core["error"] = map[string]any{
			"code":      b.packet.Error.Code,
			"message":   b.packet.Error.Message,
			"retryable": b.packet.Error.Retryable,
		}
	}
	h, err := canonical.Hash(core)
	if err != nil {
		return "", fmt.Errorf("evidence: hash packet: %w", err)
	}
	return h, nil
}

// normalize 把任意值经一次 JSON 往返展平成通用树，保证脱敏与哈希对
// struct/map 两种表示等价
func normalize(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case map[string]any, []any, string, bool, float64, json.Number:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return string(raw)
	}
	return tree
}
