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

package manifest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"jobforge/pkg/auth"
	"jobforge/pkg/canonical"
	"jobforge/pkg/evidence"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
)

// Builder 组装并持久化运行清单。store 为 nil 时清单只组装不落库
// （manifests 特性关闭时的行为）。
type Builder struct {
	store        Store
	toolVersions map[string]string
	logger       *log.Logger
}

// NewBuilder 创建清单构建器；toolVersions 并入每份清单的 tool_versions
func NewBuilder(store Store, toolVersions map[string]string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Discard()
	}
	return &Builder{store: store, toolVersions: toolVersions, logger: logger}
}

// CompleteParams 结束一次运行的清单内容
type CompleteParams struct {
	RunID             string
	TenantID          string
	JobType           string
	Outputs           []Output
	Metrics           map[string]any
	Evidence          []*evidence.Packet
	InputsSnapshotRef string
	LogsRef           string
	// Failure 非 nil 时清单状态为 failed
	Failure *ErrorInfo
}

// BeginRun 在任务开始执行时写入 pending 清单
func (b *Builder) BeginRun(ctx context.Context, runID, tenantID, jobType string) (*Manifest, error) {
	if err := b.validateRun(ctx, runID, tenantID, jobType); err != nil {
		return nil, err
	}
	now := time.Now()
	m := &Manifest{
		RunID:          runID,
		TenantID:       tenantID,
		JobType:        jobType,
		Status:         StatusPending,
		Outputs:        []Output{},
		EnvFingerprint: EnvFingerprint(),
		ToolVersions:   b.tools(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return b.put(ctx, m)
}

// CompleteRun 以最终状态覆盖清单；证据包转为产物引用并计入指标
func (b *Builder) CompleteRun(ctx context.Context, p CompleteParams) (*Manifest, error) {
	if err := b.validateRun(ctx, p.RunID, p.TenantID, p.JobType); err != nil {
		return nil, err
	}

	status := StatusComplete
	if p.Failure != nil {
		status = StatusFailed
	}

	outputs := append([]Output{}, p.Outputs...)
	metrics := make(map[string]any, len(p.Metrics)+3)
	for k, v := range p.Metrics {
		metrics[k] = v
	}
	if len(p.Evidence) > 0 {
		retries, rateLimited := 0, 0
		for i, pkt := range p.Evidence {
			outputs = append(outputs, evidenceOutput(p.RunID, i, pkt))
			retries += pkt.Retries
			if pkt.RateLimited {
				rateLimited++
			}
		}
		metrics["connector_calls"] = len(p.Evidence)
		metrics["connector_retries"] = retries
		metrics["rate_limited_calls"] = rateLimited
	}

	now := time.Now()
	m := &Manifest{
		RunID:             p.RunID,
		TenantID:          p.TenantID,
		JobType:           p.JobType,
		Status:            status,
		Outputs:           outputs,
		Metrics:           metrics,
		EnvFingerprint:    EnvFingerprint(),
		ToolVersions:      b.tools(),
		InputsSnapshotRef: p.InputsSnapshotRef,
		LogsRef:           p.LogsRef,
		Error:             p.Failure,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	saved, err := b.put(ctx, m)
	if err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "run manifest recorded",
		"run_id", p.RunID, "tenant_id", p.TenantID, "status", string(status), "outputs", len(outputs))
	return saved, nil
}

// GetRunManifest 按 run_id 读取清单，租户隔离
func (b *Builder) GetRunManifest(ctx context.Context, runID, tenantID string) (*Manifest, error) {
	traceID := auth.GetTraceID(ctx)
	if runID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "run_id is required").WithTrace(traceID)
	}
	if tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if b.store == nil {
		return nil, jferrors.Ef(jferrors.KindNotFound, "manifest not found for run %s", runID).WithTrace(traceID)
	}
	m, err := b.store.Get(ctx, runID, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, jferrors.Ef(jferrors.KindNotFound, "manifest not found for run %s", runID).WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "manifest store failure").WithTrace(traceID)
	}
	return m, nil
}

// ListArtifacts 返回清单的产物引用列表
func (b *Builder) ListArtifacts(ctx context.Context, runID, tenantID string) ([]Output, error) {
	m, err := b.GetRunManifest(ctx, runID, tenantID)
	if err != nil {
		return nil, err
	}
	return m.Outputs, nil
}

func (b *Builder) validateRun(ctx context.Context, runID, tenantID, jobType string) error {
	traceID := auth.GetTraceID(ctx)
	if runID == "" {
		return jferrors.E(jferrors.KindValidation, "run_id is required").WithTrace(traceID)
	}
	if tenantID == "" {
		return jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	if jobType == "" {
		return jferrors.E(jferrors.KindValidation, "job_type is required").WithTrace(traceID)
	}
	return nil
}

func (b *Builder) put(ctx context.Context, m *Manifest) (*Manifest, error) {
	if b.store == nil {
		return m, nil
	}
	saved, err := b.store.Put(ctx, m)
	if err != nil {
		traceID := auth.GetTraceID(ctx)
		if errors.Is(err, ErrTenantMismatch) {
			return nil, jferrors.Ef(jferrors.KindConflict, "run %s belongs to another tenant", m.RunID).WithTrace(traceID)
		}
		return nil, jferrors.Wrap(jferrors.KindInternal, err, "manifest store failure").WithTrace(traceID)
	}
	return saved, nil
}

func (b *Builder) tools() map[string]string {
	tools := map[string]string{"go": runtime.Version()}
	for k, v := range b.toolVersions {
		tools[k] = v
	}
	return tools
}

// evidenceOutput 把证据包登记为产物：checksum 是 evidence_hash，size 是规范字节数
func evidenceOutput(runID string, i int, pkt *evidence.Packet) Output {
	var size int64
	if data, err := canonical.Marshal(pkt); err == nil {
		size = int64(len(data))
	}
	return Output{
		Name:     fmt.Sprintf("evidence-%d-%s", i+1, pkt.ConnectorID),
		Type:     "evidence",
		Ref:      fmt.Sprintf("evidence/%s/%s.json", runID, pkt.EvidenceID),
		Size:     size,
		Checksum: pkt.EvidenceHash,
		MimeType: "application/json",
	}
}
