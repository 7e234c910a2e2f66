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
	"strings"
	"time"

	"github.com/google/uuid"

	"jobforge/internal/schema"
	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
)

// Service 事件服务：信封校验、去重、落库、触发编译
type Service struct {
	store    Store
	schemas  *schema.Registry
	dedupe   Deduper
	triggers map[string]string // subject_type -> 触发的任务类型；空表示触发关闭
	logger   *log.Logger
}

// NewService 创建事件服务；triggers 为 nil 或空 map 时不做事件→任务编译
func NewService(store Store, schemas *schema.Registry, dedupe Deduper, triggers map[string]string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{store: store, schemas: schemas, dedupe: dedupe, triggers: triggers, logger: logger}
}

// envelope 提交信封；字段集合与 event.envelope schema 一致
type envelope struct {
	EventVersion   int             `json:"event_version"`
	EventType      string          `json:"event_type"`
	OccurredAt     string          `json:"occurred_at"`
	TraceID        string          `json:"trace_id"`
	SourceApp      string          `json:"source_app"`
	SourceModule   string          `json:"source_module"`
	ProjectID      string          `json:"project_id"`
	SubjectType    string          `json:"subject_type"`
	SubjectID      string          `json:"subject_id"`
	Payload        json.RawMessage `json:"payload"`
	ContainsPII    bool            `json:"contains_pii"`
	RedactionHints []string        `json:"redaction_hints"`
}

// SubmitEvent 校验并写入事件。返回值 created 为 false 表示命中去重，
// 返回的是此前记录的事件行。去重是尽力而为的：去重器故障时按首次出现处理。
func (s *Service) SubmitEvent(ctx context.Context, tenantID string, raw json.RawMessage) (*Event, bool, error) {
	traceID := auth.GetTraceID(ctx)
	if tenantID == "" {
		return nil, false, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, jferrors.E(jferrors.KindValidation, "body: must be valid JSON").WithTrace(traceID)
	}
	if issues := s.schemas.Validate(schema.EventEnvelope, value); len(issues) > 0 {
		return nil, false, jferrors.E(jferrors.KindValidation, strings.Join(schema.Messages(issues), "; ")).WithTrace(traceID)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, jferrors.E(jferrors.KindValidation, "body: must be valid JSON").WithTrace(traceID)
	}
	if len(env.Payload) > MaxPayloadBytes {
		return nil, false, jferrors.E(jferrors.KindValidation, "payload: exceeds 256 KiB limit").WithTrace(traceID)
	}
	if !auth.ValidTraceID(env.TraceID) {
		return nil, false, jferrors.E(jferrors.KindValidation, "trace_id: must be a well-formed identifier").WithTrace(traceID)
	}
	occurredAt, err := time.Parse(time.RFC3339, env.OccurredAt)
	if err != nil {
		return nil, false, jferrors.E(jferrors.KindValidation, "occurred_at: must be an RFC3339 timestamp").WithTrace(traceID)
	}
	if traceID == "" {
		traceID = env.TraceID
	}

	now := time.Now()
	ev := &Event{
		ID:             "evt-" + uuid.New().String(),
		TenantID:       tenantID,
		ProjectID:      env.ProjectID,
		EventVersion:   env.EventVersion,
		EventType:      env.EventType,
		OccurredAt:     occurredAt,
		TraceID:        env.TraceID,
		SourceApp:      env.SourceApp,
		SourceModule:   env.SourceModule,
		SubjectType:    env.SubjectType,
		SubjectID:      env.SubjectID,
		Payload:        env.Payload,
		ContainsPII:    env.ContainsPII,
		RedactionHints: env.RedactionHints,
		CreatedAt:      now,
	}

	if s.dedupe != nil {
		key := DedupeKey(tenantID, env.EventType, env.TraceID, env.SubjectID)
		existingID, derr := s.dedupe.Claim(ctx, key, ev.ID)
		if derr != nil {
			s.logger.WarnContext(ctx, "event dedupe unavailable, treating as first occurrence",
				"error", derr, "trace_id", traceID)
		} else if existingID != "" {
			existing, gerr := s.store.Get(ctx, existingID, tenantID)
			if gerr == nil {
				metrics.EventsDeduplicatedTotal.WithLabelValues(tenantID).Inc()
				s.logger.InfoContext(ctx, "event deduplicated",
					"event_id", existingID, "tenant_id", tenantID, "event_type", env.EventType, "trace_id", traceID)
				return existing, false, nil
			}
			if !errors.Is(gerr, ErrNotFound) {
				return nil, false, s.mapErr(gerr, traceID)
			}
			// 去重键还在但原事件行已被清理：按首次出现处理
		}
	}

	trigger := s.compileTrigger(ev)
	inserted, err := s.store.Insert(ctx, ev, trigger)
	if err != nil {
		return nil, false, s.mapErr(err, traceID)
	}

	metrics.EventsSubmittedTotal.WithLabelValues(tenantID).Inc()
	s.logger.InfoContext(ctx, "event submitted",
		"event_id", inserted.ID, "tenant_id", tenantID, "event_type", inserted.EventType,
		"processing_job_id", inserted.ProcessingJobID, "trace_id", traceID)
	return inserted, true, nil
}

// compileTrigger subject_type 命中触发规则时编译处理任务；payload 只携带 id 级链接
func (s *Service) compileTrigger(ev *Event) *TriggerJob {
	if len(s.triggers) == 0 || ev.SubjectType == "" {
		return nil
	}
	jobType, ok := s.triggers[ev.SubjectType]
	if !ok {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"event_id":     ev.ID,
		"event_type":   ev.EventType,
		"subject_type": ev.SubjectType,
		"subject_id":   ev.SubjectID,
	})
	if err != nil {
		return nil
	}
	return &TriggerJob{
		JobID:   "job-" + uuid.New().String(),
		Type:    jobType,
		Payload: payload,
	}
}

// GetEvent 租户内单条事件
func (s *Service) GetEvent(ctx context.Context, id, tenantID string) (*Event, error) {
	traceID := auth.GetTraceID(ctx)
	if id == "" || tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "event id and tenant_id are required").WithTrace(traceID)
	}
	ev, err := s.store.Get(ctx, id, tenantID)
	if err != nil {
		return nil, s.mapErr(err, traceID)
	}
	return ev, nil
}

// ListEvents 租户内事件列表，created_at 倒序
func (s *Service) ListEvents(ctx context.Context, tenantID string, f ListFilters) ([]*Event, error) {
	traceID := auth.GetTraceID(ctx)
	if tenantID == "" {
		return nil, jferrors.E(jferrors.KindValidation, "tenant_id is required").WithTrace(traceID)
	}
	events, err := s.store.List(ctx, tenantID, f)
	if err != nil {
		return nil, s.mapErr(err, traceID)
	}
	return events, nil
}

// MarkProcessed 标记事件已处理；除 processed / processing_job_id 外事件不可变
func (s *Service) MarkProcessed(ctx context.Context, id, tenantID string) error {
	traceID := auth.GetTraceID(ctx)
	if id == "" || tenantID == "" {
		return jferrors.E(jferrors.KindValidation, "event id and tenant_id are required").WithTrace(traceID)
	}
	if err := s.store.MarkProcessed(ctx, id, tenantID); err != nil {
		return s.mapErr(err, traceID)
	}
	return nil
}

func (s *Service) mapErr(err error, traceID string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return jferrors.E(jferrors.KindNotFound, "event not found").WithTrace(traceID)
	case errors.Is(err, context.DeadlineExceeded):
		return jferrors.Wrap(jferrors.KindTimeout, err, "event store timeout").WithTrace(traceID)
	default:
		return jferrors.Wrap(jferrors.KindInternal, err, "event store failure").WithTrace(traceID)
	}
}
