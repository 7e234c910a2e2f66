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

// Package tracing OpenTelemetry 初始化与 span 辅助。未初始化时 otel 返回
// no-op tracer，所有辅助函数零开销可用。
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "jobforge"

// Config 链路追踪配置
type Config struct {
	ServiceName    string // 空时 "jobforge"
	ExportEndpoint string // OTLP/HTTP collector 地址，如 "localhost:4318"
	Insecure       bool
}

// InitTracer 初始化全局 TracerProvider（OTLP/HTTP + 批量导出）。
// 调用方负责在进程退出前 Shutdown 返回的 provider。
func InitTracer(ctx context.Context, config Config) (*sdktrace.TracerProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "jobforge"
	}
	// 未指定地址时交给 exporter 自身的 OTEL_EXPORTER_OTLP_ENDPOINT 解析
	var opts []otlptracehttp.Option
	if config.ExportEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(config.ExportEndpoint))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartJobSpan 开始一次任务执行 span
func StartJobSpan(ctx context.Context, jobID, tenantID, jobType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.tenant_id", tenantID),
			attribute.String("job.type", jobType),
		),
	)
}

// StartConnectorSpan 开始一次连接器调用 span（含 harness 的全部尝试）
func StartConnectorSpan(ctx context.Context, connectorID, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "connector.invoke",
		trace.WithAttributes(
			attribute.String("connector.id", connectorID),
			attribute.String("connector.tenant_id", tenantID),
		),
	)
}

// EndSpan 统一终结 span：err 非 nil 时记录并标记错误状态
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
