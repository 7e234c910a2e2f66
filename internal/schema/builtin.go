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

package schema

// 内置 schema 名称
const (
	JobEnvelope   = "job.envelope"
	EventEnvelope = "event.envelope"
	ErrorShape    = "error"
	ManifestShape = "manifest"

	ConnectorEcho           = "connector.echo"
	ConnectorHTTPRequest    = "connector.http_request"
	ConnectorReportGenerate = "connector.report_generate"
	ConnectorWebhookDeliver = "connector.webhook_deliver"
)

// Builtin 返回注册了全部内置 shape 的注册表；进程启动时调用一次
func Builtin() *Registry {
	r := NewRegistry()

	// 任务入队信封：外层拒绝未知字段，payload 对核心不透明
	r.MustRegister(&Schema{
		Name:    JobEnvelope,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "tenant_id", Type: String, Required: true, MaxLen: 128},
			{Name: "type", Type: String, Required: true, MaxLen: 200},
			{Name: "payload", Type: Any, Required: true},
			{Name: "idempotency_key", Type: String, MaxLen: 512},
			{Name: "run_at", Type: String, MaxLen: 64},
			{Name: "max_attempts", Type: Integer, Min: MinOf(1), Max: MaxOf(10)},
		},
	})

	// 事件信封：trace_id 必填，payload / redaction_hints 透传
	r.MustRegister(&Schema{
		Name:    EventEnvelope,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "event_version", Type: Integer, Required: true, Min: MinOf(1)},
			{Name: "event_type", Type: String, Required: true, MaxLen: 200},
			{Name: "occurred_at", Type: String, Required: true, MaxLen: 64},
			{Name: "trace_id", Type: String, Required: true, MaxLen: 128},
			{Name: "source_app", Type: String, Required: true, MaxLen: 128},
			{Name: "source_module", Type: String, MaxLen: 128},
			{Name: "project_id", Type: String, MaxLen: 128},
			{Name: "subject_type", Type: String, MaxLen: 128},
			{Name: "subject_id", Type: String, MaxLen: 256},
			{Name: "payload", Type: Any, Required: true},
			{Name: "contains_pii", Type: Bool},
			{Name: "redaction_hints", Type: Array, Elem: &Field{Type: String}},
		},
	})

	// 错误形状：API 出站错误体
	r.MustRegister(&Schema{
		Name:    ErrorShape,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "code", Type: String, Required: true, Enum: []string{
				"validation", "not_found", "conflict", "not_owner", "invalid_state",
				"feature_disabled", "template_not_found", "template_disabled",
				"policy_denied", "rate_limited", "timeout", "internal",
			}},
			{Name: "message", Type: String, Required: true},
			{Name: "retryable", Type: Bool, Required: true},
			{Name: "trace_id", Type: String},
			{Name: "debug", Type: Object},
		},
	})

	// 清单形状
	r.MustRegister(&Schema{
		Name:    ManifestShape,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "run_id", Type: String, Required: true},
			{Name: "tenant_id", Type: String, Required: true},
			{Name: "job_type", Type: String, Required: true},
			{Name: "status", Type: String, Required: true, Enum: []string{"pending", "complete", "failed"}},
			{Name: "outputs", Type: Array, Elem: &Field{Type: Object, Fields: []Field{
				{Name: "name", Type: String, Required: true},
				{Name: "type", Type: String, Required: true},
				{Name: "ref", Type: String, Required: true},
				{Name: "size", Type: Integer, Min: MinOf(0)},
				{Name: "checksum", Type: String},
				{Name: "mime_type", Type: String},
			}}},
			{Name: "metrics", Type: Object},
			{Name: "env_fingerprint", Type: String},
			{Name: "tool_versions", Type: Object},
			{Name: "inputs_snapshot_ref", Type: String},
			{Name: "logs_ref", Type: String},
			{Name: "error", Type: Any},
		},
	})

	// 内置连接器 payload
	r.MustRegister(&Schema{
		Name:    ConnectorEcho,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "message", Type: String, Required: true, MaxLen: 4096},
			{Name: "echo", Type: Bool},
			{Name: "delay_ms", Type: Integer, Min: MinOf(0), Max: MaxOf(60000)},
		},
	})

	r.MustRegister(&Schema{
		Name:    ConnectorHTTPRequest,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "url", Type: String, Required: true, MaxLen: 2048},
			{Name: "method", Type: String, Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
			{Name: "headers", Type: Object},
			{Name: "body", Type: Any},
			{Name: "timeout_ms", Type: Integer, Min: MinOf(1), Max: MaxOf(300000)},
			{Name: "redact_headers", Type: Array, Elem: &Field{Type: String}},
		},
	})

	r.MustRegister(&Schema{
		Name:    ConnectorReportGenerate,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "report_type", Type: String, Required: true, Enum: []string{"usage-summary", "job-analytics", "tenant-usage"}},
			{Name: "inputs_ref", Type: String, MaxLen: 1024},
			{Name: "inputs_data", Type: Object},
			{Name: "format", Type: Array, Elem: &Field{Type: String, Enum: []string{"json", "html", "csv", "pdf"}}},
			{Name: "options", Type: Object},
		},
	})

	r.MustRegister(&Schema{
		Name:    ConnectorWebhookDeliver,
		Version: "1.0.0",
		Fields: []Field{
			{Name: "target_url", Type: String, Required: true, MaxLen: 2048},
			{Name: "event_type", Type: String, Required: true, MaxLen: 200},
			{Name: "event_id", Type: String, Required: true, MaxLen: 256},
			{Name: "data", Type: Any, Required: true},
			{Name: "secret_ref", Type: String, MaxLen: 512},
			{Name: "secret", Type: String, MaxLen: 512},
			{Name: "signature_algo", Type: String, Enum: []string{"sha256", "sha512"}},
			{Name: "timeout_ms", Type: Integer, Min: MinOf(1), Max: MaxOf(60000)},
		},
	})

	return r
}
