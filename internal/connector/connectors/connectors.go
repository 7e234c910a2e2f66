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

// Package connectors 提供内置连接器：echo、http_request、report_generate
// 与 webhook_deliver。每个连接器只做一次尝试；重试、超时与证据由 harness
// 负责。出站调用一律先过 SSRF 防护。
package connectors

import (
	"encoding/json"

	"jobforge/internal/connector"
	"jobforge/pkg/secrets"
)

// 内置连接器名称，与任务类型一一对应
const (
	NameEcho           = "echo"
	NameHTTPRequest    = "http_request"
	NameReportGenerate = "report_generate"
	NameWebhookDeliver = "webhook_deliver"
)

// Deps 内置连接器的外部依赖
type Deps struct {
	// Secrets 解析 webhook 签名密钥的 secret_ref；nil 时回退到环境变量
	Secrets secrets.Store
	// HostAllowlist 出站目标主机白名单；空则只做封禁主机与私网拦截
	HostAllowlist []string
}

// RegisterBuiltin 把全部内置连接器注册进 reg
func RegisterBuiltin(reg *connector.Registry, deps Deps) error {
	if deps.Secrets == nil {
		deps.Secrets = secrets.NewEnvStore()
	}
	entries := []struct {
		name string
		fn   connector.Func
	}{
		{NameEcho, Echo},
		{NameHTTPRequest, NewHTTPRequest(deps.HostAllowlist)},
		{NameReportGenerate, NewReportGenerate()},
		{NameWebhookDeliver, NewWebhookDeliver(deps.Secrets, deps.HostAllowlist)},
	}
	for _, e := range entries {
		if err := reg.Register(e.name, e.fn); err != nil {
			return err
		}
	}
	return nil
}

// decode 把松散的 map 载荷绑定到类型化结构体。入队时 schema 已经拦过一轮，
// 这里兜底直投 store 或 schema 未注册的路径。
func decode(in map[string]any, out any) *connector.StatusError {
	data, err := json.Marshal(in)
	if err != nil {
		return badRequest("payload is not serializable: " + err.Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return badRequest("payload shape mismatch: " + err.Error())
	}
	return nil
}

func badRequest(msg string) *connector.StatusError {
	return &connector.StatusError{Code: 400, Message: msg}
}
