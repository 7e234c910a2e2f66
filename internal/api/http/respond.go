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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"jobforge/pkg/auth"
	jferrors "jobforge/pkg/errors"
	"jobforge/pkg/redact"
)

// errorBody 错误信封负载；trace_id 总是回填，debug 出站前脱敏
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	TraceID   string         `json:"trace_id,omitempty"`
	Debug     map[string]any `json:"debug,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// statusOf 错误 kind 到 HTTP 状态码的映射
func statusOf(kind jferrors.Kind) int {
	switch kind {
	case jferrors.KindValidation:
		return consts.StatusBadRequest
	case jferrors.KindPolicyDenied, jferrors.KindFeatureDisabled, jferrors.KindTemplateDisabled:
		return consts.StatusForbidden
	case jferrors.KindNotFound, jferrors.KindTemplateNotFound:
		return consts.StatusNotFound
	case jferrors.KindConflict, jferrors.KindInvalidState, jferrors.KindNotOwner:
		return consts.StatusConflict
	case jferrors.KindRateLimited:
		return consts.StatusTooManyRequests
	case jferrors.KindTimeout:
		return consts.StatusGatewayTimeout
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 按统一信封出站错误；非 *errors.Error 一律归为 internal
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	e := jferrors.As(err)
	if e == nil {
		e = jferrors.Wrap(jferrors.KindInternal, err, "internal error")
	}
	traceID := e.TraceID
	if traceID == "" {
		traceID = auth.GetTraceID(ctx)
	}
	body := errorBody{
		Code:      string(e.Kind),
		Message:   e.Message,
		Retryable: e.Retryable,
		TraceID:   traceID,
	}
	if len(e.Debug) > 0 {
		if m, ok := redact.Redact(e.Debug).(map[string]any); ok {
			body.Debug = m
		}
	}
	c.JSON(statusOf(e.Kind), errorEnvelope{Error: body})
}

// writeValidation 请求解析失败的快捷出口
func writeValidation(ctx context.Context, c *app.RequestContext, msg string) {
	writeError(ctx, c, jferrors.E(jferrors.KindValidation, msg))
}
