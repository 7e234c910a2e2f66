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

package connectors

import (
	"context"
	"time"

	"jobforge/internal/connector"
)

type echoPayload struct {
	Message string `json:"message"`
	Echo    bool   `json:"echo"`
	DelayMS int    `json:"delay_ms"`
}

// Echo 回显连接器：echo 为真时在 message 后追加 " World!"，可选延迟。
// 没有外部副作用，用于连通性验证和端到端演练。
func Echo(ctx context.Context, in map[string]any) (map[string]any, *connector.StatusError) {
	var p echoPayload
	if serr := decode(in, &p); serr != nil {
		return nil, serr
	}
	if p.Message == "" {
		return nil, badRequest("message is required")
	}
	if p.DelayMS < 0 || p.DelayMS > 60000 {
		return nil, badRequest("delay_ms must be within [0, 60000]")
	}

	if p.DelayMS > 0 {
		timer := time.NewTimer(time.Duration(p.DelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, &connector.StatusError{Code: 504, Message: "cancelled during delay: " + ctx.Err().Error()}
		}
	}

	msg := p.Message
	if p.Echo {
		msg += " World!"
	}
	return map[string]any{
		"message":    msg,
		"echoed":     p.Echo,
		"delay_used": p.DelayMS,
	}, nil
}
