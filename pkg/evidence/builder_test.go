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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobforge/pkg/canonical"
	"jobforge/pkg/redact"
)

func TestBuilderSuccess(t *testing.T) {
	in := map[string]any{"message": "Hello", "api_key": "sk-123"}
	b := NewBuilder("echo", "trace-1", "tenant-a", "", in)
	b.RecordStatusCode(200)

	out := map[string]any{"message": "Hello World!", "echoed": true, "delay_used": 0}
	p, err := b.Success(out)
	require.NoError(t, err)

	assert.True(t, p.OK)
	assert.Equal(t, "echo", p.ConnectorID)
	assert.Equal(t, "tenant-a", p.TenantID)
	assert.Equal(t, []int{200}, p.StatusCodes)
	assert.Zero(t, p.Retries)
	assert.False(t, p.RateLimited)
	assert.NotEmpty(t, p.EvidenceID)
	assert.False(t, p.EndedAt.Before(p.StartedAt))

	wantHash, err := canonical.Hash(out)
	require.NoError(t, err)
	assert.Equal(t, wantHash, p.OutputHash)

	redacted := p.RedactedInput.(map[string]any)
	assert.Equal(t, "[REDACTED]", redacted["api_key"])
	assert.Equal(t, "Hello", redacted["message"])
	// 原始输入不被修改
	assert.Equal(t, "sk-123", in["api_key"])
}

func TestBuilderFailure(t *testing.T) {
	b := NewBuilder("http_request", "trace-2", "tenant-a", "proj-1", map[string]any{"url": "https://x.test"})
	b.RecordStatusCode(500)
	b.RecordRetry(250)
	b.RecordStatusCode(503)

	p, err := b.Failure("upstream_5xx", "server exploded", true, nil)
	require.NoError(t, err)

	assert.False(t, p.OK)
	require.NotNil(t, p.Error)
	assert.Equal(t, "upstream_5xx", p.Error.Code)
	assert.True(t, p.Error.Retryable)
	assert.Equal(t, 1, p.Retries)
	assert.Equal(t, []int64{250}, p.BackoffDelaysMS)
	assert.Equal(t, []int{500, 503}, p.StatusCodes)
	assert.Empty(t, p.OutputHash)
	assert.NotEmpty(t, p.EvidenceHash)
}

func TestEvidenceHashDeterministic(t *testing.T) {
	run := func() *Packet {
		b := NewBuilder("echo", "trace-s5", "tenant-a", "",
			map[string]any{"message": "Hello", "echo": true, "delay_ms": 0})
		p, err := b.Success(map[string]any{"message": "Hello World!", "echoed": true, "delay_used": 0})
		require.NoError(t, err)
		return p
	}

	p1 := run()
	p2 := run()
	assert.Equal(t, p1.EvidenceHash, p2.EvidenceHash)
	assert.Equal(t, p1.OutputHash, p2.OutputHash)
	// 随机字段不参与哈希
	assert.NotEqual(t, p1.EvidenceID, p2.EvidenceID)
}

func TestEvidenceHashStableUnderKeyReordering(t *testing.T) {
	b1 := NewBuilder("echo", "t", "tenant-a", "", map[string]any{"a": 1, "b": "x"})
	b2 := NewBuilder("echo", "t", "tenant-a", "", map[string]any{"b": "x", "a": 1})
	p1, err := b1.Success(map[string]any{"r": 1})
	require.NoError(t, err)
	p2, err := b2.Success(map[string]any{"r": 1})
	require.NoError(t, err)
	assert.Equal(t, p1.EvidenceHash, p2.EvidenceHash)
}

func TestEvidenceHashChangesWithOutcome(t *testing.T) {
	in := map[string]any{"v": 1}
	pOK, err := NewBuilder("echo", "t", "a", "", in).Success(map[string]any{"r": 1})
	require.NoError(t, err)
	pFail, err := NewBuilder("echo", "t", "a", "", in).Failure("boom", "no", false, nil)
	require.NoError(t, err)
	assert.NotEqual(t, pOK.EvidenceHash, pFail.EvidenceHash)
}

func TestBuilderStructInputMatchesMapInput(t *testing.T) {
	type req struct {
		Message string `json:"message"`
		Token   string `json:"token"`
	}
	p1, err := NewBuilder("echo", "t", "a", "", req{Message: "m", Token: "s"}).Success(nil)
	require.NoError(t, err)
	p2, err := NewBuilder("echo", "t", "a", "", map[string]any{"message": "m", "token": "s"}).Success(nil)
	require.NoError(t, err)
	assert.Equal(t, p1.EvidenceHash, p2.EvidenceHash)
	assert.Empty(t, redact.Scan(p1.RedactedInput))
}

func TestBuilderDoubleTerminate(t *testing.T) {
	b := NewBuilder("echo", "t", "a", "", nil)
	_, err := b.Success(nil)
	require.NoError(t, err)
	_, err = b.Failure("x", "y", false, nil)
	assert.Error(t, err)
}
