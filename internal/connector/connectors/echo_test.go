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
	"testing"
	"time"
)

func TestEcho(t *testing.T) {
	tests := []struct {
		name        string
		in          map[string]any
		wantMessage string
		wantEchoed  bool
		wantCode    int
	}{
		{
			name:        "echo appends World",
			in:          map[string]any{"message": "Hello", "echo": true, "delay_ms": 0},
			wantMessage: "Hello World!",
			wantEchoed:  true,
		},
		{
			name:        "no echo returns message unchanged",
			in:          map[string]any{"message": "ping"},
			wantMessage: "ping",
			wantEchoed:  false,
		},
		{
			name:     "missing message",
			in:       map[string]any{"echo": true},
			wantCode: 400,
		},
		{
			name:     "delay out of range",
			in:       map[string]any{"message": "hi", "delay_ms": 60001},
			wantCode: 400,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, serr := Echo(context.Background(), tc.in)
			if tc.wantCode != 0 {
				if serr == nil || serr.Code != tc.wantCode {
					t.Fatalf("error = %v, want code %d", serr, tc.wantCode)
				}
				return
			}
			if serr != nil {
				t.Fatalf("unexpected error: %v", serr)
			}
			if out["message"] != tc.wantMessage {
				t.Errorf("message = %v, want %q", out["message"], tc.wantMessage)
			}
			if out["echoed"] != tc.wantEchoed {
				t.Errorf("echoed = %v, want %v", out["echoed"], tc.wantEchoed)
			}
			if out["delay_used"] == nil {
				t.Errorf("delay_used missing: %v", out)
			}
		})
	}
}

func TestEcho_DelayReported(t *testing.T) {
	start := time.Now()
	out, serr := Echo(context.Background(), map[string]any{"message": "hi", "delay_ms": 20})
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, want >= 20ms", elapsed)
	}
	if out["delay_used"] != 20 {
		t.Errorf("delay_used = %v, want 20", out["delay_used"])
	}
}

func TestEcho_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, serr := Echo(ctx, map[string]any{"message": "hi", "delay_ms": 5000})
	if serr == nil || serr.Code != 504 {
		t.Fatalf("error = %v, want 504", serr)
	}
}
