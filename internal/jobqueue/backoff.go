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

package jobqueue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy 失败重试的退避参数
type RetryPolicy struct {
	Base       time.Duration // 默认 30s
	Multiplier float64       // 默认 2.0
	Cap        time.Duration // 默认 1h
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Base <= 0 {
		p.Base = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.Cap <= 0 {
		p.Cap = time.Hour
	}
	return p
}

// Backoff 第 attempt 次尝试失败后的等待时长：min(cap, base·multiplier^(attempt-1))，
// 再叠加 ±20% 抖动。attempt 从 1 起
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	nominal := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if nominal > float64(p.Cap) {
		nominal = float64(p.Cap)
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(nominal * jitter)
}
