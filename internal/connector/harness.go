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

package connector

import (
	"context"
	"fmt"
	"math"
	"time"

	"jobforge/pkg/evidence"
	"jobforge/pkg/log"
	"jobforge/pkg/metrics"
	"jobforge/pkg/tracing"
)

// Policy harness 的重试与超时策略
type Policy struct {
	MaxAttempts       int           // 默认 3
	AttemptTimeout    time.Duration // 单次尝试超时，默认 30s
	BackoffBase       time.Duration // 默认 250ms
	BackoffMultiplier float64       // 默认 2.0
	BackoffCap        time.Duration // 默认 10s
	RateLimitDelay    time.Duration // 429 无 Retry-After 时的等待，默认 1s
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 30 * time.Second
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 250 * time.Millisecond
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = 2.0
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = 10 * time.Second
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = time.Second
	}
	return p
}

// maxSaneRetryAfter 超过该值的 Retry-After 一律视为不可信，回落到 RateLimitDelay
const maxSaneRetryAfter = time.Minute

// Harness 连接器执行器：重试循环、每次尝试的超时、状态码分类、限流与证据。
// Run 从不 panic，也不向外传播 panic。
type Harness struct {
	registry *Registry
	limiter  *RateLimiter
	policy   Policy
	logger   *log.Logger

	// sleep 注入点，测试替换以避免真实等待
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHarness 创建 harness；limiter 为 nil 时不限流
func NewHarness(registry *Registry, limiter *RateLimiter, policy Policy, logger *log.Logger) *Harness {
	if logger == nil {
		logger = log.Discard()
	}
	return &Harness{
		registry: registry,
		limiter:  limiter,
		policy:   policy.withDefaults(),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run 执行一次连接器调用，重试在内部完成。返回的 Result 总是携带证据包；
// 证据包组装失败时 Evidence 为 nil，但 Result 仍然成形。
func (h *Harness) Run(ctx context.Context, inv Invocation) (res Result) {
	ctx, span := tracing.StartConnectorSpan(ctx, inv.ConnectorID, inv.TenantID)
	defer func() {
		var spanErr error
		if !res.OK && res.Error != nil {
			spanErr = fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
		}
		tracing.EndSpan(span, spanErr)
	}()
	start := time.Now()
	defer func() {
		metrics.ConnectorDuration.WithLabelValues(inv.ConnectorID).Observe(time.Since(start).Seconds())
	}()

	eb := evidence.NewBuilder(inv.ConnectorID, inv.TraceID, inv.TenantID, inv.ProjectID, inv.Input)

	if inv.DryRun {
		data := map[string]any{"dry_run": true}
		metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "success").Inc()
		return h.success(ctx, inv, eb, data)
	}

	fn, ok := h.registry.Get(inv.ConnectorID)
	if !ok {
		metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "terminal").Inc()
		return h.failure(ctx, inv, eb,
			"not_found", fmt.Sprintf("connector %s is not registered", inv.ConnectorID), false, nil)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, inv.ConnectorID); err != nil {
			return h.failure(ctx, inv, eb, "timeout", "rate limiter: "+err.Error(), true, nil)
		}
		defer h.limiter.Release(inv.ConnectorID)
	}

	var lastErr *StatusError
	var lastData map[string]any
	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		data, serr := h.attempt(ctx, fn, inv.Input, attempt)
		if serr == nil {
			eb.RecordStatusCode(200)
			metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "success").Inc()
			return h.success(ctx, inv, eb, data)
		}
		lastErr, lastData = serr, data
		eb.RecordStatusCode(serr.Code)

		var delay time.Duration
		switch {
		case serr.Code == 429:
			eb.RecordRateLimited()
			metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "rate_limited").Inc()
			delay = h.policy.RateLimitDelay
			if serr.RetryAfter > 0 && serr.RetryAfter <= maxSaneRetryAfter {
				delay = serr.RetryAfter
			}
		case serr.Code >= 500:
			metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "retryable").Inc()
			delay = h.backoff(attempt)
		default:
			// 其余 4xx：按原样重试不会成功，立即终止
			metrics.ConnectorAttemptsTotal.WithLabelValues(inv.ConnectorID, "terminal").Inc()
			return h.failure(ctx, inv, eb, failureCode(serr.Code), serr.Message, false, lastData)
		}

		if attempt == h.policy.MaxAttempts {
			break
		}
		eb.RecordRetry(delay.Milliseconds())
		if err := h.sleep(ctx, delay); err != nil {
			return h.failure(ctx, inv, eb, "timeout", "cancelled while backing off: "+err.Error(), true, lastData)
		}
	}

	return h.failure(ctx, inv, eb, failureCode(lastErr.Code), lastErr.Message, true, lastData)
}

// attempt 跑一次连接器：goroutine + select 保证超时约束对不配合的连接器同样成立
func (h *Harness) attempt(ctx context.Context, fn Func, input map[string]any, attempt int) (map[string]any, *StatusError) {
	attemptCtx, cancel := context.WithTimeout(WithAttempt(ctx, attempt), h.policy.AttemptTimeout)
	defer cancel()

	type outcome struct {
		data map[string]any
		err  *StatusError
	}
	ch := make(chan outcome, 1)
	go func() {
		data, err := callSafely(attemptCtx, fn, input)
		ch <- outcome{data: data, err: err}
	}()

	select {
	case out := <-ch:
		return out.data, out.err
	case <-attemptCtx.Done():
		return nil, &StatusError{Code: 504, Message: fmt.Sprintf("attempt timed out after %s", h.policy.AttemptTimeout)}
	}
}

// callSafely 把连接器的 panic 转成 500 状态错误
func callSafely(ctx context.Context, fn Func, input map[string]any) (data map[string]any, serr *StatusError) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			serr = &StatusError{Code: 500, Message: fmt.Sprintf("connector panicked: %v", r)}
		}
	}()
	return fn(ctx, input)
}

func (h *Harness) success(ctx context.Context, inv Invocation, eb *evidence.Builder, data map[string]any) Result {
	pkt, err := eb.Success(data)
	if err != nil {
		h.logger.WarnContext(ctx, "evidence assembly failed",
			"connector_id", inv.ConnectorID, "trace_id", inv.TraceID, "error", err)
	}
	return Result{OK: true, Data: data, Evidence: pkt}
}

func (h *Harness) failure(ctx context.Context, inv Invocation, eb *evidence.Builder, code, message string, retryable bool, partial map[string]any) Result {
	var partialData any
	if partial != nil {
		partialData = partial
	}
	pkt, err := eb.Failure(code, message, retryable, partialData)
	if err != nil {
		h.logger.WarnContext(ctx, "evidence assembly failed",
			"connector_id", inv.ConnectorID, "trace_id", inv.TraceID, "error", err)
	}
	h.logger.WarnContext(ctx, "connector call failed",
		"connector_id", inv.ConnectorID, "trace_id", inv.TraceID, "code", code, "retryable", retryable)
	return Result{
		OK:       false,
		Data:     partial,
		Error:    &evidence.Failure{Code: code, Message: message, Retryable: retryable},
		Evidence: pkt,
	}
}

// backoff 第 attempt 次失败后的等待；不加抖动，保证证据包可复现
func (h *Harness) backoff(attempt int) time.Duration {
	d := time.Duration(float64(h.policy.BackoffBase) * math.Pow(h.policy.BackoffMultiplier, float64(attempt-1)))
	if d > h.policy.BackoffCap {
		d = h.policy.BackoffCap
	}
	return d
}

// failureCode 终局失败的错误码：429 限流、504 超时、其余 5xx internal、4xx validation
func failureCode(status int) string {
	switch {
	case status == 429:
		return "rate_limited"
	case status == 504:
		return "timeout"
	case status >= 500:
		return "internal"
	default:
		return "validation"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
