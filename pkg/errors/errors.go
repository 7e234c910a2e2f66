// Package errors 提供 JobForge 统一错误模型：稳定错误码 + retryable 标记，不依赖 internal。
package errors

import (
	"errors"
	"fmt"
)

// Kind 稳定错误码，随 API 响应序列化，新增取值需同步更新网关映射
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindNotOwner         Kind = "not_owner"
	KindInvalidState     Kind = "invalid_state"
	KindFeatureDisabled  Kind = "feature_disabled"
	KindTemplateNotFound Kind = "template_not_found"
	KindTemplateDisabled Kind = "template_disabled"
	KindPolicyDenied     Kind = "policy_denied"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error 结构化错误：code + message + retryable，可选 debug 与 trace_id
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	TraceID   string
	Debug     map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 暴露底层 cause，支持 errors.Is/As 链
func (e *Error) Unwrap() error {
	return e.cause
}

// E 按 kind 构造错误，retryable 取该 kind 的默认值
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind)}
}

// Ef 带格式的 E
func Ef(kind Kind, format string, args ...any) *Error {
	return E(kind, fmt.Sprintf(format, args...))
}

// Wrap 包装底层错误并附加 kind 与消息；err 为 nil 时返回 nil
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind), cause: err}
}

// Wrapf 带格式的 Wrap
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// WithRetryable 覆盖 retryable 标记
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithTrace 附加 trace_id
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithDebug 附加非 PII 调试字段（网关出站前会再过一遍脱敏）
func (e *Error) WithDebug(key string, value any) *Error {
	if e.Debug == nil {
		e.Debug = make(map[string]any)
	}
	e.Debug[key] = value
	return e
}

// KindOf 提取错误码；非 *Error 归为 internal，nil 返回空串
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误码
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable 判断调用方是否可以重试；非 *Error 视为不可重试
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// As 便捷转换，拿不到返回 nil
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// defaultRetryable 每个 kind 的默认 retryable：只有瞬时类错误默认可重试
func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindInternal:
		return true
	default:
		return false
	}
}
