package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
	if got := KindOf(E(KindNotOwner, "lease lost")); got != KindNotOwner {
		t.Errorf("KindOf = %q, want %q", got, KindNotOwner)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindInternal)
	}
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindInternal, cause, "store unavailable")
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	outer := fmt.Errorf("enqueue: %w", err)
	if KindOf(outer) != KindInternal {
		t.Errorf("KindOf through fmt wrap = %q, want internal", KindOf(outer))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInternal, nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(KindInternal, nil, "nothing %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestDefaultRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindValidation:       false,
		KindNotFound:         false,
		KindConflict:         false,
		KindNotOwner:         false,
		KindInvalidState:     false,
		KindFeatureDisabled:  false,
		KindTemplateNotFound: false,
		KindTemplateDisabled: false,
		KindPolicyDenied:     false,
		KindRateLimited:      true,
		KindTimeout:          true,
		KindInternal:         true,
	}
	for kind, want := range cases {
		if got := E(kind, "x").Retryable; got != want {
			t.Errorf("E(%s).Retryable = %v, want %v", kind, got, want)
		}
	}
}

func TestIsRetryableOverride(t *testing.T) {
	err := E(KindInternal, "worker said no").WithRetryable(false)
	if IsRetryable(err) {
		t.Error("override to non-retryable should win")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestWithDebugAndTrace(t *testing.T) {
	err := E(KindValidation, "payload too large").
		WithTrace("trace-1").
		WithDebug("size_bytes", 300000)
	if err.TraceID != "trace-1" {
		t.Errorf("TraceID = %q", err.TraceID)
	}
	if err.Debug["size_bytes"] != 300000 {
		t.Errorf("Debug = %v", err.Debug)
	}
}
