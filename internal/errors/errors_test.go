package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := fmt.Errorf("call poap: %w", Wrap(CodeUpstreamFailure, cause, "request failed"))

	if got := CodeOf(err); got != CodeUpstreamFailure {
		t.Fatalf("unexpected code: %s", got)
	}
	if !RetryableError(err) {
		t.Fatalf("upstream failures should be retryable")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("cause lost in chain")
	}
	if !stdErrors.Is(err, New(CodeUpstreamFailure, "")) {
		t.Fatalf("errors.Is should match on code")
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeUpstreamUnauthorized, "", WithRetryable(true), WithSeverity(SeverityInfo), WithAlert(false))
	if !err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("options not applied: %+v", err)
	}
	if err.Message() != "upstream rejected credentials" {
		t.Fatalf("default message not used: %q", err.Message())
	}
}

func TestEnsure(t *testing.T) {
	if Ensure(nil, CodeExecutorFailure, "x") != nil {
		t.Fatalf("nil should stay nil")
	}
	coded := New(CodeTimeout, "slow")
	if got := Ensure(coded, CodeExecutorFailure, "x"); CodeOf(got) != CodeTimeout {
		t.Fatalf("coded error should be preserved, got %v", got)
	}
	if got := Ensure(stdErrors.New("boom"), CodeExecutorFailure, "x"); CodeOf(got) != CodeExecutorFailure {
		t.Fatalf("plain error should be wrapped, got %v", got)
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("unexpected fallback: %+v", attr)
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}
