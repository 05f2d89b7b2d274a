package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeNotFound, "")
	if err.Message() != "resource not found" {
		t.Fatalf("message = %q, want registry default", err.Message())
	}
	err = New(CodeNotFound, "custom")
	if err.Message() != "custom" {
		t.Fatalf("message = %q, want custom", err.Message())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "first")
	b := New(CodeConflict, "second")
	if !stdErrors.Is(a, b) {
		t.Fatalf("errors with the same code should match")
	}
	c := New(CodeNotFound, "other")
	if stdErrors.Is(a, c) {
		t.Fatalf("errors with different codes should not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeStorageFailure, cause, "write failed")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("wrapped cause is not reachable via errors.Is")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("CodeOf = %v, want STORAGE_FAILURE", CodeOf(err))
	}
	if got := err.Error(); got != fmt.Sprintf("[%s] write failed: disk full", CodeStorageFailure) {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("foreign errors should map to UNKNOWN")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil should map to UNKNOWN")
	}
}

func TestRegisterAndAttributes(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test", Severity: SeverityWarning, Retryable: true, Alert: true})

	attr := AttributesOf(code)
	if attr.Severity != SeverityWarning || !attr.Retryable || !attr.Alert {
		t.Fatalf("unexpected attributes: %+v", attr)
	}

	err := New(code, "")
	if !RetryableError(err) {
		t.Fatalf("registered retryable flag ignored")
	}
	if !ShouldAlert(err) {
		t.Fatalf("registered alert flag ignored")
	}
	if SeverityOf(err) != SeverityWarning {
		t.Fatalf("SeverityOf = %v, want warning", SeverityOf(err))
	}

	// Unregistered codes fall back to UNKNOWN.
	if AttributesOf("NEVER_REGISTERED").Severity != SeverityCritical {
		t.Fatalf("unregistered code should use UNKNOWN attributes")
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeNotFound, "", WithRetryable(true), WithAlert(true), WithSeverity(SeverityCritical), WithMetadata("asset", "1"))
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("options did not override registry defaults")
	}
	meta := err.Metadata()
	if meta["asset"] != "1" {
		t.Fatalf("metadata = %+v", meta)
	}
	// The returned map is a copy.
	meta["asset"] = "2"
	if err.Metadata()["asset"] != "1" {
		t.Fatalf("metadata mutation leaked into the error")
	}
}

func TestRetryableForeignError(t *testing.T) {
	if RetryableError(stdErrors.New("plain")) {
		t.Fatalf("foreign errors are never retryable")
	}
	if ShouldAlert(nil) {
		t.Fatalf("nil never alerts")
	}
}
