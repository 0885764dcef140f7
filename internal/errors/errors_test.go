package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRegisteredCodeDefaults(t *testing.T) {
	const code Code = "TEST_RETRYABLE"
	Register(code, Attributes{Message: "flaky", Severity: SeverityWarning, Category: CategoryAdapter, Retryable: true})

	err := New(code, "")
	if err.Message() != "flaky" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !RetryableError(err) {
		t.Fatalf("expected retryable error")
	}
	if CategoryOf(err) != CategoryAdapter {
		t.Fatalf("unexpected category %s", CategoryOf(err))
	}
	if RetryableError(New(code, "", WithRetryable(false))) {
		t.Fatalf("override should disable retry")
	}
}

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	wrapped := fmt.Errorf("dispatch: %w", Wrap(CodeTimeout, cause, "rpc timed out"))

	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", CodeOf(wrapped))
	}
	if !HasCode(wrapped, CodeTimeout) {
		t.Fatalf("HasCode should match through fmt wrapping")
	}
	if HasCode(wrapped, CodeCancelled) {
		t.Fatalf("HasCode matched the wrong code")
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("cause should remain reachable")
	}
	if MessageOf(wrapped) != "rpc timed out" {
		t.Fatalf("unexpected message %q", MessageOf(wrapped))
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	err := New("NEVER_REGISTERED", "boom")
	if err.Severity() != SeverityCritical || !err.ShouldAlert() {
		t.Fatalf("unregistered codes should inherit UNKNOWN attributes")
	}
	if CategoryOf(stdErrors.New("plain")) != CategoryInternal {
		t.Fatalf("plain errors are internal")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should map to UNKNOWN")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeConflict, "", WithMetadata("alias", "carol"))
	md := err.Metadata()
	md["alias"] = "mallory"
	if err.Metadata()["alias"] != "carol" {
		t.Fatalf("metadata must not be mutated through the returned map")
	}
}
