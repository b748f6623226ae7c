package errs

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestErrorCodeMatching(t *testing.T) {
	t.Parallel()

	err := New(KindConflict, CodeInsufficientBalance, "balance too low")
	target := New(KindConflict, CodeInsufficientBalance, "different message")
	if !errors.Is(err, target) {
		t.Fatal("errors with the same code must match via errors.Is")
	}

	other := New(KindConflict, CodeInsufficientStock, "no stock")
	if errors.Is(err, other) {
		t.Fatal("different codes must not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := pkgerrors.New("connection refused")
	err := Wrap(cause, KindInfrastructure, CodeInternalError, "redis call failed")

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if CodeOf(err) != CodeInternalError {
		t.Fatalf("expected INTERNAL_ERROR, got %s", CodeOf(err))
	}
}

func TestKindOfUnknownError(t *testing.T) {
	t.Parallel()

	if KindOf(errors.New("plain")) != KindInfrastructure {
		t.Fatal("unknown errors must be treated as infrastructure failures")
	}
	if CodeOf(errors.New("plain")) != CodeInternalError {
		t.Fatal("unknown errors must map to INTERNAL_ERROR")
	}
}

func TestIsConflict(t *testing.T) {
	t.Parallel()

	if !IsConflict(New(KindConflict, CodeCouponExhausted, "gone")) {
		t.Fatal("exhausted coupon must be a conflict")
	}
	if IsConflict(New(KindValidation, CodeInvalidParameter, "bad")) {
		t.Fatal("validation error must not be a conflict")
	}
}
