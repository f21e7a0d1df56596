package aclengine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sheetguard/aclengine"
)

func TestSentinelHelpers(t *testing.T) {
	t.Run("IsNeedReload", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", aclengine.ErrNeedReload)
		if !aclengine.IsNeedReload(err) {
			t.Error("IsNeedReload should return true for a wrapped ErrNeedReload")
		}
		if aclengine.IsNeedReload(errors.New("other")) {
			t.Error("IsNeedReload should return false for unrelated errors")
		}
	})

	t.Run("IsMalformedRule", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", aclengine.ErrMalformedRule)
		if !aclengine.IsMalformedRule(err) {
			t.Error("IsMalformedRule should return true for a wrapped ErrMalformedRule")
		}
	})

	t.Run("IsCollaboratorFailure", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", aclengine.ErrCollaboratorFailed)
		if !aclengine.IsCollaboratorFailure(err) {
			t.Error("IsCollaboratorFailure should return true for a wrapped ErrCollaboratorFailed")
		}
	})
}

func TestNewValidationErrorSatisfiesBothForms(t *testing.T) {
	inner := errors.New("bad column reference")
	err := aclengine.NewValidationError(aclengine.CodeUnknownColumn, "unknown column", inner)

	if !errors.Is(err, aclengine.ErrMalformedRule) {
		t.Error("NewValidationError result should satisfy errors.Is(err, ErrMalformedRule)")
	}
	if !aclengine.IsMalformedRule(err) {
		t.Error("IsMalformedRule should recognize a ValidationError")
	}

	ve, ok := aclengine.IsValidationError(err)
	if !ok {
		t.Fatal("IsValidationError should unwrap to a *ValidationError")
	}
	if ve.ErrorCode() != aclengine.CodeUnknownColumn {
		t.Errorf("ErrorCode() = %d, want %d", ve.ErrorCode(), aclengine.CodeUnknownColumn)
	}
	if !errors.Is(err, inner) {
		t.Error("the wrapped inner error should still be reachable via errors.Is")
	}
}

func TestIsValidationErrorFalseForPlainError(t *testing.T) {
	if _, ok := aclengine.IsValidationError(errors.New("plain")); ok {
		t.Error("IsValidationError should return false for a non-ValidationError")
	}
}
