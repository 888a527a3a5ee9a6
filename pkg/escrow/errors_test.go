package escrow

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseErr := errors.New("boom")
	err := WrapError("service", "eligibility", "lookup", baseErr)
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError, got %T", err)
	}
	if operationError.Operation() != "service" || operationError.Subject() != "eligibility" || operationError.Code() != "lookup" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if err.Error() != "service.eligibility.lookup: boom" {
		test.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, baseErr) {
		test.Fatalf("expected wrapped error to unwrap")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError("a", "b", "c", nil) != nil {
		test.Fatalf("expected nil")
	}
	if StorageFailure(nil) != nil {
		test.Fatalf("expected nil storage failure")
	}
}

func TestStorageFailureKeepsCause(test *testing.T) {
	test.Parallel()
	cause := errors.New("connection reset")
	err := StorageFailure(cause)
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, cause) {
		test.Fatalf("expected both sentinel and cause, got %v", err)
	}
	if IsBusinessError(err) {
		test.Fatalf("storage failures are not business errors")
	}
}

func TestIsBusinessError(test *testing.T) {
	test.Parallel()
	for _, err := range []error{ErrNotEligible, ErrBidTooLow, fmt.Errorf("%w: listing is sold", ErrInvalidState), ErrIdempotencyConflict} {
		if !IsBusinessError(err) {
			test.Fatalf("expected %v to be a business error", err)
		}
	}
	if IsBusinessError(ErrInvalidAmount) {
		test.Fatalf("validation errors are not business errors")
	}
}
