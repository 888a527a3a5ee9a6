package escrow

import (
	"errors"
	"fmt"
)

// Business outcomes returned by Service operations. Messages are safe to show to end users.
var (
	ErrNotEligible         = errors.New("marketplace participation requires approved verification and an active premium plan")
	ErrNotFound            = errors.New("not found")
	ErrExpired             = errors.New("listing has expired")
	ErrInvalidState        = errors.New("operation not allowed in the current state")
	ErrForbidden           = errors.New("not permitted for this user")
	ErrBidTooLow           = errors.New("bid must exceed current highest bid and base price")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateListing    = errors.New("an active listing already exists for this ad")
	ErrAlreadyReleased     = errors.New("escrow already released")
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different request")
	ErrStorageFailure      = errors.New("storage failure")
)

// Validation errors for malformed input.
var (
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidListingID      = errors.New("invalid listing id")
	ErrInvalidBidID          = errors.New("invalid bid id")
	ErrInvalidEntryID        = errors.New("invalid entry id")
	ErrInvalidAdReference    = errors.New("invalid ad reference id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidTargetViews    = errors.New("invalid target views")
	ErrInvalidDuration       = errors.New("invalid listing duration")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidCommissionRate = errors.New("invalid commission rate")
	ErrInvalidListingStatus  = errors.New("invalid listing status")
	ErrInvalidBidStatus      = errors.New("invalid bid status")
	ErrInvalidEscrowStatus   = errors.New("invalid escrow status")
	ErrInvalidEntryType      = errors.New("invalid entry type")
	ErrInvalidKYCStatus      = errors.New("invalid kyc status")
	ErrInvalidCredential     = errors.New("invalid access credential")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// StorageFailure tags an unexpected persistence error so callers can match ErrStorageFailure
// while the driver error stays reachable through errors.As.
func StorageFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// IsBusinessError reports whether err is one of the caller-visible marketplace outcomes.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrNotEligible,
		ErrNotFound,
		ErrExpired,
		ErrInvalidState,
		ErrForbidden,
		ErrBidTooLow,
		ErrInsufficientFunds,
		ErrDuplicateListing,
		ErrAlreadyReleased,
		ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
