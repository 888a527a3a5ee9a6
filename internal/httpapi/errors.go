package httpapi

import (
	"errors"
	"net/http"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/gin-gonic/gin"
)

const (
	codeInvalidPayload = "invalid_payload"
	codeInvalidRequest = "invalid_request"
	codeInternalError  = "internal_error"
	messageInternal    = "internal error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var businessErrorMappings = []errorMapping{
	{target: escrow.ErrNotEligible, status: http.StatusForbidden, code: "not_eligible"},
	{target: escrow.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{target: escrow.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: escrow.ErrExpired, status: http.StatusConflict, code: "listing_expired"},
	{target: escrow.ErrInvalidState, status: http.StatusConflict, code: "invalid_state"},
	{target: escrow.ErrDuplicateListing, status: http.StatusConflict, code: "duplicate_listing"},
	{target: escrow.ErrAlreadyReleased, status: http.StatusConflict, code: "already_released"},
	{target: escrow.ErrIdempotencyConflict, status: http.StatusConflict, code: "idempotency_conflict"},
	{target: escrow.ErrBidTooLow, status: http.StatusBadRequest, code: "bid_too_low"},
	{target: escrow.ErrInsufficientFunds, status: http.StatusBadRequest, code: "insufficient_funds"},
}

var validationErrors = []error{
	escrow.ErrInvalidUserID,
	escrow.ErrInvalidListingID,
	escrow.ErrInvalidBidID,
	escrow.ErrInvalidEntryID,
	escrow.ErrInvalidAdReference,
	escrow.ErrInvalidAmount,
	escrow.ErrInvalidTargetViews,
	escrow.ErrInvalidDuration,
	escrow.ErrInvalidIdempotencyKey,
	escrow.ErrInvalidMetadataJSON,
}

// classifyError maps err to an HTTP status, a stable code, and a message safe for clients.
func classifyError(err error) (int, string, string) {
	if errors.Is(err, escrow.ErrStorageFailure) {
		return http.StatusInternalServerError, codeInternalError, messageInternal
	}
	for _, mapping := range businessErrorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code, mapping.target.Error()
		}
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, codeInvalidRequest, target.Error()
		}
	}
	return http.StatusInternalServerError, codeInternalError, messageInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
