package escrow

import (
	"context"
	"fmt"
	"strings"
)

// KYCStatus is the identity-verification state reported by the identity provider.
type KYCStatus string

const (
	KYCStatusNone     KYCStatus = "none"
	KYCStatusPending  KYCStatus = "pending"
	KYCStatusApproved KYCStatus = "approved"
	KYCStatusRejected KYCStatus = "rejected"
)

// SubscriptionStatusActive marks a paid-up subscription.
const SubscriptionStatusActive = "active"

// ParseKYCStatus validates a KYC status; blank input means none.
func ParseKYCStatus(raw string) (KYCStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return KYCStatusNone, nil
	}
	switch status := KYCStatus(normalized); status {
	case KYCStatusNone, KYCStatusPending, KYCStatusApproved, KYCStatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKYCStatus, raw)
	}
}

func (status KYCStatus) String() string {
	return string(status)
}

// Enrollment is the verification record for a user.
type Enrollment struct {
	KYCStatus KYCStatus
}

// Subscription is the billing tier of a user.
type Subscription struct {
	Plan   string
	Status string
}

// EligibilityProvider answers marketplace eligibility questions. Implementations call external
// systems and must not be used while a store transaction is open.
type EligibilityProvider interface {
	EnrollmentStatus(ctx context.Context, userID UserID) (Enrollment, error)
	SubscriptionTier(ctx context.Context, userID UserID) (Subscription, error)
}

func (service *Service) requireVerified(ctx context.Context, userID UserID) error {
	enrollment, err := service.eligibility.EnrollmentStatus(ctx, userID)
	if err != nil {
		return WrapError(errorOperationService, errorSubjectEligible, errorCodeLookup, err)
	}
	if enrollment.KYCStatus != KYCStatusApproved {
		return fmt.Errorf("%w: kyc status %s", ErrNotEligible, enrollment.KYCStatus)
	}
	return nil
}

func (service *Service) requireBidder(ctx context.Context, userID UserID) error {
	if err := service.requireVerified(ctx, userID); err != nil {
		return err
	}
	subscription, err := service.eligibility.SubscriptionTier(ctx, userID)
	if err != nil {
		return WrapError(errorOperationService, errorSubjectEligible, errorCodeLookup, err)
	}
	if _, premium := service.premiumPlans[strings.ToLower(subscription.Plan)]; !premium {
		return fmt.Errorf("%w: plan %q", ErrNotEligible, subscription.Plan)
	}
	if !strings.EqualFold(subscription.Status, SubscriptionStatusActive) {
		return fmt.Errorf("%w: subscription %s", ErrNotEligible, subscription.Status)
	}
	return nil
}
