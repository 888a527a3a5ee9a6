package escrow

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// Service runs the wallet, listing, and bid escrow protocol over a Store.
type Service struct {
	store           Store
	eligibility     EligibilityProvider
	nowFn           func() int64
	notifier        Notifier
	credentials     CredentialGenerator
	commission      Commission
	platformAccount UserID
	premiumPlans    map[string]struct{}
	newID           func() string
	logger          OperationLogger
}

// NewService wires a Service.
func NewService(store Store, eligibility EligibilityProvider, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if eligibility == nil {
		return nil, fmt.Errorf("%w: eligibility dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:           store,
		eligibility:     eligibility,
		nowFn:           now,
		notifier:        noopNotifier{},
		credentials:     NewRandomCredentialGenerator(nil),
		commission:      mustDefaultCommission(),
		platformAccount: UserID{value: DefaultPlatformAccount},
		premiumPlans:    map[string]struct{}{DefaultPremiumPlan: {}},
		newID:           uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.platformAccount.IsZero() {
		return nil, fmt.Errorf("%w: platform account is empty", ErrInvalidServiceConfig)
	}
	if len(service.premiumPlans) == 0 {
		return nil, fmt.Errorf("%w: no premium plans configured", ErrInvalidServiceConfig)
	}
	return service, nil
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the best-effort notification dispatcher.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		if notifier != nil {
			service.notifier = notifier
		}
	}
}

// WithCredentialGenerator replaces the random credential source.
func WithCredentialGenerator(generator CredentialGenerator) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.credentials = generator
		}
	}
}

// WithCommission sets the platform commission applied at payout.
func WithCommission(commission Commission) ServiceOption {
	return func(service *Service) {
		service.commission = commission
	}
}

// WithPlatformAccount sets the account credited with commission.
func WithPlatformAccount(userID UserID) ServiceOption {
	return func(service *Service) {
		service.platformAccount = userID
	}
}

// WithPremiumPlans sets the subscription plans allowed to bid.
func WithPremiumPlans(plans ...string) ServiceOption {
	return func(service *Service) {
		normalized := make(map[string]struct{}, len(plans))
		for _, plan := range plans {
			trimmed := strings.ToLower(strings.TrimSpace(plan))
			if trimmed != "" {
				normalized[trimmed] = struct{}{}
			}
		}
		service.premiumPlans = normalized
	}
}

// WithIDGenerator replaces uuid generation for listing and bid ids.
func WithIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		if generator != nil {
			service.newID = generator
		}
	}
}

// PlatformAccount returns the account credited with commission.
func (service *Service) PlatformAccount() UserID {
	return service.platformAccount
}

// Commission returns the configured commission.
func (service *Service) Commission() Commission {
	return service.commission
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
