package escrow

const (
	operationDeposit       = "deposit"
	operationWithdraw      = "withdraw"
	operationCreateListing = "create_listing"
	operationCloseListing  = "close_listing"
	operationExpireListing = "expire_listing"
	operationPlaceBid      = "place_bid"
	operationAcceptBid     = "accept_bid"
	operationPayout        = "payout"
	operationNotify        = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService  = "service"
	errorSubjectEligible   = "eligibility"
	errorSubjectCredential = "credential"
	errorCodeLookup        = "lookup"
	errorCodeGenerate      = "generate"

	// DefaultPlatformAccount receives commission at payout.
	DefaultPlatformAccount = "platform"
	// DefaultCommissionRate is the platform share of a completed sale.
	DefaultCommissionRate = "0.15"
	// DefaultPremiumPlan is the subscription plan allowed to bid.
	DefaultPremiumPlan = "premium"

	secondsPerDay = int64(24 * 60 * 60)
	// MaxDurationDays bounds how far ahead a listing may expire.
	MaxDurationDays = 3650

	defaultListLimit = 50
	maxListLimit     = 200
)
