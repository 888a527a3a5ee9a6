package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a non-negative amount in the smallest currency unit.
type AmountCents int64

// PositiveAmountCents is a strictly positive amount in the smallest currency unit.
type PositiveAmountCents int64

// SignedAmountCents is a journal delta; negative values leave an account.
type SignedAmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens the amount.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// Int64 returns the raw value.
func (amount SignedAmountCents) Int64() int64 {
	return int64(amount)
}

// UserID identifies an account holder.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// ListingID identifies a marketplace listing.
type ListingID struct {
	value string
}

// NewListingID validates and normalizes a listing id.
func NewListingID(raw string) (ListingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ListingID{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	return ListingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ListingID) String() string {
	return id.value
}

// BidID identifies a bid.
type BidID struct {
	value string
}

// NewBidID validates and normalizes a bid id.
func NewBidID(raw string) (BidID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BidID{}, fmt.Errorf("%w: empty value", ErrInvalidBidID)
	}
	return BidID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BidID) String() string {
	return id.value
}

// EntryID identifies a wallet journal entry.
type EntryID struct {
	value string
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// AdReferenceID is the opaque id of the campaign a listing sells.
type AdReferenceID struct {
	value string
}

// NewAdReferenceID validates and normalizes an ad reference.
func NewAdReferenceID(raw string) (AdReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AdReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidAdReference)
	}
	return AdReferenceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AdReferenceID) String() string {
	return id.value
}

// IdempotencyKey scopes duplicate detection. The zero value means "no key".
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// ParseOptionalIdempotencyKey returns the zero key for blank input.
func ParseOptionalIdempotencyKey(raw string) (IdempotencyKey, error) {
	if strings.TrimSpace(raw) == "" {
		return IdempotencyKey{}, nil
	}
	return NewIdempotencyKey(raw)
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// ListingStatus defines the listing lifecycle.
type ListingStatus string

const (
	ListingStatusOpen              ListingStatus = "open"
	ListingStatusPendingAcceptance ListingStatus = "pending_acceptance"
	ListingStatusSold              ListingStatus = "sold"
	ListingStatusClosed            ListingStatus = "closed"
)

// ParseListingStatus validates a stored listing status.
func ParseListingStatus(raw string) (ListingStatus, error) {
	switch status := ListingStatus(strings.TrimSpace(raw)); status {
	case ListingStatusOpen, ListingStatusPendingAcceptance, ListingStatusSold, ListingStatusClosed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidListingStatus, raw)
	}
}

func (status ListingStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is possible.
func (status ListingStatus) IsTerminal() bool {
	return status == ListingStatusSold || status == ListingStatusClosed
}

// BidStatus defines the bid lifecycle.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusWithdrawn BidStatus = "withdrawn"
	BidStatusCompleted BidStatus = "completed"
)

// ParseBidStatus validates a stored bid status.
func ParseBidStatus(raw string) (BidStatus, error) {
	switch status := BidStatus(strings.TrimSpace(raw)); status {
	case BidStatusActive, BidStatusOutbid, BidStatusAccepted, BidStatusWithdrawn, BidStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBidStatus, raw)
	}
}

func (status BidStatus) String() string {
	return string(status)
}

// EscrowStatus tracks where a bid's funds are.
type EscrowStatus string

const (
	EscrowStatusNone     EscrowStatus = "none"
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusReleased EscrowStatus = "released"
)

// ParseEscrowStatus validates a stored escrow status.
func ParseEscrowStatus(raw string) (EscrowStatus, error) {
	switch status := EscrowStatus(strings.TrimSpace(raw)); status {
	case EscrowStatusNone, EscrowStatusHeld, EscrowStatusRefunded, EscrowStatusReleased:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEscrowStatus, raw)
	}
}

func (status EscrowStatus) String() string {
	return string(status)
}

// EntryType enumerates wallet journal entry kinds.
type EntryType string

const (
	EntryDeposit      EntryType = "deposit"
	EntryWithdrawal   EntryType = "withdrawal"
	EntryEscrowHold   EntryType = "escrow_hold"
	EntryEscrowRefund EntryType = "escrow_refund"
	EntryPayout       EntryType = "payout"
	EntryCommission   EntryType = "commission"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch entryType := EntryType(strings.TrimSpace(raw)); entryType {
	case EntryDeposit, EntryWithdrawal, EntryEscrowHold, EntryEscrowRefund, EntryPayout, EntryCommission:
		return entryType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

func (entryType EntryType) String() string {
	return string(entryType)
}

// AccessCredential lets the winning buyer pull the purchased ad for delivery.
type AccessCredential struct {
	APIKey string
	PIN    string
}

// IsZero reports whether no credential was issued.
func (credential AccessCredential) IsZero() bool {
	return credential.APIKey == "" && credential.PIN == ""
}

// Account is the balance view of one ledger account.
type Account struct {
	UserID      UserID
	Balance     AmountCents
	TotalEarned AmountCents
}

// Entry is one immutable wallet journal line.
type Entry struct {
	EntryID        EntryID
	UserID         UserID
	Type           EntryType
	AmountCents    SignedAmountCents
	ReferenceID    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Posting describes one atomic credit or debit together with its journal line.
type Posting struct {
	UserID         UserID
	Amount         PositiveAmountCents
	Type           EntryType
	ReferenceID    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	// Earned marks revenue that also increments TotalEarned.
	Earned         bool
	CreatedUnixUTC int64
}

// Listing is a seller's offer of ad inventory.
type Listing struct {
	ListingID         ListingID
	AdReferenceID     AdReferenceID
	SellerID          UserID
	BasePrice         PositiveAmountCents
	TargetViews       int64
	Status            ListingStatus
	CurrentHighestBid AmountCents
	WinnerID          UserID
	// ExpiresAtUnixUTC of zero means the listing never expires.
	ExpiresAtUnixUTC int64
	Credential       AccessCredential
	CreatedUnixUTC   int64
	UpdatedUnixUTC   int64
}

// ExpiredAt reports whether an open listing is past its expiry at the given instant.
func (listing Listing) ExpiredAt(nowUnixUTC int64) bool {
	return listing.Status == ListingStatusOpen && listing.ExpiresAtUnixUTC != 0 && nowUnixUTC >= listing.ExpiresAtUnixUTC
}

// Bid is one buyer offer on a listing.
type Bid struct {
	BidID          BidID
	ListingID      ListingID
	BidderID       UserID
	Amount         PositiveAmountCents
	Status         BidStatus
	EscrowStatus   EscrowStatus
	IdempotencyKey IdempotencyKey
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Settlement summarizes a released payout.
type Settlement struct {
	ListingID    ListingID
	BidID        BidID
	SellerID     UserID
	Amount       PositiveAmountCents
	PlatformFee  AmountCents
	PayoutAmount AmountCents
}

// Store is the persistence contract used by Service. Multi-step mutations run inside WithTx;
// Credit and Debit are the only balance mutations and each is a single atomic statement.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	Credit(ctx context.Context, posting Posting) error
	Debit(ctx context.Context, posting Posting) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error)

	CreateListing(ctx context.Context, listing Listing) error
	GetListing(ctx context.Context, listingID ListingID) (Listing, error)
	LockListing(ctx context.Context, listingID ListingID) (Listing, error)
	FindLiveListingByAd(ctx context.Context, adReferenceID AdReferenceID) (Listing, bool, error)
	ListOpenListings(ctx context.Context, nowUnixUTC int64, limit int) ([]Listing, error)
	ListExpiredListings(ctx context.Context, nowUnixUTC int64, limit int) ([]Listing, error)
	SetHighestBid(ctx context.Context, listingID ListingID, amount AmountCents, nowUnixUTC int64) error
	MarkListingSold(ctx context.Context, listingID ListingID, winnerID UserID, credential AccessCredential, nowUnixUTC int64) error
	UpdateListingStatus(ctx context.Context, listingID ListingID, from, to ListingStatus, nowUnixUTC int64) error

	CreateBid(ctx context.Context, bid Bid) error
	GetBid(ctx context.Context, bidID BidID) (Bid, error)
	FindBidByIdempotencyKey(ctx context.Context, bidderID UserID, key IdempotencyKey) (Bid, bool, error)
	FindWinningBid(ctx context.Context, listingID ListingID) (Bid, bool, error)
	ListBids(ctx context.Context, listingID ListingID) ([]Bid, error)
	ListBidsByStatus(ctx context.Context, listingID ListingID, status BidStatus) ([]Bid, error)
	UpdateBidStatus(ctx context.Context, bidID BidID, from BidStatus, to BidStatus, escrow EscrowStatus, nowUnixUTC int64) error
	ReleaseBidEscrow(ctx context.Context, bidID BidID, nowUnixUTC int64) error
}
