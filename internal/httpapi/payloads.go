package httpapi

import (
	"encoding/json"

	"github.com/adgyapan/escrow/pkg/escrow"
)

type walletPayload struct {
	Balance balancePayload `json:"balance"`
	Entries []entryPayload `json:"entries"`
}

type balancePayload struct {
	BalanceCents     int64 `json:"balance_cents"`
	TotalEarnedCents int64 `json:"total_earned_cents"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Type           string          `json:"type"`
	AmountCents    int64           `json:"amount_cents"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type listingPayload struct {
	ListingID         string `json:"listing_id"`
	AdReferenceID     string `json:"ad_reference_id"`
	SellerID          string `json:"seller_id"`
	BasePriceCents    int64  `json:"base_price_cents"`
	TargetViews       int64  `json:"target_views"`
	Status            string `json:"status"`
	CurrentHighestBid int64  `json:"current_highest_bid_cents"`
	WinnerID          string `json:"winner_id,omitempty"`
	ExpiresAtUnixUTC  int64  `json:"expires_at_unix_utc,omitempty"`
	Expired           bool   `json:"expired"`
	CreatedUnixUTC    int64  `json:"created_unix_utc"`
}

type bidPayload struct {
	BidID          string `json:"bid_id"`
	ListingID      string `json:"listing_id"`
	BidderID       string `json:"bidder_id"`
	AmountCents    int64  `json:"amount_cents"`
	Status         string `json:"status"`
	EscrowStatus   string `json:"escrow_status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type credentialPayload struct {
	APIKey string `json:"api_key"`
	PIN    string `json:"pin"`
}

type settlementPayload struct {
	ListingID         string `json:"listing_id"`
	BidID             string `json:"bid_id"`
	SellerID          string `json:"seller_id"`
	AmountCents       int64  `json:"amount_cents"`
	PlatformFeeCents  int64  `json:"platform_fee_cents"`
	PayoutAmountCents int64  `json:"payout_amount_cents"`
}

func newWalletPayload(account escrow.Account, entries []escrow.Entry) walletPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryPayload{
			EntryID:        entry.EntryID.String(),
			Type:           entry.Type.String(),
			AmountCents:    entry.AmountCents.Int64(),
			ReferenceID:    entry.ReferenceID,
			IdempotencyKey: entry.IdempotencyKey.String(),
			Metadata:       json.RawMessage(entry.Metadata.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return walletPayload{
		Balance: balancePayload{
			BalanceCents:     account.Balance.Int64(),
			TotalEarnedCents: account.TotalEarned.Int64(),
		},
		Entries: payloads,
	}
}

// newListingPayload omits the credential; it is disclosed only through the credential route.
func newListingPayload(listing escrow.Listing, nowUnixUTC int64) listingPayload {
	return listingPayload{
		ListingID:         listing.ListingID.String(),
		AdReferenceID:     listing.AdReferenceID.String(),
		SellerID:          listing.SellerID.String(),
		BasePriceCents:    listing.BasePrice.Int64(),
		TargetViews:       listing.TargetViews,
		Status:            listing.Status.String(),
		CurrentHighestBid: listing.CurrentHighestBid.Int64(),
		WinnerID:          listing.WinnerID.String(),
		ExpiresAtUnixUTC:  listing.ExpiresAtUnixUTC,
		Expired:           listing.ExpiredAt(nowUnixUTC),
		CreatedUnixUTC:    listing.CreatedUnixUTC,
	}
}

func newBidPayload(bid escrow.Bid) bidPayload {
	return bidPayload{
		BidID:          bid.BidID.String(),
		ListingID:      bid.ListingID.String(),
		BidderID:       bid.BidderID.String(),
		AmountCents:    bid.Amount.Int64(),
		Status:         bid.Status.String(),
		EscrowStatus:   bid.EscrowStatus.String(),
		CreatedUnixUTC: bid.CreatedUnixUTC,
	}
}

func newCredentialPayload(credential escrow.AccessCredential) credentialPayload {
	return credentialPayload{APIKey: credential.APIKey, PIN: credential.PIN}
}

func newSettlementPayload(settlement escrow.Settlement) settlementPayload {
	return settlementPayload{
		ListingID:         settlement.ListingID.String(),
		BidID:             settlement.BidID.String(),
		SellerID:          settlement.SellerID.String(),
		AmountCents:       settlement.Amount.Int64(),
		PlatformFeeCents:  settlement.PlatformFee.Int64(),
		PayoutAmountCents: settlement.PayoutAmount.Int64(),
	}
}
