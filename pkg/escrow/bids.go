package escrow

import (
	"context"
	"errors"
	"fmt"
)

const metadataReplay = "replay"

// PlaceBid escrows amount from the bidder and makes the bid the listing's leader, refunding the
// previous leader in the same transaction. A non-empty idempotency key makes retries return the
// original bid.
func (service *Service) PlaceBid(ctx context.Context, listingID ListingID, bidderID UserID, amount PositiveAmountCents, idempotencyKey IdempotencyKey) (Bid, error) {
	var placement bidPlacement
	operationError := service.requireBidder(ctx, bidderID)
	if operationError == nil {
		placement, operationError = service.placeBid(ctx, listingID, bidderID, amount, idempotencyKey)
		// A concurrent request with the same key won the insert; the retry replays its bid.
		if !idempotencyKey.IsZero() && isStoredKeyCollision(operationError) {
			placement, operationError = service.placeBid(ctx, listingID, bidderID, amount, idempotencyKey)
		}
	}
	entry := OperationLog{
		Operation:      operationPlaceBid,
		UserID:         bidderID,
		ListingID:      listingID,
		BidID:          placement.bid.BidID,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	}
	if placement.replayed {
		entry.Metadata = metadataReplay
	}
	service.logOperation(ctx, entry)
	if operationError != nil {
		return Bid{}, operationError
	}
	service.dispatch(ctx, placement.notifications)
	return placement.bid, nil
}

type bidPlacement struct {
	bid           Bid
	replayed      bool
	notifications []pendingNotification
}

func (service *Service) placeBid(ctx context.Context, listingID ListingID, bidderID UserID, amount PositiveAmountCents, idempotencyKey IdempotencyKey) (bidPlacement, error) {
	var placement bidPlacement
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		listing, err := transactionStore.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		// The key is checked under the listing lock so a retry queued behind the original sees it.
		if !idempotencyKey.IsZero() {
			existing, found, err := transactionStore.FindBidByIdempotencyKey(ctx, bidderID, idempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if existing.ListingID != listingID || existing.Amount != amount {
					return ErrIdempotencyConflict
				}
				placement = bidPlacement{bid: existing, replayed: true}
				return nil
			}
		}
		placed, outbid, err := service.placeBidLocked(ctx, transactionStore, listing, bidderID, amount, idempotencyKey)
		if err != nil {
			return err
		}
		placement.bid = placed
		placement.notifications = append(refundNotifications(outbid, EventBidOutbid, placed.CreatedUnixUTC), pendingNotification{
			userID: listing.SellerID,
			event: Event{
				Type:            EventBidPlaced,
				ListingID:       listingID,
				BidID:           placed.BidID,
				AmountCents:     amount.ToAmountCents(),
				OccurredUnixUTC: placed.CreatedUnixUTC,
			},
		})
		return nil
	})
	if err != nil {
		return bidPlacement{}, err
	}
	return placement, nil
}

// isStoredKeyCollision reports a key conflict raised by the store's unique index rather than by a
// mismatched replay.
func isStoredKeyCollision(err error) bool {
	var operationError OperationError
	return errors.Is(err, ErrIdempotencyConflict) && errors.As(err, &operationError)
}

func (service *Service) placeBidLocked(ctx context.Context, transactionStore Store, listing Listing, bidderID UserID, amount PositiveAmountCents, idempotencyKey IdempotencyKey) (Bid, []Bid, error) {
	listingID := listing.ListingID
	nowUnixUTC := service.nowFn()
	if listing.ExpiredAt(nowUnixUTC) {
		return Bid{}, nil, ErrExpired
	}
	if listing.Status != ListingStatusOpen {
		return Bid{}, nil, fmt.Errorf("%w: listing is %s", ErrInvalidState, listing.Status)
	}
	if listing.SellerID == bidderID {
		return Bid{}, nil, fmt.Errorf("%w: sellers cannot bid on their own listing", ErrForbidden)
	}
	if amount.ToAmountCents() <= listing.CurrentHighestBid || amount <= listing.BasePrice {
		return Bid{}, nil, ErrBidTooLow
	}
	account, err := transactionStore.GetAccount(ctx, bidderID)
	if err != nil {
		return Bid{}, nil, err
	}
	if account.Balance < amount.ToAmountCents() {
		return Bid{}, nil, ErrInsufficientFunds
	}
	outbid, err := service.refundBids(ctx, transactionStore, listingID, BidStatusActive, BidStatusOutbid, BidID{}, nowUnixUTC)
	if err != nil {
		return Bid{}, nil, err
	}
	bidID, err := NewBidID(service.newID())
	if err != nil {
		return Bid{}, nil, err
	}
	err = transactionStore.Debit(ctx, Posting{
		UserID:         bidderID,
		Amount:         amount,
		Type:           EntryEscrowHold,
		ReferenceID:    bidID.String(),
		CreatedUnixUTC: nowUnixUTC,
	})
	if err != nil {
		return Bid{}, nil, err
	}
	bid := Bid{
		BidID:          bidID,
		ListingID:      listingID,
		BidderID:       bidderID,
		Amount:         amount,
		Status:         BidStatusActive,
		EscrowStatus:   EscrowStatusHeld,
		IdempotencyKey: idempotencyKey,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	if err := transactionStore.CreateBid(ctx, bid); err != nil {
		return Bid{}, nil, err
	}
	if err := transactionStore.SetHighestBid(ctx, listingID, amount.ToAmountCents(), nowUnixUTC); err != nil {
		return Bid{}, nil, err
	}
	return bid, outbid, nil
}

// AcceptBid sells the listing to the bid's bidder. Escrow stays held until Payout; the returned
// listing carries the freshly issued access credential.
func (service *Service) AcceptBid(ctx context.Context, bidID BidID, sellerID UserID) (Listing, error) {
	var (
		listing  Listing
		accepted Bid
	)
	operationError := service.acceptBid(ctx, bidID, sellerID, &listing, &accepted)
	service.logOperation(ctx, OperationLog{
		Operation: operationAcceptBid,
		UserID:    sellerID,
		ListingID: listing.ListingID,
		BidID:     bidID,
		Amount:    accepted.Amount.ToAmountCents(),
		Error:     operationError,
	})
	if operationError != nil {
		return Listing{}, operationError
	}
	service.dispatch(ctx, []pendingNotification{{
		userID: accepted.BidderID,
		event: Event{
			Type:            EventBidAccepted,
			ListingID:       listing.ListingID,
			BidID:           accepted.BidID,
			AmountCents:     accepted.Amount.ToAmountCents(),
			OccurredUnixUTC: listing.UpdatedUnixUTC,
		},
	}})
	return listing, nil
}

func (service *Service) acceptBid(ctx context.Context, bidID BidID, sellerID UserID, listing *Listing, accepted *Bid) error {
	credential, err := service.credentials.Generate()
	if err != nil {
		return WrapError(errorOperationService, errorSubjectCredential, errorCodeGenerate, err)
	}
	if credential.IsZero() {
		return ErrInvalidCredential
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		bid, err := transactionStore.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		locked, err := transactionStore.LockListing(ctx, bid.ListingID)
		if err != nil {
			return err
		}
		if locked.SellerID != sellerID {
			return ErrForbidden
		}
		nowUnixUTC := service.nowFn()
		if locked.ExpiredAt(nowUnixUTC) {
			return ErrExpired
		}
		if locked.Status != ListingStatusOpen {
			return fmt.Errorf("%w: listing is %s", ErrInvalidState, locked.Status)
		}
		// Re-read under the listing lock; a concurrent bid may have outbid it.
		bid, err = transactionStore.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.Status != BidStatusActive {
			return fmt.Errorf("%w: bid is %s", ErrInvalidState, bid.Status)
		}
		if err := transactionStore.MarkListingSold(ctx, locked.ListingID, bid.BidderID, credential, nowUnixUTC); err != nil {
			return err
		}
		if err := transactionStore.UpdateBidStatus(ctx, bid.BidID, BidStatusActive, BidStatusAccepted, EscrowStatusHeld, nowUnixUTC); err != nil {
			return err
		}
		if _, err := service.refundBids(ctx, transactionStore, locked.ListingID, BidStatusActive, BidStatusWithdrawn, bid.BidID, nowUnixUTC); err != nil {
			return err
		}
		locked.Status = ListingStatusSold
		locked.WinnerID = bid.BidderID
		locked.Credential = credential
		locked.UpdatedUnixUTC = nowUnixUTC
		bid.Status = BidStatusAccepted
		bid.UpdatedUnixUTC = nowUnixUTC
		*listing = locked
		*accepted = bid
		return nil
	})
}

// GetBid loads one bid.
func (service *Service) GetBid(ctx context.Context, bidID BidID) (Bid, error) {
	return service.store.GetBid(ctx, bidID)
}

// ListBids returns every bid on a listing in placement order.
func (service *Service) ListBids(ctx context.Context, listingID ListingID) ([]Bid, error) {
	if _, err := service.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return service.store.ListBids(ctx, listingID)
}
