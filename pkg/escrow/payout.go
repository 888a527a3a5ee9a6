package escrow

import (
	"context"
	"fmt"
)

// Payout releases the winning bid's escrow: the seller receives the amount less commission and
// the platform account receives the commission. It succeeds at most once per sale.
func (service *Service) Payout(ctx context.Context, listingID ListingID, sellerID UserID) (Settlement, error) {
	var settlement Settlement
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		listing, err := transactionStore.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return ErrForbidden
		}
		if listing.Status != ListingStatusSold {
			return fmt.Errorf("%w: listing is %s", ErrInvalidState, listing.Status)
		}
		bid, found, err := transactionStore.FindWinningBid(ctx, listingID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: no accepted bid", ErrInvalidState)
		}
		if bid.EscrowStatus == EscrowStatusReleased {
			return ErrAlreadyReleased
		}
		if bid.EscrowStatus != EscrowStatusHeld {
			return fmt.Errorf("%w: escrow is %s", ErrInvalidState, bid.EscrowStatus)
		}
		nowUnixUTC := service.nowFn()
		split := service.commission.Split(bid.Amount)
		if err := transactionStore.ReleaseBidEscrow(ctx, bid.BidID, nowUnixUTC); err != nil {
			return err
		}
		if err := service.creditEarned(ctx, transactionStore, sellerID, split.PayoutAmount, EntryPayout, bid.BidID, nowUnixUTC); err != nil {
			return err
		}
		if err := service.creditEarned(ctx, transactionStore, service.platformAccount, split.PlatformFee, EntryCommission, bid.BidID, nowUnixUTC); err != nil {
			return err
		}
		settlement = Settlement{
			ListingID:    listingID,
			BidID:        bid.BidID,
			SellerID:     sellerID,
			Amount:       bid.Amount,
			PlatformFee:  split.PlatformFee,
			PayoutAmount: split.PayoutAmount,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPayout,
		UserID:    sellerID,
		ListingID: listingID,
		BidID:     settlement.BidID,
		Amount:    settlement.PayoutAmount,
		Error:     operationError,
	})
	if operationError != nil {
		return Settlement{}, operationError
	}
	service.dispatch(ctx, []pendingNotification{{
		userID: sellerID,
		event: Event{
			Type:            EventPayoutReleased,
			ListingID:       listingID,
			BidID:           settlement.BidID,
			AmountCents:     settlement.PayoutAmount,
			OccurredUnixUTC: service.nowFn(),
		},
	}})
	return settlement, nil
}

// creditEarned skips zero amounts; a zero commission rate leaves the platform untouched.
func (service *Service) creditEarned(ctx context.Context, transactionStore Store, userID UserID, amount AmountCents, entryType EntryType, bidID BidID, nowUnixUTC int64) error {
	if amount <= 0 {
		return nil
	}
	return transactionStore.Credit(ctx, Posting{
		UserID:         userID,
		Amount:         PositiveAmountCents(amount),
		Type:           entryType,
		ReferenceID:    bidID.String(),
		Earned:         true,
		CreatedUnixUTC: nowUnixUTC,
	})
}
