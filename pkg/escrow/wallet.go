package escrow

import "context"

// Balance returns the account view; unknown users read as a zero balance without creating an account.
func (service *Service) Balance(ctx context.Context, userID UserID) (Account, error) {
	return service.store.GetAccount(ctx, userID)
}

// History lists journal entries for a user created before a cutoff, newest first.
func (service *Service) History(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, userID, beforeUnixUTC, normalizeLimit(limit))
}

// Deposit credits a wallet top-up. It is not revenue, so TotalEarned is unchanged.
func (service *Service) Deposit(ctx context.Context, userID UserID, amount PositiveAmountCents, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Account, error) {
	var account Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		err := transactionStore.Credit(ctx, Posting{
			UserID:         userID,
			Amount:         amount,
			Type:           EntryDeposit,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		account, err = transactionStore.GetAccount(ctx, userID)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationDeposit,
		UserID:         userID,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// Withdraw debits the wallet with a single compare-and-decrement.
func (service *Service) Withdraw(ctx context.Context, userID UserID, amount PositiveAmountCents, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Account, error) {
	var account Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		err := transactionStore.Debit(ctx, Posting{
			UserID:         userID,
			Amount:         amount,
			Type:           EntryWithdrawal,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		account, err = transactionStore.GetAccount(ctx, userID)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationWithdraw,
		UserID:         userID,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// refundBids returns escrow of every bid in the given status to its bidder and moves it to
// the target status. It must run inside a transaction holding the listing lock.
func (service *Service) refundBids(ctx context.Context, transactionStore Store, listingID ListingID, from BidStatus, to BidStatus, skip BidID, nowUnixUTC int64) ([]Bid, error) {
	bids, err := transactionStore.ListBidsByStatus(ctx, listingID, from)
	if err != nil {
		return nil, err
	}
	refunded := make([]Bid, 0, len(bids))
	for _, bid := range bids {
		if bid.BidID == skip {
			continue
		}
		if err := transactionStore.UpdateBidStatus(ctx, bid.BidID, from, to, EscrowStatusRefunded, nowUnixUTC); err != nil {
			return nil, err
		}
		if bid.EscrowStatus == EscrowStatusHeld {
			err := transactionStore.Credit(ctx, Posting{
				UserID:         bid.BidderID,
				Amount:         bid.Amount,
				Type:           EntryEscrowRefund,
				ReferenceID:    bid.BidID.String(),
				CreatedUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return nil, err
			}
		}
		refunded = append(refunded, bid)
	}
	return refunded, nil
}
