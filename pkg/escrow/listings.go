package escrow

import (
	"context"
	"fmt"
)

// CreateListing opens a listing for an ad. Only one open, pending, or sold listing may exist per ad.
func (service *Service) CreateListing(ctx context.Context, sellerID UserID, adReferenceID AdReferenceID, basePrice PositiveAmountCents, targetViews int64, durationDays int) (Listing, error) {
	var listing Listing
	operationError := service.createListing(ctx, sellerID, adReferenceID, basePrice, targetViews, durationDays, &listing)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateListing,
		UserID:    sellerID,
		ListingID: listing.ListingID,
		Amount:    basePrice.ToAmountCents(),
		Metadata:  adReferenceID.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Listing{}, operationError
	}
	return listing, nil
}

func (service *Service) createListing(ctx context.Context, sellerID UserID, adReferenceID AdReferenceID, basePrice PositiveAmountCents, targetViews int64, durationDays int, result *Listing) error {
	if targetViews < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidTargetViews)
	}
	if durationDays > MaxDurationDays {
		return fmt.Errorf("%w: at most %d days", ErrInvalidDuration, MaxDurationDays)
	}
	if err := service.requireVerified(ctx, sellerID); err != nil {
		return err
	}
	listingID, err := NewListingID(service.newID())
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, found, err := transactionStore.FindLiveListingByAd(ctx, adReferenceID)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: listing %s is %s", ErrDuplicateListing, existing.ListingID.String(), existing.Status)
		}
		nowUnixUTC := service.nowFn()
		listing := Listing{
			ListingID:      listingID,
			AdReferenceID:  adReferenceID,
			SellerID:       sellerID,
			BasePrice:      basePrice,
			TargetViews:    targetViews,
			Status:         ListingStatusOpen,
			CreatedUnixUTC: nowUnixUTC,
			UpdatedUnixUTC: nowUnixUTC,
		}
		if durationDays > 0 {
			listing.ExpiresAtUnixUTC = nowUnixUTC + int64(durationDays)*secondsPerDay
		}
		if err := transactionStore.CreateListing(ctx, listing); err != nil {
			return err
		}
		*result = listing
		return nil
	})
}

// GetListing loads a listing. Expiry is not written back; callers use Listing.ExpiredAt.
func (service *Service) GetListing(ctx context.Context, listingID ListingID) (Listing, error) {
	return service.store.GetListing(ctx, listingID)
}

// ListOpenListings returns open listings that have not expired, newest first.
func (service *Service) ListOpenListings(ctx context.Context, limit int) ([]Listing, error) {
	return service.store.ListOpenListings(ctx, service.nowFn(), normalizeLimit(limit))
}

// Now returns the service clock reading.
func (service *Service) Now() int64 {
	return service.nowFn()
}

// CloseListing cancels an unsold listing and refunds its current leader. Closing an already closed
// listing is a no-op.
func (service *Service) CloseListing(ctx context.Context, listingID ListingID, requesterID UserID) (Listing, error) {
	var (
		listing       Listing
		notifications []pendingNotification
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if locked.SellerID != requesterID {
			return ErrForbidden
		}
		switch locked.Status {
		case ListingStatusClosed:
			listing = locked
			return nil
		case ListingStatusSold:
			return fmt.Errorf("%w: listing already sold", ErrInvalidState)
		}
		closed, refunded, err := service.closeLocked(ctx, transactionStore, locked)
		if err != nil {
			return err
		}
		listing = closed
		notifications = refundNotifications(refunded, EventListingClosed, closed.UpdatedUnixUTC)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCloseListing,
		UserID:    requesterID,
		ListingID: listingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Listing{}, operationError
	}
	service.dispatch(ctx, notifications)
	return listing, nil
}

// ExpireListing closes an open listing whose expiry has passed and refunds its leader.
func (service *Service) ExpireListing(ctx context.Context, listingID ListingID) (Listing, error) {
	var (
		listing       Listing
		notifications []pendingNotification
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if !locked.ExpiredAt(service.nowFn()) {
			return fmt.Errorf("%w: listing is %s and not expired", ErrInvalidState, locked.Status)
		}
		closed, refunded, err := service.closeLocked(ctx, transactionStore, locked)
		if err != nil {
			return err
		}
		listing = closed
		notifications = refundNotifications(refunded, EventListingExpired, closed.UpdatedUnixUTC)
		notifications = append(notifications, pendingNotification{
			userID: closed.SellerID,
			event:  Event{Type: EventListingExpired, ListingID: closed.ListingID, OccurredUnixUTC: closed.UpdatedUnixUTC},
		})
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationExpireListing,
		ListingID: listingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Listing{}, operationError
	}
	service.dispatch(ctx, notifications)
	return listing, nil
}

// SweepExpired expires up to limit listings and returns how many were closed. Listings that change
// state concurrently are skipped.
func (service *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := service.store.ListExpiredListings(ctx, service.nowFn(), normalizeLimit(limit))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, listing := range expired {
		if _, err := service.ExpireListing(ctx, listing.ListingID); err != nil {
			if IsBusinessError(err) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// Credential discloses a sold listing's access credential to its winner or seller.
func (service *Service) Credential(ctx context.Context, listingID ListingID, requesterID UserID) (AccessCredential, error) {
	listing, err := service.store.GetListing(ctx, listingID)
	if err != nil {
		return AccessCredential{}, err
	}
	if listing.SellerID != requesterID && listing.WinnerID != requesterID {
		return AccessCredential{}, ErrForbidden
	}
	if listing.Status != ListingStatusSold {
		return AccessCredential{}, fmt.Errorf("%w: listing is %s", ErrInvalidState, listing.Status)
	}
	return listing.Credential, nil
}

func (service *Service) closeLocked(ctx context.Context, transactionStore Store, locked Listing) (Listing, []Bid, error) {
	nowUnixUTC := service.nowFn()
	refunded, err := service.refundBids(ctx, transactionStore, locked.ListingID, BidStatusActive, BidStatusWithdrawn, BidID{}, nowUnixUTC)
	if err != nil {
		return Listing{}, nil, err
	}
	if err := transactionStore.UpdateListingStatus(ctx, locked.ListingID, locked.Status, ListingStatusClosed, nowUnixUTC); err != nil {
		return Listing{}, nil, err
	}
	locked.Status = ListingStatusClosed
	locked.UpdatedUnixUTC = nowUnixUTC
	return locked, refunded, nil
}

func refundNotifications(refunded []Bid, eventType EventType, nowUnixUTC int64) []pendingNotification {
	notifications := make([]pendingNotification, 0, len(refunded))
	for _, bid := range refunded {
		notifications = append(notifications, pendingNotification{
			userID: bid.BidderID,
			event: Event{
				Type:            eventType,
				ListingID:       bid.ListingID,
				BidID:           bid.BidID,
				AmountCents:     bid.Amount.ToAmountCents(),
				OccurredUnixUTC: nowUnixUTC,
			},
		})
	}
	return notifications
}
