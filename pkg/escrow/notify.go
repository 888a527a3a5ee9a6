package escrow

import "context"

// EventType names a marketplace state transition.
type EventType string

const (
	EventBidPlaced      EventType = "bid.placed"
	EventBidOutbid      EventType = "bid.outbid"
	EventBidAccepted    EventType = "bid.accepted"
	EventListingClosed  EventType = "listing.closed"
	EventListingExpired EventType = "listing.expired"
	EventPayoutReleased EventType = "payout.released"
)

// Event is the payload handed to a Notifier after a committed transition.
type Event struct {
	Type            EventType
	ListingID       ListingID
	BidID           BidID
	AmountCents     AmountCents
	OccurredUnixUTC int64
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID UserID, event Event) error
}

type pendingNotification struct {
	userID UserID
	event  Event
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, UserID, Event) error {
	return nil
}

// dispatch runs after commit; failures are logged and swallowed.
func (service *Service) dispatch(ctx context.Context, notifications []pendingNotification) {
	for _, notification := range notifications {
		err := service.notifier.Notify(ctx, notification.userID, notification.event)
		if err == nil {
			continue
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationNotify,
			UserID:    notification.userID,
			ListingID: notification.event.ListingID,
			BidID:     notification.event.BidID,
			Amount:    notification.event.AmountCents,
			Metadata:  string(notification.event.Type),
			Error:     err,
		})
	}
}
