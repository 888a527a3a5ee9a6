// Package notify delivers escrow events to users.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "escrow.events"

var errNilClient = errors.New("notify: redis client is required")

// Message is the wire form of a published event.
type Message struct {
	UserID          string `json:"user_id"`
	Type            string `json:"type"`
	ListingID       string `json:"listing_id,omitempty"`
	BidID           string `json:"bid_id,omitempty"`
	AmountCents     int64  `json:"amount_cents"`
	OccurredUnixUTC int64  `json:"occurred_unix_utc"`
}

// NewMessage flattens an event addressed to userID.
func NewMessage(userID escrow.UserID, event escrow.Event) Message {
	return Message{
		UserID:          userID.String(),
		Type:            string(event.Type),
		ListingID:       event.ListingID.String(),
		BidID:           event.BidID.String(),
		AmountCents:     event.AmountCents.Int64(),
		OccurredUnixUTC: event.OccurredUnixUTC,
	}
}

// LogNotifier writes events to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (notifier *LogNotifier) Notify(_ context.Context, userID escrow.UserID, event escrow.Event) error {
	notifier.logger.Info("notification",
		zap.String("user_id", userID.String()),
		zap.String("event", string(event.Type)),
		zap.String("listing_id", event.ListingID.String()),
		zap.String("bid_id", event.BidID.String()),
		zap.Int64("amount_cents", event.AmountCents.Int64()),
	)
	return nil
}

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

// NewRedisPublisher returns a publisher; an empty channel uses DefaultChannel.
func NewRedisPublisher(client redis.Cmdable, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errNilClient
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (publisher *RedisPublisher) Notify(ctx context.Context, userID escrow.UserID, event escrow.Event) error {
	payload, err := json.Marshal(NewMessage(userID, event))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := publisher.client.Publish(ctx, publisher.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout delivers to every notifier and joins their failures.
type Fanout []escrow.Notifier

func (fanout Fanout) Notify(ctx context.Context, userID escrow.UserID, event escrow.Event) error {
	var errs []error
	for _, notifier := range fanout {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, userID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
