package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testEvent(t *testing.T) (escrow.UserID, escrow.Event) {
	t.Helper()
	userID, err := escrow.NewUserID("seller")
	require.NoError(t, err)
	listingID, err := escrow.NewListingID("listing-1")
	require.NoError(t, err)
	bidID, err := escrow.NewBidID("bid-9")
	require.NoError(t, err)
	return userID, escrow.Event{
		Type:            escrow.EventBidPlaced,
		ListingID:       listingID,
		BidID:           bidID,
		AmountCents:     escrow.AmountCents(1500),
		OccurredUnixUTC: 1_700_000_000,
	}
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher, err := NewRedisPublisher(client, "")
	require.NoError(t, err)
	userID, event := testEvent(t)

	mock.ExpectPublish(DefaultChannel,
		`{"user_id":"seller","type":"bid.placed","listing_id":"listing-1","bid_id":"bid-9","amount_cents":1500,"occurred_unix_utc":1700000000}`,
	).SetVal(1)

	require.NoError(t, publisher.Notify(context.Background(), userID, event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisherReportsFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher, err := NewRedisPublisher(client, "custom")
	require.NoError(t, err)
	userID, event := testEvent(t)
	event.BidID = escrow.BidID{}

	mock.ExpectPublish("custom",
		`{"user_id":"seller","type":"bid.placed","listing_id":"listing-1","amount_cents":1500,"occurred_unix_utc":1700000000}`,
	).SetErr(errors.New("broken pipe"))

	err = publisher.Notify(context.Background(), userID, event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestLogNotifierWritesRecord(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))
	userID, event := testEvent(t)

	require.NoError(t, notifier.Notify(context.Background(), userID, event))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "seller", fields["user_id"])
	assert.Equal(t, "bid.placed", fields["event"])
	assert.Equal(t, int64(1500), fields["amount_cents"])
}

type failingNotifier struct {
	err   error
	calls int
}

func (notifier *failingNotifier) Notify(context.Context, escrow.UserID, escrow.Event) error {
	notifier.calls++
	return notifier.err
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	first := &failingNotifier{err: errors.New("first down")}
	second := &failingNotifier{}
	third := &failingNotifier{err: errors.New("third down")}
	userID, event := testEvent(t)

	err := Fanout{first, nil, second, third}.Notify(context.Background(), userID, event)
	require.Error(t, err)
	assert.ErrorIs(t, err, first.err)
	assert.ErrorIs(t, err, third.err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, third.calls)

	assert.NoError(t, Fanout{second}.Notify(context.Background(), userID, event))
}
