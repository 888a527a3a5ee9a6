package escrow

import (
	"context"
	"testing"
)

const (
	fixtureStartUnixUTC = int64(1_700_000_000)
	errorMismatchFormat = "expected %v, got %v"
)

type fixture struct {
	store       *memoryStore
	eligibility *stubEligibility
	notifier    *recordingNotifier
	clock       *testClock
	service     *Service
	seller      UserID
	alice       UserID
	bob         UserID
	carol       UserID
}

func newFixture(test *testing.T, options ...ServiceOption) *fixture {
	test.Helper()
	environment := &fixture{
		store:       newMemoryStore(),
		eligibility: newStubEligibility(),
		notifier:    newRecordingNotifier(),
		clock:       newTestClock(fixtureStartUnixUTC),
		seller:      mustUserID(test, "seller"),
		alice:       mustUserID(test, "alice"),
		bob:         mustUserID(test, "bob"),
		carol:       mustUserID(test, "carol"),
	}
	environment.eligibility.approve(environment.seller, environment.alice, environment.bob, environment.carol)
	ids := &sequentialIDs{}
	defaults := []ServiceOption{
		WithNotifier(environment.notifier),
		WithIDGenerator(ids.next),
		WithCredentialGenerator(fixedCredentials{credential: AccessCredential{APIKey: "00112233445566778899aabbccddeeff", PIN: "0420"}}),
	}
	service, err := NewService(environment.store, environment.eligibility, environment.clock.read, append(defaults, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	environment.service = service
	return environment
}

func (environment *fixture) mustCreateListing(test *testing.T, adReference string, basePrice int64, durationDays int) Listing {
	test.Helper()
	listing, err := environment.service.CreateListing(context.Background(), environment.seller, mustAdReference(test, adReference), mustPositiveAmount(test, basePrice), 1000, durationDays)
	if err != nil {
		test.Fatalf("create listing: %v", err)
	}
	return listing
}

func (environment *fixture) mustPlaceBid(test *testing.T, listingID ListingID, bidderID UserID, amount int64) Bid {
	test.Helper()
	bid, err := environment.service.PlaceBid(context.Background(), listingID, bidderID, mustPositiveAmount(test, amount), IdempotencyKey{})
	if err != nil {
		test.Fatalf("place bid %d: %v", amount, err)
	}
	return bid
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustAdReference(test *testing.T, raw string) AdReferenceID {
	test.Helper()
	adReferenceID, err := NewAdReferenceID(raw)
	if err != nil {
		test.Fatalf("ad reference: %v", err)
	}
	return adReferenceID
}

func mustListingID(test *testing.T, raw string) ListingID {
	test.Helper()
	listingID, err := NewListingID(raw)
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	return listingID
}

func mustBidID(test *testing.T, raw string) BidID {
	test.Helper()
	bidID, err := NewBidID(raw)
	if err != nil {
		test.Fatalf("bid id: %v", err)
	}
	return bidID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	amount, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	return amount
}
