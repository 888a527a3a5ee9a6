package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	methodCredit          = "Credit"
	methodDebit           = "Debit"
	methodGetAccount      = "GetAccount"
	methodCreateListing   = "CreateListing"
	methodLockListing     = "LockListing"
	methodSetHighestBid   = "SetHighestBid"
	methodMarkListingSold = "MarkListingSold"
	methodCreateBid       = "CreateBid"
	methodUpdateBidStatus = "UpdateBidStatus"
	methodReleaseEscrow   = "ReleaseBidEscrow"
	methodListBidsStatus  = "ListBidsByStatus"
	methodFindBidByKey    = "FindBidByIdempotencyKey"
)

var errStoreFailure = errors.New("store error")

// memoryStore serializes transactions with a mutex and applies a transaction's writes only on
// success. Calls made outside WithTx are not synchronized.
type memoryStore struct {
	mu sync.Mutex
	*memoryTx
}

type memoryState struct {
	accounts     map[UserID]Account
	entries      []Entry
	postingKeys  map[string]struct{}
	listings     map[ListingID]Listing
	listingOrder []ListingID
	bids         map[BidID]Bid
	bidOrder     []BidID
	entrySeq     int
}

type memoryTx struct {
	state    *memoryState
	failures map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		memoryTx: &memoryTx{
			state: &memoryState{
				accounts:    make(map[UserID]Account),
				postingKeys: make(map[string]struct{}),
				listings:    make(map[ListingID]Listing),
				bids:        make(map[BidID]Bid),
			},
			failures: make(map[string]error),
		},
	}
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction := &memoryTx{state: store.state.clone(), failures: store.failures}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	store.state = transaction.state
	return nil
}

// failOn makes every later call of method return err.
func (store *memoryStore) failOn(method string, err error) {
	store.failures[method] = err
}

func (store *memoryStore) seedBalance(test *testing.T, userID UserID, amount int64) {
	test.Helper()
	err := store.Credit(context.Background(), Posting{UserID: userID, Amount: mustPositiveAmount(test, amount), Type: EntryDeposit})
	if err != nil {
		test.Fatalf("seed balance: %v", err)
	}
}

func (store *memoryStore) balance(userID UserID) int64 {
	return store.state.accounts[userID].Balance.Int64()
}

func (store *memoryStore) earned(userID UserID) int64 {
	return store.state.accounts[userID].TotalEarned.Int64()
}

// heldTotal sums escrow still owned by the platform on behalf of bidders.
func (store *memoryStore) heldTotal() int64 {
	var total int64
	for _, bid := range store.state.bids {
		if bid.EscrowStatus == EscrowStatusHeld {
			total += bid.Amount.Int64()
		}
	}
	return total
}

func (store *memoryStore) balanceTotal() int64 {
	var total int64
	for _, account := range store.state.accounts {
		total += account.Balance.Int64()
	}
	return total
}

func (store *memoryStore) mustListing(test *testing.T, listingID ListingID) Listing {
	test.Helper()
	listing, ok := store.state.listings[listingID]
	if !ok {
		test.Fatalf("listing %s not found", listingID.String())
	}
	return listing
}

func (store *memoryStore) mustBid(test *testing.T, bidID BidID) Bid {
	test.Helper()
	bid, ok := store.state.bids[bidID]
	if !ok {
		test.Fatalf("bid %s not found", bidID.String())
	}
	return bid
}

func (state *memoryState) clone() *memoryState {
	cloned := &memoryState{
		accounts:     make(map[UserID]Account, len(state.accounts)),
		entries:      append([]Entry(nil), state.entries...),
		postingKeys:  make(map[string]struct{}, len(state.postingKeys)),
		listings:     make(map[ListingID]Listing, len(state.listings)),
		listingOrder: append([]ListingID(nil), state.listingOrder...),
		bids:         make(map[BidID]Bid, len(state.bids)),
		bidOrder:     append([]BidID(nil), state.bidOrder...),
		entrySeq:     state.entrySeq,
	}
	for key, value := range state.accounts {
		cloned.accounts[key] = value
	}
	for key := range state.postingKeys {
		cloned.postingKeys[key] = struct{}{}
	}
	for key, value := range state.listings {
		cloned.listings[key] = value
	}
	for key, value := range state.bids {
		cloned.bids[key] = value
	}
	return cloned
}

func (transaction *memoryTx) fail(method string) error {
	return transaction.failures[method]
}

func (transaction *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *memoryTx) record(posting Posting, delta int64) error {
	if !posting.IdempotencyKey.IsZero() {
		scoped := posting.UserID.String() + "|" + posting.IdempotencyKey.String()
		if _, exists := transaction.state.postingKeys[scoped]; exists {
			return ErrIdempotencyConflict
		}
		transaction.state.postingKeys[scoped] = struct{}{}
	}
	transaction.state.entrySeq++
	transaction.state.entries = append(transaction.state.entries, Entry{
		EntryID:        EntryID{value: fmt.Sprintf("entry-%d", transaction.state.entrySeq)},
		UserID:         posting.UserID,
		Type:           posting.Type,
		AmountCents:    SignedAmountCents(delta),
		ReferenceID:    posting.ReferenceID,
		IdempotencyKey: posting.IdempotencyKey,
		Metadata:       posting.Metadata,
		CreatedUnixUTC: posting.CreatedUnixUTC,
	})
	return nil
}

func (transaction *memoryTx) Credit(ctx context.Context, posting Posting) error {
	if err := transaction.fail(methodCredit); err != nil {
		return err
	}
	if err := transaction.record(posting, posting.Amount.Int64()); err != nil {
		return err
	}
	account := transaction.state.accounts[posting.UserID]
	account.UserID = posting.UserID
	account.Balance += posting.Amount.ToAmountCents()
	if posting.Earned {
		account.TotalEarned += posting.Amount.ToAmountCents()
	}
	transaction.state.accounts[posting.UserID] = account
	return nil
}

func (transaction *memoryTx) Debit(ctx context.Context, posting Posting) error {
	if err := transaction.fail(methodDebit); err != nil {
		return err
	}
	account, ok := transaction.state.accounts[posting.UserID]
	if !ok || account.Balance < posting.Amount.ToAmountCents() {
		return ErrInsufficientFunds
	}
	if err := transaction.record(posting, -posting.Amount.Int64()); err != nil {
		return err
	}
	account.Balance -= posting.Amount.ToAmountCents()
	transaction.state.accounts[posting.UserID] = account
	return nil
}

func (transaction *memoryTx) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	if err := transaction.fail(methodGetAccount); err != nil {
		return Account{}, err
	}
	account, ok := transaction.state.accounts[userID]
	if !ok {
		return Account{UserID: userID}, nil
	}
	return account, nil
}

func (transaction *memoryTx) ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	var result []Entry
	for index := len(transaction.state.entries) - 1; index >= 0 && len(result) < limit; index-- {
		entry := transaction.state.entries[index]
		if entry.UserID != userID {
			continue
		}
		if beforeUnixUTC > 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (transaction *memoryTx) CreateListing(ctx context.Context, listing Listing) error {
	if err := transaction.fail(methodCreateListing); err != nil {
		return err
	}
	if _, found, _ := transaction.FindLiveListingByAd(ctx, listing.AdReferenceID); found {
		return ErrDuplicateListing
	}
	transaction.state.listings[listing.ListingID] = listing
	transaction.state.listingOrder = append(transaction.state.listingOrder, listing.ListingID)
	return nil
}

func (transaction *memoryTx) GetListing(ctx context.Context, listingID ListingID) (Listing, error) {
	listing, ok := transaction.state.listings[listingID]
	if !ok {
		return Listing{}, ErrNotFound
	}
	return listing, nil
}

func (transaction *memoryTx) LockListing(ctx context.Context, listingID ListingID) (Listing, error) {
	if err := transaction.fail(methodLockListing); err != nil {
		return Listing{}, err
	}
	return transaction.GetListing(ctx, listingID)
}

func (transaction *memoryTx) FindLiveListingByAd(ctx context.Context, adReferenceID AdReferenceID) (Listing, bool, error) {
	for _, listingID := range transaction.state.listingOrder {
		listing := transaction.state.listings[listingID]
		if listing.AdReferenceID == adReferenceID && listing.Status != ListingStatusClosed {
			return listing, true, nil
		}
	}
	return Listing{}, false, nil
}

func (transaction *memoryTx) ListOpenListings(ctx context.Context, nowUnixUTC int64, limit int) ([]Listing, error) {
	var result []Listing
	for index := len(transaction.state.listingOrder) - 1; index >= 0 && len(result) < limit; index-- {
		listing := transaction.state.listings[transaction.state.listingOrder[index]]
		if listing.Status == ListingStatusOpen && !listing.ExpiredAt(nowUnixUTC) {
			result = append(result, listing)
		}
	}
	return result, nil
}

func (transaction *memoryTx) ListExpiredListings(ctx context.Context, nowUnixUTC int64, limit int) ([]Listing, error) {
	var result []Listing
	for _, listingID := range transaction.state.listingOrder {
		listing := transaction.state.listings[listingID]
		if listing.ExpiredAt(nowUnixUTC) && len(result) < limit {
			result = append(result, listing)
		}
	}
	return result, nil
}

func (transaction *memoryTx) SetHighestBid(ctx context.Context, listingID ListingID, amount AmountCents, nowUnixUTC int64) error {
	if err := transaction.fail(methodSetHighestBid); err != nil {
		return err
	}
	listing, ok := transaction.state.listings[listingID]
	if !ok {
		return ErrNotFound
	}
	listing.CurrentHighestBid = amount
	listing.UpdatedUnixUTC = nowUnixUTC
	transaction.state.listings[listingID] = listing
	return nil
}

func (transaction *memoryTx) MarkListingSold(ctx context.Context, listingID ListingID, winnerID UserID, credential AccessCredential, nowUnixUTC int64) error {
	if err := transaction.fail(methodMarkListingSold); err != nil {
		return err
	}
	listing, ok := transaction.state.listings[listingID]
	if !ok || listing.Status != ListingStatusOpen {
		return ErrInvalidState
	}
	listing.Status = ListingStatusSold
	listing.WinnerID = winnerID
	listing.Credential = credential
	listing.UpdatedUnixUTC = nowUnixUTC
	transaction.state.listings[listingID] = listing
	return nil
}

func (transaction *memoryTx) UpdateListingStatus(ctx context.Context, listingID ListingID, from, to ListingStatus, nowUnixUTC int64) error {
	listing, ok := transaction.state.listings[listingID]
	if !ok || listing.Status != from {
		return ErrInvalidState
	}
	listing.Status = to
	listing.UpdatedUnixUTC = nowUnixUTC
	transaction.state.listings[listingID] = listing
	return nil
}

func (transaction *memoryTx) CreateBid(ctx context.Context, bid Bid) error {
	if err := transaction.fail(methodCreateBid); err != nil {
		return err
	}
	transaction.state.bids[bid.BidID] = bid
	transaction.state.bidOrder = append(transaction.state.bidOrder, bid.BidID)
	return nil
}

func (transaction *memoryTx) GetBid(ctx context.Context, bidID BidID) (Bid, error) {
	bid, ok := transaction.state.bids[bidID]
	if !ok {
		return Bid{}, ErrNotFound
	}
	return bid, nil
}

func (transaction *memoryTx) FindBidByIdempotencyKey(ctx context.Context, bidderID UserID, key IdempotencyKey) (Bid, bool, error) {
	for _, bid := range transaction.state.bids {
		if bid.BidderID == bidderID && bid.IdempotencyKey == key {
			return bid, true, nil
		}
	}
	return Bid{}, false, nil
}

func (transaction *memoryTx) FindWinningBid(ctx context.Context, listingID ListingID) (Bid, bool, error) {
	for _, bid := range transaction.state.bids {
		if bid.ListingID == listingID && (bid.Status == BidStatusAccepted || bid.Status == BidStatusCompleted) {
			return bid, true, nil
		}
	}
	return Bid{}, false, nil
}

func (transaction *memoryTx) ListBids(ctx context.Context, listingID ListingID) ([]Bid, error) {
	var result []Bid
	for _, bidID := range transaction.state.bidOrder {
		if bid := transaction.state.bids[bidID]; bid.ListingID == listingID {
			result = append(result, bid)
		}
	}
	return result, nil
}

func (transaction *memoryTx) ListBidsByStatus(ctx context.Context, listingID ListingID, status BidStatus) ([]Bid, error) {
	if err := transaction.fail(methodListBidsStatus); err != nil {
		return nil, err
	}
	bids, _ := transaction.ListBids(ctx, listingID)
	var result []Bid
	for _, bid := range bids {
		if bid.Status == status {
			result = append(result, bid)
		}
	}
	return result, nil
}

func (transaction *memoryTx) UpdateBidStatus(ctx context.Context, bidID BidID, from BidStatus, to BidStatus, escrow EscrowStatus, nowUnixUTC int64) error {
	if err := transaction.fail(methodUpdateBidStatus); err != nil {
		return err
	}
	bid, ok := transaction.state.bids[bidID]
	if !ok || bid.Status != from {
		return ErrInvalidState
	}
	bid.Status = to
	bid.EscrowStatus = escrow
	bid.UpdatedUnixUTC = nowUnixUTC
	transaction.state.bids[bidID] = bid
	return nil
}

func (transaction *memoryTx) ReleaseBidEscrow(ctx context.Context, bidID BidID, nowUnixUTC int64) error {
	if err := transaction.fail(methodReleaseEscrow); err != nil {
		return err
	}
	bid, ok := transaction.state.bids[bidID]
	if !ok || bid.EscrowStatus != EscrowStatusHeld {
		return ErrAlreadyReleased
	}
	bid.EscrowStatus = EscrowStatusReleased
	if bid.Status == BidStatusAccepted {
		bid.Status = BidStatusCompleted
	}
	bid.UpdatedUnixUTC = nowUnixUTC
	transaction.state.bids[bidID] = bid
	return nil
}

// callOrderStore records the order of lock and key lookups made inside transactions.
type callOrderStore struct {
	*memoryStore
	calls []string
}

func (store *callOrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.memoryStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return fn(ctx, &callOrderTx{Store: txStore, store: store})
	})
}

type callOrderTx struct {
	Store
	store *callOrderStore
}

func (transaction *callOrderTx) LockListing(ctx context.Context, listingID ListingID) (Listing, error) {
	transaction.store.calls = append(transaction.store.calls, methodLockListing)
	return transaction.Store.LockListing(ctx, listingID)
}

func (transaction *callOrderTx) FindBidByIdempotencyKey(ctx context.Context, bidderID UserID, key IdempotencyKey) (Bid, bool, error) {
	transaction.store.calls = append(transaction.store.calls, methodFindBidByKey)
	return transaction.Store.FindBidByIdempotencyKey(ctx, bidderID, key)
}

// keyCollisionStore commits a competing bid with the same idempotency key right before the
// first CreateBid, which then fails the way a unique index would.
type keyCollisionStore struct {
	*memoryStore
	competitor Bid
	inserted   bool
}

func (store *keyCollisionStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.memoryStore.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return fn(ctx, &keyCollisionTx{Store: txStore, store: store})
	})
}

type keyCollisionTx struct {
	Store
	store *keyCollisionStore
}

func (transaction *keyCollisionTx) CreateBid(ctx context.Context, bid Bid) error {
	if transaction.store.inserted {
		return transaction.Store.CreateBid(ctx, bid)
	}
	transaction.store.inserted = true
	competitor := transaction.store.competitor
	committed := transaction.store.memoryStore.memoryTx
	err := committed.Debit(ctx, Posting{
		UserID:         competitor.BidderID,
		Amount:         competitor.Amount,
		Type:           EntryEscrowHold,
		ReferenceID:    competitor.BidID.String(),
		CreatedUnixUTC: competitor.CreatedUnixUTC,
	})
	if err != nil {
		return err
	}
	if err := committed.CreateBid(ctx, competitor); err != nil {
		return err
	}
	if err := committed.SetHighestBid(ctx, competitor.ListingID, competitor.Amount.ToAmountCents(), competitor.CreatedUnixUTC); err != nil {
		return err
	}
	return WrapError("store", "bid", "duplicate", ErrIdempotencyConflict)
}

type stubEligibility struct {
	enrollments   map[UserID]Enrollment
	subscriptions map[UserID]Subscription
	err           error
	calls         atomic.Int64
}

func newStubEligibility() *stubEligibility {
	return &stubEligibility{
		enrollments:   make(map[UserID]Enrollment),
		subscriptions: make(map[UserID]Subscription),
	}
}

// approve marks users as verified premium subscribers.
func (eligibility *stubEligibility) approve(userIDs ...UserID) {
	for _, userID := range userIDs {
		eligibility.enrollments[userID] = Enrollment{KYCStatus: KYCStatusApproved}
		eligibility.subscriptions[userID] = Subscription{Plan: DefaultPremiumPlan, Status: SubscriptionStatusActive}
	}
}

func (eligibility *stubEligibility) EnrollmentStatus(ctx context.Context, userID UserID) (Enrollment, error) {
	eligibility.calls.Add(1)
	if eligibility.err != nil {
		return Enrollment{}, eligibility.err
	}
	enrollment, ok := eligibility.enrollments[userID]
	if !ok {
		return Enrollment{KYCStatus: KYCStatusNone}, nil
	}
	return enrollment, nil
}

func (eligibility *stubEligibility) SubscriptionTier(ctx context.Context, userID UserID) (Subscription, error) {
	eligibility.calls.Add(1)
	if eligibility.err != nil {
		return Subscription{}, eligibility.err
	}
	return eligibility.subscriptions[userID], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[UserID][]Event
	err    error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[UserID][]Event)}
}

func (notifier *recordingNotifier) Notify(ctx context.Context, userID UserID, event Event) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.events[userID] = append(notifier.events[userID], event)
	return notifier.err
}

func (notifier *recordingNotifier) eventTypes(userID UserID) []EventType {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	types := make([]EventType, 0, len(notifier.events[userID]))
	for _, event := range notifier.events[userID] {
		types = append(types, event.Type)
	}
	sort.Slice(types, func(left, right int) bool { return types[left] < types[right] })
	return types
}

type fixedCredentials struct {
	credential AccessCredential
	err        error
}

func (generator fixedCredentials) Generate() (AccessCredential, error) {
	return generator.credential, generator.err
}

type sequentialIDs struct {
	counter atomic.Int64
}

func (ids *sequentialIDs) next() string {
	return fmt.Sprintf("id-%d", ids.counter.Add(1))
}

type testClock struct {
	now atomic.Int64
}

func newTestClock(start int64) *testClock {
	clock := &testClock{}
	clock.now.Store(start)
	return clock
}

func (clock *testClock) read() int64 {
	return clock.now.Load()
}

func (clock *testClock) advance(seconds int64) {
	clock.now.Add(seconds)
}
