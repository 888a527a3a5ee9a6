package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNowUnixUTC = int64(1_700_000_000)

type recordedExec struct {
	sql  string
	args []any
}

type stubQuerier struct {
	execTag  pgconn.CommandTag
	execErr  error
	queryErr error
	row      stubRow
	execs    []recordedExec
}

func (querier *stubQuerier) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	querier.execs = append(querier.execs, recordedExec{sql: sql, args: arguments})
	return querier.execTag, querier.execErr
}

func (querier *stubQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, querier.queryErr
}

func (querier *stubQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return querier.row
}

type stubRow struct {
	values []any
	err    error
}

func (row stubRow) Scan(dest ...any) error {
	if row.err != nil {
		return row.err
	}
	if len(dest) != len(row.values) {
		return errors.New("column count mismatch")
	}
	for index, target := range dest {
		switch typed := target.(type) {
		case *string:
			*typed = row.values[index].(string)
		case *int64:
			*typed = row.values[index].(int64)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func newStubStore(querier *stubQuerier) *Store {
	return &Store{db: querier}
}

func mustUser(t *testing.T, raw string) escrow.UserID {
	t.Helper()
	userID, err := escrow.NewUserID(raw)
	require.NoError(t, err)
	return userID
}

func mustListingID(t *testing.T, raw string) escrow.ListingID {
	t.Helper()
	listingID, err := escrow.NewListingID(raw)
	require.NoError(t, err)
	return listingID
}

func requireOperation(t *testing.T, err error, subject string, code string) {
	t.Helper()
	var operationError escrow.OperationError
	require.True(t, errors.As(err, &operationError), "expected OperationError, got %v", err)
	assert.Equal(t, errorOperationStore, operationError.Operation())
	assert.Equal(t, subject, operationError.Subject())
	assert.Equal(t, code, operationError.Code())
}

func TestCreditPassesEarnedAmount(t *testing.T) {
	querier := &stubQuerier{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	store := newStubStore(querier)
	posting := escrow.Posting{
		UserID:         mustUser(t, "seller"),
		Amount:         escrow.PositiveAmountCents(1275),
		Type:           escrow.EntryPayout,
		ReferenceID:    "bid-1",
		Earned:         true,
		CreatedUnixUTC: testNowUnixUTC,
	}

	require.NoError(t, store.Credit(context.Background(), posting))
	require.Len(t, querier.execs, 1)
	args := querier.execs[0].args
	require.Len(t, args, 8)
	assert.Equal(t, "seller", args[0])
	assert.Equal(t, "payout", args[1])
	assert.Equal(t, int64(1275), args[2])
	assert.Equal(t, "bid-1", args[3])
	assert.Equal(t, int64(1275), args[7])

	posting.Earned = false
	require.NoError(t, store.Credit(context.Background(), posting))
	assert.Equal(t, int64(0), querier.execs[1].args[7])
}

func TestPostingErrorsAreClassified(t *testing.T) {
	posting := escrow.Posting{UserID: mustUser(t, "alice"), Amount: escrow.PositiveAmountCents(500), Type: escrow.EntryWithdrawal}
	duplicate := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: indexWalletEntryIdempotency}
	otherConstraint := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "uniq_wallet_entries_entry_id"}

	testCases := []struct {
		name     string
		querier  *stubQuerier
		credit   bool
		expected error
		code     string
	}{
		{name: "debit without funds", querier: &stubQuerier{execTag: pgconn.NewCommandTag("INSERT 0 0")}, expected: escrow.ErrInsufficientFunds, code: errorCodeDebit},
		{name: "debit duplicate key", querier: &stubQuerier{execErr: duplicate}, expected: escrow.ErrIdempotencyConflict, code: errorCodeDuplicate},
		{name: "debit driver failure", querier: &stubQuerier{execErr: errors.New("connection reset")}, expected: escrow.ErrStorageFailure, code: errorCodeDebit},
		{name: "credit duplicate key", querier: &stubQuerier{execErr: duplicate}, credit: true, expected: escrow.ErrIdempotencyConflict, code: errorCodeDuplicate},
		{name: "credit other constraint", querier: &stubQuerier{execErr: otherConstraint}, credit: true, expected: escrow.ErrStorageFailure, code: errorCodeCredit},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			store := newStubStore(testCase.querier)
			var err error
			if testCase.credit {
				err = store.Credit(context.Background(), posting)
			} else {
				err = store.Debit(context.Background(), posting)
			}
			require.ErrorIs(t, err, testCase.expected)
			var operationError escrow.OperationError
			require.True(t, errors.As(err, &operationError))
			assert.Equal(t, testCase.code, operationError.Code())
		})
	}
}

func TestGetAccountUnknownUserIsZero(t *testing.T) {
	store := newStubStore(&stubQuerier{row: stubRow{err: pgx.ErrNoRows}})
	userID := mustUser(t, "nobody")

	account, err := store.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, account.UserID)
	assert.Equal(t, int64(0), account.Balance.Int64())
	assert.Equal(t, int64(0), account.TotalEarned.Int64())
}

func TestLockListingMapsRow(t *testing.T) {
	row := stubRow{values: []any{
		"listing-1", "ad-7", "seller", int64(1000), int64(5000), "sold", int64(1500),
		"alice", int64(testNowUnixUTC + 3600), "ak_live", "0042", testNowUnixUTC, testNowUnixUTC + 60,
	}}
	store := newStubStore(&stubQuerier{row: row})

	listing, err := store.LockListing(context.Background(), mustListingID(t, "listing-1"))
	require.NoError(t, err)
	assert.Equal(t, "ad-7", listing.AdReferenceID.String())
	assert.Equal(t, escrow.ListingStatusSold, listing.Status)
	assert.Equal(t, int64(1500), listing.CurrentHighestBid.Int64())
	assert.Equal(t, "alice", listing.WinnerID.String())
	assert.Equal(t, "0042", listing.Credential.PIN)
	assert.Equal(t, testNowUnixUTC+3600, listing.ExpiresAtUnixUTC)
}

func TestLockListingMissingIsNotFound(t *testing.T) {
	store := newStubStore(&stubQuerier{row: stubRow{err: pgx.ErrNoRows}})

	_, err := store.LockListing(context.Background(), mustListingID(t, "missing"))
	require.ErrorIs(t, err, escrow.ErrNotFound)
	requireOperation(t, err, errorSubjectListing, errorCodeLock)
}

func TestCreateListingDetectsLiveAd(t *testing.T) {
	querier := &stubQuerier{execErr: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: indexLiveListingPerAd}}
	store := newStubStore(querier)

	err := store.CreateListing(context.Background(), escrow.Listing{ListingID: mustListingID(t, "listing-2")})
	require.ErrorIs(t, err, escrow.ErrDuplicateListing)
	requireOperation(t, err, errorSubjectListing, errorCodeDuplicate)
}

func TestCompareAndSetUpdatesReportZeroRows(t *testing.T) {
	store := newStubStore(&stubQuerier{execTag: pgconn.NewCommandTag("UPDATE 0")})
	ctx := context.Background()
	listingID := mustListingID(t, "listing-3")

	err := store.MarkListingSold(ctx, listingID, mustUser(t, "alice"), escrow.AccessCredential{APIKey: "ak", PIN: "1234"}, testNowUnixUTC)
	require.ErrorIs(t, err, escrow.ErrInvalidState)

	err = store.UpdateListingStatus(ctx, listingID, escrow.ListingStatusOpen, escrow.ListingStatusClosed, testNowUnixUTC)
	require.ErrorIs(t, err, escrow.ErrInvalidState)

	err = store.SetHighestBid(ctx, listingID, escrow.AmountCents(100), testNowUnixUTC)
	require.ErrorIs(t, err, escrow.ErrNotFound)
}

func TestEnrollmentUnknownUserIsNotVerified(t *testing.T) {
	store := newStubStore(&stubQuerier{row: stubRow{err: pgx.ErrNoRows}})

	enrollment, err := store.EnrollmentStatus(context.Background(), mustUser(t, "ghost"))
	require.NoError(t, err)
	assert.Equal(t, escrow.KYCStatusNone, enrollment.KYCStatus)

	subscription, err := store.SubscriptionTier(context.Background(), mustUser(t, "ghost"))
	require.NoError(t, err)
	assert.Empty(t, subscription.Plan)
}

func TestWithTxInsideTransactionReusesStore(t *testing.T) {
	store := newStubStore(&stubQuerier{})
	called := false

	err := store.WithTx(context.Background(), func(_ context.Context, txStore escrow.Store) error {
		called = true
		assert.Same(t, store, txStore)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
