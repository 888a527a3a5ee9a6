package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	indexWalletEntryIdempotency = "uniq_wallet_entries_user_idem"
	indexLiveListingPerAd       = "idx_listings_live_ad"
	indexBidIdempotency         = "uniq_bids_bidder_idem"
	pgUniqueViolationCode       = "23505"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectEntry           = "entry"
	errorSubjectListing         = "listing"
	errorSubjectBid             = "bid"
	errorSubjectEnrollment      = "enrollment"
	errorSubjectTransaction     = "transaction"
	errorCodeBegin              = "begin"
	errorCodeCommit             = "commit"
	errorCodeCreate             = "create"
	errorCodeCredit             = "credit"
	errorCodeDebit              = "debit"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLock               = "lock"
	errorCodeUpdate             = "update"
	errorCodeUpdateStatus       = "update_status"
	errorCodeRelease            = "release"
	errorCodeSave               = "save"

	// Entry and balance change in one statement so autocommit callers never see half a posting.
	sqlCredit = `
		with entry as (
			insert into wallet_entries(entry_id, user_id, type, amount_cents, reference_id, idempotency_key, metadata, created_at)
			values(gen_random_uuid()::text, $1, $2, $3, $4, nullif($5,''), coalesce(nullif($6,''),'{}')::jsonb, to_timestamp($7))
			returning user_id
		)
		insert into wallet_accounts(user_id, balance, total_earned, created_at, updated_at)
		select user_id, $3, $8::bigint, to_timestamp($7), to_timestamp($7) from entry
		on conflict (user_id) do update set
			balance = wallet_accounts.balance + excluded.balance,
			total_earned = wallet_accounts.total_earned + excluded.total_earned,
			updated_at = excluded.updated_at
	`

	sqlDebit = `
		with debited as (
			update wallet_accounts
			set balance = balance - $3, updated_at = to_timestamp($7)
			where user_id = $1 and balance >= $3
			returning user_id
		)
		insert into wallet_entries(entry_id, user_id, type, amount_cents, reference_id, idempotency_key, metadata, created_at)
		select gen_random_uuid()::text, user_id, $2, -$3::bigint, $4, nullif($5,''), coalesce(nullif($6,''),'{}')::jsonb, to_timestamp($7)
		from debited
	`

	sqlSelectAccount = `
		select balance, total_earned from wallet_accounts where user_id = $1
	`

	sqlListEntries = `
		select
			entry_id,
			user_id,
			type,
			amount_cents,
			reference_id,
			coalesce(idempotency_key,''),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from wallet_entries
		where user_id = $1 and ($2::bigint = 0 or created_at < to_timestamp($2::bigint))
		order by created_at desc, id desc
		limit $3
	`

	sqlListingColumns = `
		listing_id, ad_reference_id, seller_id, base_price, target_views, status, current_highest_bid,
		coalesce(winner_id,''),
		coalesce(extract(epoch from expires_at)::bigint,0),
		coalesce(credential_api_key,''),
		coalesce(credential_pin,''),
		extract(epoch from created_at)::bigint,
		extract(epoch from updated_at)::bigint
	`

	sqlInsertListing = `
		insert into listings(listing_id, ad_reference_id, seller_id, base_price, target_views, status, current_highest_bid, expires_at, created_at, updated_at)
		values($1, $2, $3, $4, $5, $6, $7, to_timestamp(nullif($8::bigint,0)), to_timestamp($9), to_timestamp($10))
	`

	sqlSelectListing       = `select ` + sqlListingColumns + ` from listings where listing_id = $1`
	sqlLockListing         = sqlSelectListing + ` for update`
	sqlSelectLiveListing   = `select ` + sqlListingColumns + ` from listings where ad_reference_id = $1 and status <> 'closed' limit 1`
	sqlListOpenListings    = `select ` + sqlListingColumns + ` from listings where status = 'open' and (expires_at is null or expires_at > to_timestamp($1)) order by created_at desc limit $2`
	sqlListExpiredListings = `select ` + sqlListingColumns + ` from listings where status = 'open' and expires_at is not null and expires_at <= to_timestamp($1) order by expires_at asc limit $2`

	sqlSetHighestBid = `
		update listings set current_highest_bid = $2, updated_at = to_timestamp($3) where listing_id = $1
	`

	sqlMarkListingSold = `
		update listings
		set status = 'sold', winner_id = $2, credential_api_key = $3, credential_pin = $4, updated_at = to_timestamp($5)
		where listing_id = $1 and status = 'open'
	`

	sqlUpdateListingStatus = `
		update listings set status = $3, updated_at = to_timestamp($4) where listing_id = $1 and status = $2
	`

	sqlBidColumns = `
		bid_id, listing_id, bidder_id, amount_cents, status, escrow_status,
		coalesce(idempotency_key,''),
		extract(epoch from created_at)::bigint,
		extract(epoch from updated_at)::bigint
	`

	sqlInsertBid = `
		insert into bids(bid_id, listing_id, bidder_id, amount_cents, status, escrow_status, idempotency_key, created_at, updated_at)
		values($1, $2, $3, $4, $5, $6, nullif($7,''), to_timestamp($8), to_timestamp($9))
	`

	sqlSelectBid        = `select ` + sqlBidColumns + ` from bids where bid_id = $1`
	sqlSelectBidByKey   = `select ` + sqlBidColumns + ` from bids where bidder_id = $1 and idempotency_key = $2`
	sqlSelectWinningBid = `select ` + sqlBidColumns + ` from bids where listing_id = $1 and status in ('accepted','completed') limit 1`
	sqlListBids         = `select ` + sqlBidColumns + ` from bids where listing_id = $1 order by amount_cents asc`
	sqlListBidsByStatus = `select ` + sqlBidColumns + ` from bids where listing_id = $1 and status = $2 order by amount_cents asc`
	sqlUpdateBidStatus  = `update bids set status = $3, escrow_status = $4, updated_at = to_timestamp($5) where bid_id = $1 and status = $2`

	sqlReleaseBidEscrow = `
		update bids
		set escrow_status = 'released',
			status = case when status = 'accepted' then 'completed' else status end,
			updated_at = to_timestamp($2)
		where bid_id = $1 and escrow_status = 'held'
	`

	sqlSelectEnrollment = `
		select kyc_status, plan, subscription_status from user_enrollments where user_id = $1
	`

	sqlUpsertEnrollment = `
		insert into user_enrollments(user_id, kyc_status, plan, subscription_status, updated_at)
		values($1, $2, $3, $4, to_timestamp($5))
		on conflict (user_id) do update set
			kyc_status = excluded.kyc_status,
			plan = excluded.plan,
			subscription_status = excluded.subscription_status,
			updated_at = excluded.updated_at
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements escrow.Store using a pgx connection pool (autocommit) or, inside WithTx, a
// single transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, escrow.StorageFailure(err))
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) Credit(ctx context.Context, posting escrow.Posting) error {
	earned := int64(0)
	if posting.Earned {
		earned = posting.Amount.Int64()
	}
	_, err := store.db.Exec(ctx, sqlCredit, postingArgs(posting, earned)...)
	if isUniqueViolation(err, indexWalletEntryIdempotency) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, escrow.ErrIdempotencyConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCredit, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) Debit(ctx context.Context, posting escrow.Posting) error {
	tag, err := store.db.Exec(ctx, sqlDebit, postingArgs(posting)...)
	if isUniqueViolation(err, indexWalletEntryIdempotency) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, escrow.ErrIdempotencyConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeDebit, escrow.StorageFailure(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeDebit, escrow.ErrInsufficientFunds)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID escrow.UserID) (escrow.Account, error) {
	var balanceValue, totalEarnedValue int64
	err := store.db.QueryRow(ctx, sqlSelectAccount, userID.String()).Scan(&balanceValue, &totalEarnedValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Account{UserID: userID}, nil
	}
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, escrow.StorageFailure(err))
	}
	balance, err := escrow.NewAmountCents(balanceValue)
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	totalEarned, err := escrow.NewAmountCents(totalEarnedValue)
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return escrow.Account{UserID: userID, Balance: balance, TotalEarned: totalEarned}, nil
}

func (store *Store) ListEntries(ctx context.Context, userID escrow.UserID, beforeUnixUTC int64, limit int) ([]escrow.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntries, userID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, escrow.StorageFailure(err))
	}
	defer rows.Close()

	var entries []escrow.Entry
	for rows.Next() {
		var (
			entryIDValue, userIDValue, typeValue, referenceID, keyValue, metadataValue string
			amountCents, createdUnix                                                   int64
		)
		if err := rows.Scan(&entryIDValue, &userIDValue, &typeValue, &amountCents, &referenceID, &keyValue, &metadataValue, &createdUnix); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, escrow.StorageFailure(err))
		}
		entry, err := buildEntry(entryIDValue, userIDValue, typeValue, amountCents, referenceID, keyValue, metadataValue, createdUnix)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, escrow.StorageFailure(err))
	}
	return entries, nil
}

func (store *Store) CreateListing(ctx context.Context, listing escrow.Listing) error {
	_, err := store.db.Exec(ctx, sqlInsertListing,
		listing.ListingID.String(),
		listing.AdReferenceID.String(),
		listing.SellerID.String(),
		listing.BasePrice.Int64(),
		listing.TargetViews,
		listing.Status.String(),
		listing.CurrentHighestBid.Int64(),
		listing.ExpiresAtUnixUTC,
		listing.CreatedUnixUTC,
		listing.UpdatedUnixUTC,
	)
	if isUniqueViolation(err, indexLiveListingPerAd) {
		return wrapStoreError(errorSubjectListing, errorCodeDuplicate, escrow.ErrDuplicateListing)
	}
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeCreate, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) GetListing(ctx context.Context, listingID escrow.ListingID) (escrow.Listing, error) {
	return store.selectListing(ctx, sqlSelectListing, listingID, errorCodeGet)
}

func (store *Store) LockListing(ctx context.Context, listingID escrow.ListingID) (escrow.Listing, error) {
	return store.selectListing(ctx, sqlLockListing, listingID, errorCodeLock)
}

func (store *Store) selectListing(ctx context.Context, sql string, listingID escrow.ListingID, code string) (escrow.Listing, error) {
	listing, err := scanListing(store.db.QueryRow(ctx, sql, listingID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Listing{}, wrapStoreError(errorSubjectListing, code, escrow.ErrNotFound)
	}
	if err != nil {
		return escrow.Listing{}, wrapStoreError(errorSubjectListing, code, err)
	}
	return listing, nil
}

func (store *Store) FindLiveListingByAd(ctx context.Context, adReferenceID escrow.AdReferenceID) (escrow.Listing, bool, error) {
	listing, err := scanListing(store.db.QueryRow(ctx, sqlSelectLiveListing, adReferenceID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Listing{}, false, nil
	}
	if err != nil {
		return escrow.Listing{}, false, wrapStoreError(errorSubjectListing, errorCodeGet, err)
	}
	return listing, true, nil
}

func (store *Store) ListOpenListings(ctx context.Context, nowUnixUTC int64, limit int) ([]escrow.Listing, error) {
	return store.listListings(ctx, sqlListOpenListings, nowUnixUTC, limit)
}

func (store *Store) ListExpiredListings(ctx context.Context, nowUnixUTC int64, limit int) ([]escrow.Listing, error) {
	return store.listListings(ctx, sqlListExpiredListings, nowUnixUTC, limit)
}

func (store *Store) listListings(ctx context.Context, sql string, nowUnixUTC int64, limit int) ([]escrow.Listing, error) {
	rows, err := store.db.Query(ctx, sql, nowUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, escrow.StorageFailure(err))
	}
	defer rows.Close()
	var listings []escrow.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectListing, errorCodeList, err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, escrow.StorageFailure(err))
	}
	return listings, nil
}

func (store *Store) SetHighestBid(ctx context.Context, listingID escrow.ListingID, amount escrow.AmountCents, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlSetHighestBid, listingID.String(), amount.Int64(), nowUnixUTC)
	return checkTag(tag, err, errorSubjectListing, errorCodeUpdate, escrow.ErrNotFound)
}

func (store *Store) MarkListingSold(ctx context.Context, listingID escrow.ListingID, winnerID escrow.UserID, credential escrow.AccessCredential, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlMarkListingSold, listingID.String(), winnerID.String(), credential.APIKey, credential.PIN, nowUnixUTC)
	return checkTag(tag, err, errorSubjectListing, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

func (store *Store) UpdateListingStatus(ctx context.Context, listingID escrow.ListingID, from, to escrow.ListingStatus, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateListingStatus, listingID.String(), from.String(), to.String(), nowUnixUTC)
	return checkTag(tag, err, errorSubjectListing, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

func (store *Store) CreateBid(ctx context.Context, bid escrow.Bid) error {
	_, err := store.db.Exec(ctx, sqlInsertBid,
		bid.BidID.String(),
		bid.ListingID.String(),
		bid.BidderID.String(),
		bid.Amount.Int64(),
		bid.Status.String(),
		bid.EscrowStatus.String(),
		bid.IdempotencyKey.String(),
		bid.CreatedUnixUTC,
		bid.UpdatedUnixUTC,
	)
	if isUniqueViolation(err, indexBidIdempotency) {
		return wrapStoreError(errorSubjectBid, errorCodeDuplicate, escrow.ErrIdempotencyConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBid, errorCodeCreate, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) GetBid(ctx context.Context, bidID escrow.BidID) (escrow.Bid, error) {
	bid, err := scanBid(store.db.QueryRow(ctx, sqlSelectBid, bidID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Bid{}, wrapStoreError(errorSubjectBid, errorCodeGet, escrow.ErrNotFound)
	}
	if err != nil {
		return escrow.Bid{}, wrapStoreError(errorSubjectBid, errorCodeGet, err)
	}
	return bid, nil
}

func (store *Store) FindBidByIdempotencyKey(ctx context.Context, bidderID escrow.UserID, key escrow.IdempotencyKey) (escrow.Bid, bool, error) {
	return store.findBid(ctx, sqlSelectBidByKey, bidderID.String(), key.String())
}

func (store *Store) FindWinningBid(ctx context.Context, listingID escrow.ListingID) (escrow.Bid, bool, error) {
	return store.findBid(ctx, sqlSelectWinningBid, listingID.String())
}

func (store *Store) findBid(ctx context.Context, sql string, args ...any) (escrow.Bid, bool, error) {
	bid, err := scanBid(store.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Bid{}, false, nil
	}
	if err != nil {
		return escrow.Bid{}, false, wrapStoreError(errorSubjectBid, errorCodeGet, err)
	}
	return bid, true, nil
}

func (store *Store) ListBids(ctx context.Context, listingID escrow.ListingID) ([]escrow.Bid, error) {
	return store.listBids(ctx, sqlListBids, listingID.String())
}

func (store *Store) ListBidsByStatus(ctx context.Context, listingID escrow.ListingID, status escrow.BidStatus) ([]escrow.Bid, error) {
	return store.listBids(ctx, sqlListBidsByStatus, listingID.String(), status.String())
}

func (store *Store) listBids(ctx context.Context, sql string, args ...any) ([]escrow.Bid, error) {
	rows, err := store.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBid, errorCodeList, escrow.StorageFailure(err))
	}
	defer rows.Close()
	var bids []escrow.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBid, errorCodeList, err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBid, errorCodeList, escrow.StorageFailure(err))
	}
	return bids, nil
}

func (store *Store) UpdateBidStatus(ctx context.Context, bidID escrow.BidID, from escrow.BidStatus, to escrow.BidStatus, escrowStatus escrow.EscrowStatus, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBidStatus, bidID.String(), from.String(), to.String(), escrowStatus.String(), nowUnixUTC)
	return checkTag(tag, err, errorSubjectBid, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

func (store *Store) ReleaseBidEscrow(ctx context.Context, bidID escrow.BidID, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlReleaseBidEscrow, bidID.String(), nowUnixUTC)
	return checkTag(tag, err, errorSubjectBid, errorCodeRelease, escrow.ErrAlreadyReleased)
}

func (store *Store) EnrollmentStatus(ctx context.Context, userID escrow.UserID) (escrow.Enrollment, error) {
	kycStatus, _, _, err := store.selectEnrollment(ctx, userID)
	if err != nil {
		return escrow.Enrollment{}, err
	}
	status, err := escrow.ParseKYCStatus(kycStatus)
	if err != nil {
		return escrow.Enrollment{}, wrapStoreError(errorSubjectEnrollment, errorCodeInvalid, err)
	}
	return escrow.Enrollment{KYCStatus: status}, nil
}

func (store *Store) SubscriptionTier(ctx context.Context, userID escrow.UserID) (escrow.Subscription, error) {
	_, plan, status, err := store.selectEnrollment(ctx, userID)
	if err != nil {
		return escrow.Subscription{}, err
	}
	return escrow.Subscription{Plan: plan, Status: status}, nil
}

func (store *Store) SaveEnrollment(ctx context.Context, userID escrow.UserID, enrollment escrow.Enrollment, subscription escrow.Subscription, nowUnixUTC int64) error {
	_, err := store.db.Exec(ctx, sqlUpsertEnrollment,
		userID.String(),
		enrollment.KYCStatus.String(),
		strings.TrimSpace(subscription.Plan),
		strings.TrimSpace(subscription.Status),
		nowUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEnrollment, errorCodeSave, escrow.StorageFailure(err))
	}
	return nil
}

// selectEnrollment returns empty strings for unknown users.
func (store *Store) selectEnrollment(ctx context.Context, userID escrow.UserID) (string, string, string, error) {
	var kycStatus, plan, subscriptionStatus string
	err := store.db.QueryRow(ctx, sqlSelectEnrollment, userID.String()).Scan(&kycStatus, &plan, &subscriptionStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", "", nil
	}
	if err != nil {
		return "", "", "", wrapStoreError(errorSubjectEnrollment, errorCodeGet, escrow.StorageFailure(err))
	}
	return kycStatus, plan, subscriptionStatus, nil
}

// postingArgs orders arguments to match sqlCredit and sqlDebit.
func postingArgs(posting escrow.Posting, extra ...any) []any {
	args := []any{
		posting.UserID.String(),
		posting.Type.String(),
		posting.Amount.Int64(),
		posting.ReferenceID,
		posting.IdempotencyKey.String(),
		posting.Metadata.String(),
		posting.CreatedUnixUTC,
	}
	return append(args, extra...)
}

func scanListing(row rowScanner) (escrow.Listing, error) {
	var (
		listingIDValue, adReferenceValue, sellerValue, statusValue, winnerValue, apiKey, pin string
		basePrice, targetViews, highest, expiresUnix, createdUnix, updatedUnix               int64
	)
	err := row.Scan(&listingIDValue, &adReferenceValue, &sellerValue, &basePrice, &targetViews, &statusValue, &highest,
		&winnerValue, &expiresUnix, &apiKey, &pin, &createdUnix, &updatedUnix)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Listing{}, err
	}
	if err != nil {
		return escrow.Listing{}, escrow.StorageFailure(err)
	}
	listingID, err := escrow.NewListingID(listingIDValue)
	if err != nil {
		return escrow.Listing{}, err
	}
	adReferenceID, err := escrow.NewAdReferenceID(adReferenceValue)
	if err != nil {
		return escrow.Listing{}, err
	}
	sellerID, err := escrow.NewUserID(sellerValue)
	if err != nil {
		return escrow.Listing{}, err
	}
	price, err := escrow.NewPositiveAmountCents(basePrice)
	if err != nil {
		return escrow.Listing{}, err
	}
	status, err := escrow.ParseListingStatus(statusValue)
	if err != nil {
		return escrow.Listing{}, err
	}
	highestBid, err := escrow.NewAmountCents(highest)
	if err != nil {
		return escrow.Listing{}, err
	}
	listing := escrow.Listing{
		ListingID:         listingID,
		AdReferenceID:     adReferenceID,
		SellerID:          sellerID,
		BasePrice:         price,
		TargetViews:       targetViews,
		Status:            status,
		CurrentHighestBid: highestBid,
		ExpiresAtUnixUTC:  expiresUnix,
		Credential:        escrow.AccessCredential{APIKey: apiKey, PIN: pin},
		CreatedUnixUTC:    createdUnix,
		UpdatedUnixUTC:    updatedUnix,
	}
	if winnerValue != "" {
		winnerID, err := escrow.NewUserID(winnerValue)
		if err != nil {
			return escrow.Listing{}, err
		}
		listing.WinnerID = winnerID
	}
	return listing, nil
}

func scanBid(row rowScanner) (escrow.Bid, error) {
	var (
		bidIDValue, listingIDValue, bidderValue, statusValue, escrowValue, keyValue string
		amountCents, createdUnix, updatedUnix                                       int64
	)
	err := row.Scan(&bidIDValue, &listingIDValue, &bidderValue, &amountCents, &statusValue, &escrowValue, &keyValue, &createdUnix, &updatedUnix)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Bid{}, err
	}
	if err != nil {
		return escrow.Bid{}, escrow.StorageFailure(err)
	}
	bidID, err := escrow.NewBidID(bidIDValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	listingID, err := escrow.NewListingID(listingIDValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	bidderID, err := escrow.NewUserID(bidderValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	amount, err := escrow.NewPositiveAmountCents(amountCents)
	if err != nil {
		return escrow.Bid{}, err
	}
	status, err := escrow.ParseBidStatus(statusValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	escrowStatus, err := escrow.ParseEscrowStatus(escrowValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(keyValue)
	if err != nil {
		return escrow.Bid{}, err
	}
	return escrow.Bid{
		BidID:          bidID,
		ListingID:      listingID,
		BidderID:       bidderID,
		Amount:         amount,
		Status:         status,
		EscrowStatus:   escrowStatus,
		IdempotencyKey: idempotencyKey,
		CreatedUnixUTC: createdUnix,
		UpdatedUnixUTC: updatedUnix,
	}, nil
}

func buildEntry(entryIDValue, userIDValue, typeValue string, amountCents int64, referenceID, keyValue, metadataValue string, createdUnix int64) (escrow.Entry, error) {
	entryID, err := escrow.NewEntryID(entryIDValue)
	if err != nil {
		return escrow.Entry{}, err
	}
	userID, err := escrow.NewUserID(userIDValue)
	if err != nil {
		return escrow.Entry{}, err
	}
	entryType, err := escrow.ParseEntryType(typeValue)
	if err != nil {
		return escrow.Entry{}, err
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(keyValue)
	if err != nil {
		return escrow.Entry{}, err
	}
	metadata, err := escrow.NewMetadataJSON(metadataValue)
	if err != nil {
		return escrow.Entry{}, err
	}
	return escrow.Entry{
		EntryID:        entryID,
		UserID:         userID,
		Type:           entryType,
		AmountCents:    escrow.SignedAmountCents(amountCents),
		ReferenceID:    referenceID,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedUnixUTC: createdUnix,
	}, nil
}

func checkTag(tag pgconn.CommandTag, err error, subject string, code string, noRows error) error {
	if err != nil {
		return wrapStoreError(subject, code, escrow.StorageFailure(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(subject, code, noRows)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return escrow.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
