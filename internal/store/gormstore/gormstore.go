package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/adgyapan/escrow/pkg/escrow"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	indexWalletEntryIdempotency = "uniq_wallet_entries_user_idem"
	indexLiveListingPerAd       = "idx_listings_live_ad"
	indexBidIdempotency         = "uniq_bids_bidder_idem"
	defaultMetadataJSON         = "{}"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectEntry           = "entry"
	errorSubjectListing         = "listing"
	errorSubjectBid             = "bid"
	errorSubjectEnrollment      = "enrollment"
	errorCodeCreate             = "create"
	errorCodeCredit             = "credit"
	errorCodeDebit              = "debit"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLock               = "lock"
	errorCodeUpdate             = "update"
	errorCodeUpdateStatus       = "update_status"
	errorCodeRelease            = "release"
	errorCodeSave               = "save"
)

// Store implements escrow.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// Credit upserts the account with an additive conflict clause and journals the posting. Both writes
// share a savepoint when called inside WithTx.
func (store *Store) Credit(ctx context.Context, posting escrow.Posting) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := insertEntry(transaction, posting, posting.Amount.Int64()); err != nil {
			return err
		}
		now := unixTime(posting.CreatedUnixUTC)
		earned := int64(0)
		if posting.Earned {
			earned = posting.Amount.Int64()
		}
		account := WalletAccount{
			UserID:      posting.UserID.String(),
			Balance:     posting.Amount.Int64(),
			TotalEarned: earned,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := transaction.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":      gorm.Expr("wallet_accounts.balance + excluded.balance"),
				"total_earned": gorm.Expr("wallet_accounts.total_earned + excluded.total_earned"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&account).Error
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeCredit, escrow.StorageFailure(err))
		}
		return nil
	})
}

// Debit is a single compare-and-decrement; zero affected rows means the balance did not cover it.
func (store *Store) Debit(ctx context.Context, posting escrow.Posting) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		amount := posting.Amount.Int64()
		result := transaction.Model(&WalletAccount{}).
			Where("user_id = ? AND balance >= ?", posting.UserID.String(), amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", amount),
				"updated_at": unixTime(posting.CreatedUnixUTC),
			})
		if result.Error != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeDebit, escrow.StorageFailure(result.Error))
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectAccount, errorCodeDebit, escrow.ErrInsufficientFunds)
		}
		return insertEntry(transaction, posting, -amount)
	})
}

func (store *Store) GetAccount(ctx context.Context, userID escrow.UserID) (escrow.Account, error) {
	var model WalletAccount
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrow.Account{UserID: userID}, nil
	}
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, escrow.StorageFailure(err))
	}
	balance, err := escrow.NewAmountCents(model.Balance)
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	totalEarned, err := escrow.NewAmountCents(model.TotalEarned)
	if err != nil {
		return escrow.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return escrow.Account{UserID: userID, Balance: balance, TotalEarned: totalEarned}, nil
}

func (store *Store) ListEntries(ctx context.Context, userID escrow.UserID, beforeUnixUTC int64, limit int) ([]escrow.Entry, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID.String())
	if beforeUnixUTC != 0 {
		query = query.Where("created_at < ?", unixTime(beforeUnixUTC))
	}
	var rows []WalletEntry
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, escrow.StorageFailure(err))
	}
	entries := make([]escrow.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapWalletEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CreateListing(ctx context.Context, listing escrow.Listing) error {
	model := Listing{
		ListingID:         listing.ListingID.String(),
		AdReferenceID:     listing.AdReferenceID.String(),
		SellerID:          listing.SellerID.String(),
		BasePrice:         listing.BasePrice.Int64(),
		TargetViews:       listing.TargetViews,
		Status:            listing.Status.String(),
		CurrentHighestBid: listing.CurrentHighestBid.Int64(),
		ExpiresAt:         optionalTime(listing.ExpiresAtUnixUTC),
		CreatedAt:         unixTime(listing.CreatedUnixUTC),
		UpdatedAt:         unixTime(listing.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, indexLiveListingPerAd) {
		return wrapStoreError(errorSubjectListing, errorCodeDuplicate, escrow.ErrDuplicateListing)
	}
	if err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeCreate, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) GetListing(ctx context.Context, listingID escrow.ListingID) (escrow.Listing, error) {
	return store.takeListing(store.db.WithContext(ctx), listingID, errorCodeGet)
}

// LockListing takes a row lock held until the enclosing transaction ends. SQLite ignores the
// locking clause and relies on its single writer connection instead.
func (store *Store) LockListing(ctx context.Context, listingID escrow.ListingID) (escrow.Listing, error) {
	return store.takeListing(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), listingID, errorCodeLock)
}

func (store *Store) takeListing(query *gorm.DB, listingID escrow.ListingID, code string) (escrow.Listing, error) {
	var model Listing
	err := query.Where("listing_id = ?", listingID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrow.Listing{}, wrapStoreError(errorSubjectListing, code, escrow.ErrNotFound)
	}
	if err != nil {
		return escrow.Listing{}, wrapStoreError(errorSubjectListing, code, escrow.StorageFailure(err))
	}
	listing, err := mapListing(model)
	if err != nil {
		return escrow.Listing{}, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	return listing, nil
}

func (store *Store) FindLiveListingByAd(ctx context.Context, adReferenceID escrow.AdReferenceID) (escrow.Listing, bool, error) {
	var rows []Listing
	err := store.db.WithContext(ctx).
		Where("ad_reference_id = ? AND status <> ?", adReferenceID.String(), escrow.ListingStatusClosed.String()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return escrow.Listing{}, false, wrapStoreError(errorSubjectListing, errorCodeGet, escrow.StorageFailure(err))
	}
	if len(rows) == 0 {
		return escrow.Listing{}, false, nil
	}
	listing, err := mapListing(rows[0])
	if err != nil {
		return escrow.Listing{}, false, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
	}
	return listing, true, nil
}

func (store *Store) ListOpenListings(ctx context.Context, nowUnixUTC int64, limit int) ([]escrow.Listing, error) {
	var rows []Listing
	err := store.db.WithContext(ctx).
		Where("status = ?", escrow.ListingStatusOpen.String()).
		Where("(expires_at IS NULL OR expires_at > ?)", unixTime(nowUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, escrow.StorageFailure(err))
	}
	return mapListings(rows)
}

func (store *Store) ListExpiredListings(ctx context.Context, nowUnixUTC int64, limit int) ([]escrow.Listing, error) {
	var rows []Listing
	err := store.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", escrow.ListingStatusOpen.String(), unixTime(nowUnixUTC)).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, escrow.StorageFailure(err))
	}
	return mapListings(rows)
}

func (store *Store) SetHighestBid(ctx context.Context, listingID escrow.ListingID, amount escrow.AmountCents, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("listing_id = ?", listingID.String()).
		Updates(map[string]interface{}{
			"current_highest_bid": amount.Int64(),
			"updated_at":          unixTime(nowUnixUTC),
		})
	return checkUpdate(result, errorSubjectListing, errorCodeUpdate, escrow.ErrNotFound)
}

func (store *Store) MarkListingSold(ctx context.Context, listingID escrow.ListingID, winnerID escrow.UserID, credential escrow.AccessCredential, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("listing_id = ? AND status = ?", listingID.String(), escrow.ListingStatusOpen.String()).
		Updates(map[string]interface{}{
			"status":             escrow.ListingStatusSold.String(),
			"winner_id":          winnerID.String(),
			"credential_api_key": credential.APIKey,
			"credential_pin":     credential.PIN,
			"updated_at":         unixTime(nowUnixUTC),
		})
	return checkUpdate(result, errorSubjectListing, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

func (store *Store) UpdateListingStatus(ctx context.Context, listingID escrow.ListingID, from, to escrow.ListingStatus, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Listing{}).
		Where("listing_id = ? AND status = ?", listingID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":     to.String(),
			"updated_at": unixTime(nowUnixUTC),
		})
	return checkUpdate(result, errorSubjectListing, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

func (store *Store) CreateBid(ctx context.Context, bid escrow.Bid) error {
	model := Bid{
		BidID:          bid.BidID.String(),
		ListingID:      bid.ListingID.String(),
		BidderID:       bid.BidderID.String(),
		AmountCents:    bid.Amount.Int64(),
		Status:         bid.Status.String(),
		EscrowStatus:   bid.EscrowStatus.String(),
		IdempotencyKey: optionalKey(bid.IdempotencyKey),
		CreatedAt:      unixTime(bid.CreatedUnixUTC),
		UpdatedAt:      unixTime(bid.UpdatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, indexBidIdempotency) {
		return wrapStoreError(errorSubjectBid, errorCodeDuplicate, escrow.ErrIdempotencyConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBid, errorCodeCreate, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) GetBid(ctx context.Context, bidID escrow.BidID) (escrow.Bid, error) {
	var model Bid
	err := store.db.WithContext(ctx).Where("bid_id = ?", bidID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return escrow.Bid{}, wrapStoreError(errorSubjectBid, errorCodeGet, escrow.ErrNotFound)
	}
	if err != nil {
		return escrow.Bid{}, wrapStoreError(errorSubjectBid, errorCodeGet, escrow.StorageFailure(err))
	}
	bid, err := mapBid(model)
	if err != nil {
		return escrow.Bid{}, wrapStoreError(errorSubjectBid, errorCodeInvalid, err)
	}
	return bid, nil
}

func (store *Store) FindBidByIdempotencyKey(ctx context.Context, bidderID escrow.UserID, key escrow.IdempotencyKey) (escrow.Bid, bool, error) {
	return store.findBid(store.db.WithContext(ctx).Where("bidder_id = ? AND idempotency_key = ?", bidderID.String(), key.String()))
}

func (store *Store) FindWinningBid(ctx context.Context, listingID escrow.ListingID) (escrow.Bid, bool, error) {
	return store.findBid(store.db.WithContext(ctx).
		Where("listing_id = ? AND status IN ?", listingID.String(), []string{escrow.BidStatusAccepted.String(), escrow.BidStatusCompleted.String()}))
}

func (store *Store) findBid(query *gorm.DB) (escrow.Bid, bool, error) {
	var rows []Bid
	if err := query.Limit(1).Find(&rows).Error; err != nil {
		return escrow.Bid{}, false, wrapStoreError(errorSubjectBid, errorCodeGet, escrow.StorageFailure(err))
	}
	if len(rows) == 0 {
		return escrow.Bid{}, false, nil
	}
	bid, err := mapBid(rows[0])
	if err != nil {
		return escrow.Bid{}, false, wrapStoreError(errorSubjectBid, errorCodeInvalid, err)
	}
	return bid, true, nil
}

// ListBids orders by amount: accepted bids on a listing strictly increase, so this is placement order.
func (store *Store) ListBids(ctx context.Context, listingID escrow.ListingID) ([]escrow.Bid, error) {
	return store.listBids(store.db.WithContext(ctx).Where("listing_id = ?", listingID.String()))
}

func (store *Store) ListBidsByStatus(ctx context.Context, listingID escrow.ListingID, status escrow.BidStatus) ([]escrow.Bid, error) {
	return store.listBids(store.db.WithContext(ctx).Where("listing_id = ? AND status = ?", listingID.String(), status.String()))
}

func (store *Store) listBids(query *gorm.DB) ([]escrow.Bid, error) {
	var rows []Bid
	if err := query.Order("amount_cents ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBid, errorCodeList, escrow.StorageFailure(err))
	}
	bids := make([]escrow.Bid, 0, len(rows))
	for _, row := range rows {
		bid, err := mapBid(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBid, errorCodeInvalid, err)
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

func (store *Store) UpdateBidStatus(ctx context.Context, bidID escrow.BidID, from escrow.BidStatus, to escrow.BidStatus, escrowStatus escrow.EscrowStatus, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Bid{}).
		Where("bid_id = ? AND status = ?", bidID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":        to.String(),
			"escrow_status": escrowStatus.String(),
			"updated_at":    unixTime(nowUnixUTC),
		})
	return checkUpdate(result, errorSubjectBid, errorCodeUpdateStatus, escrow.ErrInvalidState)
}

// ReleaseBidEscrow flips held escrow to released exactly once; accepted bids become completed.
func (store *Store) ReleaseBidEscrow(ctx context.Context, bidID escrow.BidID, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Bid{}).
		Where("bid_id = ? AND escrow_status = ?", bidID.String(), escrow.EscrowStatusHeld.String()).
		Updates(map[string]interface{}{
			"escrow_status": escrow.EscrowStatusReleased.String(),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				escrow.BidStatusAccepted.String(), escrow.BidStatusCompleted.String()),
			"updated_at": unixTime(nowUnixUTC),
		})
	return checkUpdate(result, errorSubjectBid, errorCodeRelease, escrow.ErrAlreadyReleased)
}

// EnrollmentStatus reports the stored KYC status; unknown users are not enrolled.
func (store *Store) EnrollmentStatus(ctx context.Context, userID escrow.UserID) (escrow.Enrollment, error) {
	model, found, err := store.findEnrollment(ctx, userID)
	if err != nil || !found {
		return escrow.Enrollment{KYCStatus: escrow.KYCStatusNone}, err
	}
	status, err := escrow.ParseKYCStatus(model.KYCStatus)
	if err != nil {
		return escrow.Enrollment{}, wrapStoreError(errorSubjectEnrollment, errorCodeInvalid, err)
	}
	return escrow.Enrollment{KYCStatus: status}, nil
}

// SubscriptionTier reports the stored plan; unknown users have no plan.
func (store *Store) SubscriptionTier(ctx context.Context, userID escrow.UserID) (escrow.Subscription, error) {
	model, found, err := store.findEnrollment(ctx, userID)
	if err != nil || !found {
		return escrow.Subscription{}, err
	}
	return escrow.Subscription{Plan: model.Plan, Status: model.SubscriptionStatus}, nil
}

// SaveEnrollment upserts a user's verification and subscription snapshot.
func (store *Store) SaveEnrollment(ctx context.Context, userID escrow.UserID, enrollment escrow.Enrollment, subscription escrow.Subscription, nowUnixUTC int64) error {
	model := UserEnrollment{
		UserID:             userID.String(),
		KYCStatus:          enrollment.KYCStatus.String(),
		Plan:               strings.TrimSpace(subscription.Plan),
		SubscriptionStatus: strings.TrimSpace(subscription.Status),
		UpdatedAt:          unixTime(nowUnixUTC),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kyc_status", "plan", "subscription_status", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectEnrollment, errorCodeSave, escrow.StorageFailure(err))
	}
	return nil
}

func (store *Store) findEnrollment(ctx context.Context, userID escrow.UserID) (UserEnrollment, bool, error) {
	var rows []UserEnrollment
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Limit(1).Find(&rows).Error
	if err != nil {
		return UserEnrollment{}, false, wrapStoreError(errorSubjectEnrollment, errorCodeGet, escrow.StorageFailure(err))
	}
	if len(rows) == 0 {
		return UserEnrollment{}, false, nil
	}
	return rows[0], true, nil
}

func insertEntry(transaction *gorm.DB, posting escrow.Posting, amountCents int64) error {
	entry := WalletEntry{
		UserID:         posting.UserID.String(),
		Type:           posting.Type.String(),
		AmountCents:    amountCents,
		ReferenceID:    posting.ReferenceID,
		IdempotencyKey: optionalKey(posting.IdempotencyKey),
		Metadata:       datatypesJSON(posting.Metadata.String()),
		CreatedAt:      unixTime(posting.CreatedUnixUTC),
	}
	err := transaction.Create(&entry).Error
	if isUniqueViolation(err, indexWalletEntryIdempotency) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, escrow.ErrIdempotencyConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, escrow.StorageFailure(err))
	}
	return nil
}

func checkUpdate(result *gorm.DB, subject string, code string, noRows error) error {
	if result.Error != nil {
		return wrapStoreError(subject, code, escrow.StorageFailure(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(subject, code, noRows)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return escrow.WrapError(errorOperationStore, subject, code, err)
}

func mapListings(rows []Listing) ([]escrow.Listing, error) {
	listings := make([]escrow.Listing, 0, len(rows))
	for _, row := range rows {
		listing, err := mapListing(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectListing, errorCodeInvalid, err)
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func mapListing(row Listing) (escrow.Listing, error) {
	listingID, err := escrow.NewListingID(row.ListingID)
	if err != nil {
		return escrow.Listing{}, err
	}
	adReferenceID, err := escrow.NewAdReferenceID(row.AdReferenceID)
	if err != nil {
		return escrow.Listing{}, err
	}
	sellerID, err := escrow.NewUserID(row.SellerID)
	if err != nil {
		return escrow.Listing{}, err
	}
	basePrice, err := escrow.NewPositiveAmountCents(row.BasePrice)
	if err != nil {
		return escrow.Listing{}, err
	}
	status, err := escrow.ParseListingStatus(row.Status)
	if err != nil {
		return escrow.Listing{}, err
	}
	highest, err := escrow.NewAmountCents(row.CurrentHighestBid)
	if err != nil {
		return escrow.Listing{}, err
	}
	listing := escrow.Listing{
		ListingID:         listingID,
		AdReferenceID:     adReferenceID,
		SellerID:          sellerID,
		BasePrice:         basePrice,
		TargetViews:       row.TargetViews,
		Status:            status,
		CurrentHighestBid: highest,
		ExpiresAtUnixUTC:  timeOrZero(row.ExpiresAt),
		Credential: escrow.AccessCredential{
			APIKey: stringOrEmpty(row.CredentialAPIKey),
			PIN:    stringOrEmpty(row.CredentialPIN),
		},
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}
	if row.WinnerID != nil && *row.WinnerID != "" {
		winnerID, err := escrow.NewUserID(*row.WinnerID)
		if err != nil {
			return escrow.Listing{}, err
		}
		listing.WinnerID = winnerID
	}
	return listing, nil
}

func mapBid(row Bid) (escrow.Bid, error) {
	bidID, err := escrow.NewBidID(row.BidID)
	if err != nil {
		return escrow.Bid{}, err
	}
	listingID, err := escrow.NewListingID(row.ListingID)
	if err != nil {
		return escrow.Bid{}, err
	}
	bidderID, err := escrow.NewUserID(row.BidderID)
	if err != nil {
		return escrow.Bid{}, err
	}
	amount, err := escrow.NewPositiveAmountCents(row.AmountCents)
	if err != nil {
		return escrow.Bid{}, err
	}
	status, err := escrow.ParseBidStatus(row.Status)
	if err != nil {
		return escrow.Bid{}, err
	}
	escrowStatus, err := escrow.ParseEscrowStatus(row.EscrowStatus)
	if err != nil {
		return escrow.Bid{}, err
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(stringOrEmpty(row.IdempotencyKey))
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
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapWalletEntry(row WalletEntry) (escrow.Entry, error) {
	entryID, err := escrow.NewEntryID(row.EntryID)
	if err != nil {
		return escrow.Entry{}, err
	}
	userID, err := escrow.NewUserID(row.UserID)
	if err != nil {
		return escrow.Entry{}, err
	}
	entryType, err := escrow.ParseEntryType(row.Type)
	if err != nil {
		return escrow.Entry{}, err
	}
	idempotencyKey, err := escrow.ParseOptionalIdempotencyKey(stringOrEmpty(row.IdempotencyKey))
	if err != nil {
		return escrow.Entry{}, err
	}
	metadata, err := escrow.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return escrow.Entry{}, err
	}
	return escrow.Entry{
		EntryID:        entryID,
		UserID:         userID,
		Type:           entryType,
		AmountCents:    escrow.SignedAmountCents(row.AmountCents),
		ReferenceID:    row.ReferenceID,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func unixTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func optionalKey(key escrow.IdempotencyKey) *string {
	if key.IsZero() {
		return nil
	}
	value := key.String()
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation matches a unique violation on the named index. SQLite only reports the
// constraint class, so any constraint failure matches there.
func isUniqueViolation(err error, index string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == index
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
