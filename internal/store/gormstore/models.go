package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletAccount represents the wallet_accounts table.
type WalletAccount struct {
	UserID      string    `gorm:"primaryKey"`
	Balance     int64     `gorm:"not null;default:0;check:chk_wallet_accounts_balance,balance >= 0"`
	TotalEarned int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

// WalletEntry mirrors the wallet_entries journal.
type WalletEntry struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	EntryID        string         `gorm:"not null;uniqueIndex:uniq_wallet_entries_entry_id"`
	UserID         string         `gorm:"not null;index:idx_wallet_entries_user_created,priority:1;index:uniq_wallet_entries_user_idem,unique,priority:1"`
	Type           string         `gorm:"not null"`
	AmountCents    int64          `gorm:"not null"`
	ReferenceID    string         `gorm:"not null;default:'';index:idx_wallet_entries_reference"`
	IdempotencyKey *string        `gorm:"index:uniq_wallet_entries_user_idem,unique,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_wallet_entries_user_created,priority:2"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (entry *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Listing mirrors the listings table. The partial unique index keeps one live listing per ad.
type Listing struct {
	ListingID         string     `gorm:"primaryKey"`
	AdReferenceID     string     `gorm:"not null;index:idx_listings_live_ad,unique,where:status <> 'closed'"`
	SellerID          string     `gorm:"not null;index:idx_listings_seller"`
	BasePrice         int64      `gorm:"not null;check:chk_listings_base_price,base_price > 0"`
	TargetViews       int64      `gorm:"not null;default:0"`
	Status            string     `gorm:"not null;index:idx_listings_status_expiry,priority:1"`
	CurrentHighestBid int64      `gorm:"not null;default:0"`
	WinnerID          *string    `gorm:""`
	ExpiresAt         *time.Time `gorm:"index:idx_listings_status_expiry,priority:2"`
	CredentialAPIKey  *string    `gorm:""`
	CredentialPIN     *string    `gorm:""`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (Listing) TableName() string { return "listings" }

// Bid mirrors the bids table.
type Bid struct {
	BidID          string    `gorm:"primaryKey"`
	ListingID      string    `gorm:"not null;index:idx_bids_listing_status,priority:1"`
	BidderID       string    `gorm:"not null;index:uniq_bids_bidder_idem,unique,priority:1"`
	AmountCents    int64     `gorm:"not null;check:chk_bids_amount,amount_cents > 0"`
	Status         string    `gorm:"not null;index:idx_bids_listing_status,priority:2"`
	EscrowStatus   string    `gorm:"not null"`
	IdempotencyKey *string   `gorm:"index:uniq_bids_bidder_idem,unique,priority:2"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Bid) TableName() string { return "bids" }

// UserEnrollment holds the verification and subscription snapshot consulted before marketplace actions.
type UserEnrollment struct {
	UserID             string    `gorm:"primaryKey"`
	KYCStatus          string    `gorm:"column:kyc_status;not null;default:'none'"`
	Plan               string    `gorm:"not null;default:''"`
	SubscriptionStatus string    `gorm:"not null;default:''"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (UserEnrollment) TableName() string { return "user_enrollments" }

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&WalletAccount{}, &WalletEntry{}, &Listing{}, &Bid{}, &UserEnrollment{}}
}
