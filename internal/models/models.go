package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Marketplace identifies a supported external e-commerce platform
type Marketplace string

// Supported marketplaces
const (
	MarketplaceAmazon       Marketplace = "amazon"
	MarketplaceShopee       Marketplace = "shopee"
	MarketplaceMercadoLivre Marketplace = "mercadolivre"
)

// Marketplaces lists every supported marketplace in detection order
var Marketplaces = []Marketplace{
	MarketplaceAmazon,
	MarketplaceShopee,
	MarketplaceMercadoLivre,
}

// Valid reports whether m is one of the supported marketplaces
func (m Marketplace) Valid() bool {
	for _, known := range Marketplaces {
		if m == known {
			return true
		}
	}
	return false
}

// Product statuses
const (
	ProductStatusActive       = "active"
	ProductStatusInactive     = "inactive"
	ProductStatusOutOfStock   = "out_of_stock"
	ProductStatusDiscontinued = "discontinued"
)

// DefaultCurrency is used when a source does not report one
const DefaultCurrency = "BRL"

// PriceScale is the number of decimal places a price column holds
const PriceScale = 2

// Product is a normalized marketplace listing, unique on (marketplace, marketplace_id)
type Product struct {
	ID            int64               `db:"id" json:"id"`
	Title         string              `db:"title" json:"title"`
	Price         decimal.Decimal     `db:"price" json:"price"`
	OriginalPrice decimal.NullDecimal `db:"original_price" json:"original_price"`
	Currency      string              `db:"currency" json:"currency"`
	ImageURL      string              `db:"image_url" json:"image_url"`
	Marketplace   Marketplace         `db:"marketplace" json:"marketplace"`
	MarketplaceID string              `db:"marketplace_id" json:"marketplace_id"`
	AffiliateURL  string              `db:"affiliate_url" json:"affiliate_url"`
	OriginalURL   string              `db:"original_url" json:"original_url"`
	Rating        *float64            `db:"rating" json:"rating,omitempty"`
	ReviewCount   int                 `db:"review_count" json:"review_count"`
	Status        string              `db:"status" json:"status"`
	LastCheckedAt *time.Time          `db:"last_checked_at" json:"last_checked_at,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// PriceHistory is an append-only price observation
type PriceHistory struct {
	ID         int64           `db:"id" json:"id"`
	ProductID  int64           `db:"product_id" json:"product_id"`
	Price      decimal.Decimal `db:"price" json:"price"`
	RecordedAt time.Time       `db:"recorded_at" json:"recorded_at"`
}

// PriceAlert is a user's target price for a product.
// It is consumed at most once: is_active goes false and notification_sent goes true together.
type PriceAlert struct {
	ID               int64           `db:"id" json:"id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	TargetPrice      decimal.Decimal `db:"target_price" json:"target_price"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	NotificationSent bool            `db:"notification_sent" json:"notification_sent"`
	TriggeredAt      *time.Time      `db:"triggered_at" json:"triggered_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// PendingAlert joins an unsent alert with the data needed to evaluate and deliver it
type PendingAlert struct {
	AlertID      int64           `db:"alert_id"`
	UserID       int64           `db:"user_id"`
	ProductID    int64           `db:"product_id"`
	TargetPrice  decimal.Decimal `db:"target_price"`
	CurrentPrice decimal.Decimal `db:"current_price"`
	ProductTitle string          `db:"product_title"`
	AffiliateURL string          `db:"affiliate_url"`
	UserEmail    *string         `db:"user_email"`
	UserName     *string         `db:"user_name"`
}

// User is the minimal user projection the notifier needs
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is an in-app notification record
type Notification struct {
	ID        int64          `db:"id" json:"id"`
	UserID    int64          `db:"user_id" json:"user_id"`
	Type      string         `db:"type" json:"type"`
	Title     string         `db:"title" json:"title"`
	Message   string         `db:"message" json:"message"`
	Data      types.JSONText `db:"data" json:"data"`
	IsRead    bool           `db:"is_read" json:"is_read"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// EmailQueueItem is an outbound email waiting for delivery
type EmailQueueItem struct {
	ID        int64     `db:"id" json:"id"`
	ToEmail   string    `db:"to_email" json:"to_email"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification and email constants
const (
	NotificationTypePriceAlert = "price_alert"
	EmailStatusPending         = "pending"
)

// AutomationJob tracks run bookkeeping and the mutual-exclusion lease for one job name
type AutomationJob struct {
	JobName      string     `db:"job_name" json:"job_name"`
	Schedule     string     `db:"schedule" json:"schedule"`
	LastRun      *time.Time `db:"last_run" json:"last_run,omitempty"`
	RunCount     int        `db:"run_count" json:"run_count"`
	ErrorCount   int        `db:"error_count" json:"error_count"`
	RunningSince *time.Time `db:"running_since" json:"running_since,omitempty"`
	LeaseToken   *string    `db:"lease_token" json:"-"`
}

// AutomationLog is the single append-only record written per job invocation
type AutomationLog struct {
	ID         int64          `db:"id" json:"id"`
	JobName    string         `db:"job_name" json:"job_name"`
	Status     string         `db:"status" json:"status"`
	Message    string         `db:"message" json:"message"`
	Details    types.JSONText `db:"details" json:"details"`
	DurationMS int64          `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Job run statuses
const (
	JobStatusSuccess        = "success"
	JobStatusPartialSuccess = "partial_success"
	JobStatusError          = "error"
	JobStatusSkipped        = "skipped"
)

// MarketplaceCredentials holds the tracking identifiers stored for one marketplace
type MarketplaceCredentials struct {
	MarketplaceID string         `db:"marketplace_id" json:"marketplace_id"`
	Credentials   types.JSONText `db:"credentials" json:"credentials"`
	IsActive      bool           `db:"is_active" json:"is_active"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
