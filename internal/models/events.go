package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeProductIngested = "PRODUCT_INGESTED"
	EventTypePriceChanged    = "PRICE_CHANGED"
	EventTypeAlertTriggered  = "ALERT_TRIGGERED"
	EventTypeJobCompleted    = "JOB_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ProductIngestedEvent published after a product upsert
type ProductIngestedEvent struct {
	BaseEvent
	ProductID     int64       `json:"product_id"`
	Marketplace   Marketplace `json:"marketplace"`
	MarketplaceID string      `json:"marketplace_id"`
	Created       bool        `json:"created"`
}

// PriceChangedEvent published when a product's stored price moves
type PriceChangedEvent struct {
	BaseEvent
	ProductID int64           `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
}

// Dropped reports whether the new price is lower than the previous one
func (e *PriceChangedEvent) Dropped() bool {
	return e.NewPrice.LessThan(e.OldPrice)
}

// AlertTriggeredEvent published once per consumed price alert
type AlertTriggeredEvent struct {
	BaseEvent
	AlertID      int64           `json:"alert_id"`
	UserID       int64           `json:"user_id"`
	ProductID    int64           `json:"product_id"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// JobCompletedEvent published after every job invocation
type JobCompletedEvent struct {
	BaseEvent
	JobName    string `json:"job_name"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Errors     int    `json:"errors"`
	DurationMS int64  `json:"duration_ms"`
}
