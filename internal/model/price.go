package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is the cached "current" price of one key.
//
// CurrentPrice is invalid when no refresh has ever produced a value. A valid
// zero is the sentinel for "the provider could not resolve this symbol".
type PriceRecord struct {
	Key
	CurrentPrice   decimal.NullDecimal `json:"current_price"`
	PriceUpdatedAt *time.Time          `json:"price_updated_at,omitempty"`
	Name           string              `json:"name,omitempty"`
	Exchange       string              `json:"exchange,omitempty"`
}

// Price returns the cached price, or zero if none was ever set.
func (r *PriceRecord) Price() decimal.Decimal {
	if r == nil || !r.CurrentPrice.Valid {
		return decimal.Zero
	}
	return r.CurrentPrice.Decimal
}

// NeedsUpdate reports whether the record is older than ttl at now.
func (r *PriceRecord) NeedsUpdate(now time.Time, ttl time.Duration) bool {
	if r == nil || r.PriceUpdatedAt == nil {
		return true
	}
	return now.Sub(*r.PriceUpdatedAt) > ttl
}

// Touch advances PriceUpdatedAt to now. The timestamp never moves backwards
// and always changes, so a refresh is observable even within one clock tick.
func (r *PriceRecord) Touch(now time.Time) {
	if r.PriceUpdatedAt != nil && !now.After(*r.PriceUpdatedAt) {
		now = r.PriceUpdatedAt.Add(time.Nanosecond)
	}
	r.PriceUpdatedAt = &now
}

// Correction maps a known-bad symbol (in one currency) to its corrected form.
type Correction struct {
	OriginalSymbol  string    `json:"original_symbol"`
	Currency        string    `json:"currency"`
	CorrectedSymbol string    `json:"corrected_symbol"`
	Note            string    `json:"note,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CacheType names a derived snapshot kind. The canonical "current" price
// lives in PriceRecord and is never expired by cleanup.
type CacheType string

const (
	CacheCurrent CacheType = "current"
	CacheDaily   CacheType = "daily"
	CacheWeekly  CacheType = "weekly"
)

// Snapshot is a derived price point with an explicit expiry.
type Snapshot struct {
	Key
	Type      CacheType       `json:"type"`
	Date      time.Time       `json:"date"`
	Price     decimal.Decimal `json:"price"`
	ExpiresAt time.Time       `json:"expires_at"`
}
