package model

import "time"

// DayLayout is the calendar-day format used to partition ledger entries.
const DayLayout = "2006-01-02"

// Day returns the UTC calendar day of t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// LedgerEntry counts outbound requests for one key and source on one UTC day.
type LedgerEntry struct {
	Key
	Source       string     `json:"source"`
	Day          string     `json:"day"`
	RequestCount int        `json:"request_count"`
	LastRequest  *time.Time `json:"last_request,omitempty"`
	IsBlocked    bool       `json:"is_blocked"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Blocked reports whether the entry is blocked at now.
func (e *LedgerEntry) Blocked(now time.Time) bool {
	return e.IsBlocked && e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}
