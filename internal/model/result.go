package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result of one refresh attempt.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// BatchResult aggregates outcomes of a batch refresh.
type BatchResult struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Add folds one outcome into the result.
func (b *BatchResult) Add(key Key, out Outcome, err error) {
	switch out {
	case OutcomeUpdated:
		b.Updated++
	case OutcomeSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
	if err != nil {
		b.Errors = append(b.Errors, key.String()+": "+err.Error())
	}
}

// Total is the number of keys processed.
func (b BatchResult) Total() int { return b.Updated + b.Skipped + b.Failed }

// StaleStock is one row of the "stocks needing update" query.
type StaleStock struct {
	Key
	Name           string              `json:"name,omitempty"`
	CurrentPrice   decimal.NullDecimal `json:"current_price"`
	PriceUpdatedAt *time.Time          `json:"price_updated_at,omitempty"`
	InSession      bool                `json:"is_trading_hours"`
}

// SourceUsage aggregates ledger counters for one data source.
type SourceUsage struct {
	RequestCount int `json:"request_count"`
	KeyCount     int `json:"stock_count"`
	BlockedCount int `json:"blocked_count"`
}

// UsageReport aggregates the request ledger over a trailing window.
type UsageReport struct {
	Since         string                 `json:"since"`
	TotalRequests int                    `json:"total_requests"`
	TotalKeys     int                    `json:"total_stocks"`
	BySource      map[string]SourceUsage `json:"by_source"`
	ByDay         map[string]int         `json:"by_date"`
	BlockedCount  int                    `json:"blocked_count"`
	TodayRequests int                    `json:"today_requests"`
	DailyCeiling  int                    `json:"max_daily_requests_per_key"`
}

// JobState is the lifecycle state of a scheduled job.
type JobState string

const (
	JobIdle    JobState = "idle"
	JobRunning JobState = "running"
)

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name    string     `json:"name"`
	Spec    string     `json:"spec"`
	State   JobState   `json:"state"`
	NextRun *time.Time `json:"next_run_time,omitempty"`
	LastRun *time.Time `json:"last_run_time,omitempty"`
}

// SchedulerStatus is the scheduler's externally visible state.
type SchedulerStatus struct {
	Running   bool        `json:"running"`
	InSession bool        `json:"is_trading_hours"`
	Jobs      []JobStatus `json:"jobs"`
}
