// Package ledger implements the per key, per source, per UTC day request
// ledger that guards outbound fetch volume.
//
// Counters are partitioned by calendar day, so limits reset at the UTC day
// boundary without any cleanup job. A throttle block is stored on the row of
// the day it was raised and cleared lazily by the first check after it
// expires.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"QuoteKeeper/internal/collector"
	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/store"
)

const (
	DefaultDailyCeiling  = 200
	DefaultBlockDuration = time.Hour
)

// Store is the persistence the ledger needs.
type Store interface {
	store.LedgerStore
	DeleteOlderThan(ctx context.Context, table store.Table, cutoff time.Time) (int64, error)
}

// Reason explains a denied attempt.
type Reason string

const (
	Allowed        Reason = ""
	ReasonBlocked  Reason = "blocked"
	ReasonCeiling  Reason = "daily ceiling reached"
	ReasonStoreErr Reason = "ledger unavailable"
)

// Ledger applies the rate-limit and backoff policy.
type Ledger struct {
	store         Store
	dailyCeiling  int
	blockDuration time.Duration
	now           func() time.Time
}

// New creates a Ledger. Zero values select the defaults; now defaults to
// time.Now.
func New(st Store, dailyCeiling int, blockDuration time.Duration, now func() time.Time) *Ledger {
	if dailyCeiling <= 0 {
		dailyCeiling = DefaultDailyCeiling
	}
	if blockDuration <= 0 {
		blockDuration = DefaultBlockDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, dailyCeiling: dailyCeiling, blockDuration: blockDuration, now: now}
}

// DailyCeiling returns the configured per key/source daily limit.
func (l *Ledger) DailyCeiling() int { return l.dailyCeiling }

func (l *Ledger) load(ctx context.Context, key model.Key, source, day string) (*model.LedgerEntry, error) {
	e, err := l.store.GetLedger(ctx, key, source, day)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// Check decides whether a fetch for key may be attempted now. An expired
// block is cleared and persisted as part of the check.
func (l *Ledger) Check(ctx context.Context, key model.Key, source string) (Reason, error) {
	now := l.now()
	today := model.Day(now)

	// A block raised on an earlier day may still be active, so every day
	// back to now-blockDuration is checked.
	days := []string{today}
	first := model.Day(now.Add(-l.blockDuration))
	for t := now; days[len(days)-1] != first; {
		t = t.Add(-24 * time.Hour)
		days = append(days, model.Day(t))
	}

	var todayEntry *model.LedgerEntry
	for _, day := range days {
		e, err := l.load(ctx, key, source, day)
		if err != nil {
			return ReasonStoreErr, fmt.Errorf("load ledger %s: %w", key, err)
		}
		if e == nil {
			continue
		}
		if day == today {
			todayEntry = e
		}
		if !e.IsBlocked {
			continue
		}
		if e.Blocked(now) {
			return ReasonBlocked, nil
		}
		e.IsBlocked = false
		e.BlockedUntil = nil
		if err := l.store.PutLedger(ctx, e); err != nil {
			return ReasonStoreErr, fmt.Errorf("clear block %s: %w", key, err)
		}
		log.Printf("[INFO] ledger: block lifted for %s/%s", key, source)
	}

	if todayEntry != nil && todayEntry.RequestCount >= l.dailyCeiling {
		return ReasonCeiling, nil
	}
	return Allowed, nil
}

// CanAttempt reports whether a fetch for key may be attempted now. Ledger
// failures deny the attempt.
func (l *Ledger) CanAttempt(ctx context.Context, key model.Key, source string) bool {
	r, err := l.Check(ctx, key, source)
	if err != nil {
		log.Printf("[WARN] ledger check %s: %v", key, err)
		return false
	}
	return r == Allowed
}

// Apply returns the entry that results from one attempt. prev may be nil for
// the first attempt of the day. fetchErr is nil on success.
func (l *Ledger) Apply(prev *model.LedgerEntry, key model.Key, source string, fetchErr error) *model.LedgerEntry {
	now := l.now()
	e := &model.LedgerEntry{Key: key, Source: source, Day: model.Day(now)}
	if prev != nil && prev.Day == e.Day {
		*e = *prev
	}
	e.RequestCount++
	e.LastRequest = &now
	if fetchErr != nil {
		e.LastError = fetchErr.Error()
		if collector.IsThrottle(fetchErr) {
			until := now.Add(l.blockDuration)
			e.IsBlocked = true
			e.BlockedUntil = &until
			log.Printf("[WARN] ledger: %s/%s throttled, blocked until %s", key, source, until.Format(time.RFC3339))
		}
	}
	return e
}

// Pending loads today's entry and applies one attempt without persisting it,
// so the caller can commit it together with the price record.
func (l *Ledger) Pending(ctx context.Context, key model.Key, source string, fetchErr error) (*model.LedgerEntry, error) {
	prev, err := l.load(ctx, key, source, model.Day(l.now()))
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", key, err)
	}
	return l.Apply(prev, key, source, fetchErr), nil
}

// RecordAttempt counts one attempt and persists it. fetchErr is nil on
// success.
func (l *Ledger) RecordAttempt(ctx context.Context, key model.Key, source string, fetchErr error) error {
	e, err := l.Pending(ctx, key, source, fetchErr)
	if err != nil {
		return err
	}
	return l.store.PutLedger(ctx, e)
}

// Usage aggregates counters over the trailing window of days (today
// included).
func (l *Ledger) Usage(ctx context.Context, days int) (model.UsageReport, error) {
	if days <= 0 {
		days = 7
	}
	now := l.now()
	since := model.Day(now.AddDate(0, 0, -(days - 1)))
	today := model.Day(now)

	entries, err := l.store.LedgerSince(ctx, since)
	if err != nil {
		return model.UsageReport{}, fmt.Errorf("usage: %w", err)
	}

	rep := model.UsageReport{
		Since:        since,
		BySource:     map[string]model.SourceUsage{},
		ByDay:        map[string]int{},
		DailyCeiling: l.dailyCeiling,
	}
	keys := map[model.Key]bool{}
	blocked := map[model.Key]bool{}
	sourceKeys := map[string]map[model.Key]bool{}
	for _, e := range entries {
		rep.TotalRequests += e.RequestCount
		rep.ByDay[e.Day] += e.RequestCount
		if e.Day == today {
			rep.TodayRequests += e.RequestCount
		}
		keys[e.Key] = true

		su := rep.BySource[e.Source]
		su.RequestCount += e.RequestCount
		if sourceKeys[e.Source] == nil {
			sourceKeys[e.Source] = map[model.Key]bool{}
		}
		sourceKeys[e.Source][e.Key] = true
		su.KeyCount = len(sourceKeys[e.Source])
		if e.Blocked(now) {
			su.BlockedCount++
			blocked[e.Key] = true
		}
		rep.BySource[e.Source] = su
	}
	rep.TotalKeys = len(keys)
	rep.BlockedCount = len(blocked)
	return rep, nil
}

// Purge deletes entries older than the retention window.
func (l *Ledger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention)
	n, err := l.store.DeleteOlderThan(ctx, store.TableLedger, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	return n, nil
}
