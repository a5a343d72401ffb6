package engine

import (
	"context"
	"fmt"
	"time"

	"QuoteKeeper/internal/collector"
	"QuoteKeeper/internal/ledger"
	"QuoteKeeper/internal/model"
)

// Cached closes expire after these windows and are removed by cleanup.
const (
	DailySnapshotTTL  = 24 * time.Hour
	WeeklySnapshotTTL = 7 * 24 * time.Hour
)

// History fetches daily closes for symbol between start and end. The request
// goes through the same ledger as current-price refreshes. The closes are
// cached as daily snapshots and, collapsed per week, as weekly snapshots.
func (e *Engine) History(ctx context.Context, symbol, currency string, start, end time.Time) (*collector.History, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("history: end %s before start %s", end.Format(model.DayLayout), start.Format(model.DayLayout))
	}
	key := e.Resolve(ctx, symbol, currency)
	source := e.Source()

	reason, err := e.ledger.Check(ctx, key, source)
	if err != nil {
		return nil, err
	}
	if reason != ledger.Allowed {
		return nil, fmt.Errorf("%w: %s: %s", ErrDenied, key, reason)
	}

	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	h, fetchErr := e.client.FetchHistory(fctx, key.Symbol, start, end)
	cancel()
	if err := e.ledger.RecordAttempt(ctx, key, source, fetchErr); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	now := e.now()
	snaps := snapshots(key, model.CacheDaily, h, now.Add(DailySnapshotTTL))
	snaps = append(snaps, snapshots(key, model.CacheWeekly, h.Weekly(), now.Add(WeeklySnapshotTTL))...)
	if len(snaps) == 0 {
		return h, nil
	}
	if err := e.store.PutSnapshots(ctx, snaps); err != nil {
		return h, fmt.Errorf("cache history %s: %w", key, err)
	}
	return h, nil
}

func snapshots(key model.Key, typ model.CacheType, h *collector.History, expires time.Time) []model.Snapshot {
	out := make([]model.Snapshot, 0, h.Len())
	for date, price := range h.All() {
		out = append(out, model.Snapshot{
			Key:       key,
			Type:      typ,
			Date:      date,
			Price:     price,
			ExpiresAt: expires,
		})
	}
	return out
}

// CleanupSnapshots drops expired daily and weekly snapshots. Current prices
// are never touched.
func (e *Engine) CleanupSnapshots(ctx context.Context) (int64, error) {
	now := e.now()
	var total int64
	for _, t := range []model.CacheType{model.CacheDaily, model.CacheWeekly} {
		n, err := e.store.DeleteExpired(ctx, t, now)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", t, err)
		}
		total += n
	}
	return total, nil
}
