package store

import (
	"context"
	"errors"
	"time"

	"QuoteKeeper/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Table names a purgeable table for DeleteOlderThan.
type Table string

const (
	TableLedger    Table = "request_ledger"
	TableSnapshots Table = "price_snapshots"
)

// RecordStore persists the canonical current-price record per key.
type RecordStore interface {
	Get(ctx context.Context, key model.Key) (*model.PriceRecord, error)
	Upsert(ctx context.Context, rec *model.PriceRecord) error
	// ListStale returns records never refreshed or refreshed before cutoff,
	// oldest first, at most limit rows.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.PriceRecord, error)
	CountStale(ctx context.Context, cutoff time.Time) (int, error)
	ListBySymbol(ctx context.Context, symbol string) ([]model.PriceRecord, error)
	Purge(ctx context.Context, key model.Key) error
}

// LedgerStore persists per key/source/day request counters.
type LedgerStore interface {
	GetLedger(ctx context.Context, key model.Key, source, day string) (*model.LedgerEntry, error)
	PutLedger(ctx context.Context, e *model.LedgerEntry) error
	LedgerSince(ctx context.Context, day string) ([]model.LedgerEntry, error)
}

// CorrectionStore persists symbol corrections.
type CorrectionStore interface {
	GetCorrection(ctx context.Context, symbol, currency string) (*model.Correction, error)
	PutCorrection(ctx context.Context, c *model.Correction) error
}

// SnapshotStore persists derived, expiring price snapshots.
type SnapshotStore interface {
	PutSnapshots(ctx context.Context, snaps []model.Snapshot) error
	DeleteExpired(ctx context.Context, cacheType model.CacheType, asOf time.Time) (int64, error)
}

// Store is everything the price engine needs from persistence. Every method
// is atomic on its own.
type Store interface {
	RecordStore
	LedgerStore
	CorrectionStore
	SnapshotStore
	// Commit writes a record and its ledger entry as one unit. Either may be
	// nil.
	Commit(ctx context.Context, rec *model.PriceRecord, entry *model.LedgerEntry) error
	DeleteOlderThan(ctx context.Context, table Table, cutoff time.Time) (int64, error)
	Close() error
}
