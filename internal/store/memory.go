package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"QuoteKeeper/internal/model"
)

type ledgerID struct {
	key    model.Key
	source string
	day    string
}

type snapshotID struct {
	key  model.Key
	typ  model.CacheType
	date string
}

// MemoryStore keeps everything in process memory. It is used in tests and
// when no database path is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[model.Key]model.PriceRecord
	ledger      map[ledgerID]model.LedgerEntry
	corrections map[model.Key]model.Correction
	snapshots   map[snapshotID]model.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[model.Key]model.PriceRecord),
		ledger:      make(map[ledgerID]model.LedgerEntry),
		corrections: make(map[model.Key]model.Correction),
		snapshots:   make(map[snapshotID]model.Snapshot),
	}
}

func (m *MemoryStore) Get(_ context.Context, key model.Key) (*model.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *model.PriceRecord) error {
	if rec == nil || rec.Key.IsZero() {
		return fmt.Errorf("upsert: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = *rec
	return nil
}

func (m *MemoryStore) stale(cutoff time.Time) []model.PriceRecord {
	var out []model.PriceRecord
	for _, r := range m.records {
		if r.PriceUpdatedAt == nil || r.PriceUpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PriceUpdatedAt, out[j].PriceUpdatedAt
		switch {
		case a == nil && b == nil:
			return out[i].Key.String() < out[j].Key.String()
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return out[i].Key.String() < out[j].Key.String()
		}
		return a.Before(*b)
	})
	return out
}

func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]model.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.stale(cutoff)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stale(cutoff)), nil
}

func (m *MemoryStore) ListBySymbol(_ context.Context, symbol string) ([]model.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PriceRecord
	for k, r := range m.records {
		if k.Symbol == symbol {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *MemoryStore) Purge(_ context.Context, key model.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) GetLedger(_ context.Context, key model.Key, source, day string) (*model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.ledger[ledgerID{key, source, day}]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) PutLedger(_ context.Context, e *model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[ledgerID{e.Key, e.Source, e.Day}] = *e
	return nil
}

func (m *MemoryStore) LedgerSince(_ context.Context, day string) ([]model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.LedgerEntry
	for id, e := range m.ledger {
		if id.day >= day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

func (m *MemoryStore) GetCorrection(_ context.Context, symbol, currency string) (*model.Correction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.corrections[model.Key{Symbol: symbol, Currency: currency}]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) PutCorrection(_ context.Context, c *model.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections[model.Key{Symbol: c.OriginalSymbol, Currency: c.Currency}] = *c
	return nil
}

func (m *MemoryStore) PutSnapshots(_ context.Context, snaps []model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snapshots[snapshotID{s.Key, s.Type, s.Date.Format(model.DayLayout)}] = s
	}
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, cacheType model.CacheType, asOf time.Time) (int64, error) {
	if cacheType == model.CacheCurrent {
		return 0, fmt.Errorf("delete expired: %q records are never expired", cacheType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.snapshots {
		if id.typ == cacheType && s.ExpiresAt.Before(asOf) {
			delete(m.snapshots, id)
			n++
		}
	}
	return n, nil
}

// Snapshots returns the number of stored snapshots of the given type.
func (m *MemoryStore) Snapshots(cacheType model.CacheType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for id := range m.snapshots {
		if id.typ == cacheType {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Commit(_ context.Context, rec *model.PriceRecord, entry *model.LedgerEntry) error {
	if rec != nil && rec.Key.IsZero() {
		return fmt.Errorf("commit: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec != nil {
		m.records[rec.Key] = *rec
	}
	if entry != nil {
		m.ledger[ledgerID{entry.Key, entry.Source, entry.Day}] = *entry
	}
	return nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, table Table, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	switch table {
	case TableLedger:
		day := model.Day(cutoff)
		for id := range m.ledger {
			if id.day < day {
				delete(m.ledger, id)
				n++
			}
		}
	case TableSnapshots:
		day := model.Day(cutoff)
		for id := range m.snapshots {
			if id.date < day {
				delete(m.snapshots, id)
				n++
			}
		}
	default:
		return 0, fmt.Errorf("delete older than: unknown table %q", table)
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
