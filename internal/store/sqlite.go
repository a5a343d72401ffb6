package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"QuoteKeeper/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists price records, the request ledger, corrections and
// snapshots to a SQLite database. Timestamps are stored as unix nanoseconds
// and prices as decimal text.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the admin surface read while a refresh batch writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_records (
			symbol           TEXT NOT NULL,
			currency         TEXT NOT NULL,
			current_price    TEXT,
			price_updated_at INTEGER,
			name             TEXT NOT NULL DEFAULT '',
			exchange         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, currency)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_updated ON price_records(price_updated_at)`,

		`CREATE TABLE IF NOT EXISTS request_ledger (
			symbol        TEXT NOT NULL,
			currency      TEXT NOT NULL,
			source        TEXT NOT NULL,
			day           TEXT NOT NULL,
			request_count INTEGER NOT NULL DEFAULT 0,
			last_request  INTEGER,
			is_blocked    INTEGER NOT NULL DEFAULT 0,
			blocked_until INTEGER,
			last_error    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, currency, source, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_day ON request_ledger(day)`,

		`CREATE TABLE IF NOT EXISTS symbol_corrections (
			original_symbol  TEXT NOT NULL,
			currency         TEXT NOT NULL,
			corrected_symbol TEXT NOT NULL,
			note             TEXT NOT NULL DEFAULT '',
			updated_at       INTEGER NOT NULL,
			PRIMARY KEY (original_symbol, currency)
		)`,

		`CREATE TABLE IF NOT EXISTS price_snapshots (
			symbol     TEXT NOT NULL,
			currency   TEXT NOT NULL,
			cache_type TEXT NOT NULL,
			date       TEXT NOT NULL,
			price      TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, currency, cache_type, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_expires ON price_snapshots(expires_at)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func toNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = `symbol, currency, current_price, price_updated_at, name, exchange`

func scanRecord(row rowScanner) (*model.PriceRecord, error) {
	var (
		r       model.PriceRecord
		updated sql.NullInt64
	)
	if err := row.Scan(&r.Symbol, &r.Currency, &r.CurrentPrice, &updated, &r.Name, &r.Exchange); err != nil {
		return nil, err
	}
	r.PriceUpdatedAt = fromNanos(updated)
	return &r, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key model.Key) (*model.PriceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE symbol = ? AND currency = ?`,
		key.Symbol, key.Currency)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return r, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, ex execer, rec *model.PriceRecord) error {
	if rec.Key.IsZero() {
		return fmt.Errorf("upsert: empty key")
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO price_records
		(symbol, currency, current_price, price_updated_at, name, exchange)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(symbol, currency) DO UPDATE SET
			current_price    = excluded.current_price,
			price_updated_at = excluded.price_updated_at,
			name             = excluded.name,
			exchange         = excluded.exchange`,
		rec.Symbol, rec.Currency, rec.CurrentPrice, toNanos(rec.PriceUpdatedAt), rec.Name, rec.Exchange,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key, err)
	}
	return nil
}

func putLedger(ctx context.Context, ex execer, e *model.LedgerEntry) error {
	blocked := 0
	if e.IsBlocked {
		blocked = 1
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO request_ledger
		(symbol, currency, source, day, request_count, last_request, is_blocked, blocked_until, last_error)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol, currency, source, day) DO UPDATE SET
			request_count = excluded.request_count,
			last_request  = excluded.last_request,
			is_blocked    = excluded.is_blocked,
			blocked_until = excluded.blocked_until,
			last_error    = excluded.last_error`,
		e.Symbol, e.Currency, e.Source, e.Day, e.RequestCount, toNanos(e.LastRequest),
		blocked, toNanos(e.BlockedUntil), e.LastError,
	)
	if err != nil {
		return fmt.Errorf("put ledger %s/%s/%s: %w", e.Key, e.Source, e.Day, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec *model.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRecord(ctx, s.db, rec)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PriceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.PriceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	out, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM price_records
		WHERE price_updated_at IS NULL OR price_updated_at < ?
		ORDER BY price_updated_at IS NOT NULL, price_updated_at, symbol, currency
		LIMIT ?`, cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountStale(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_records
		WHERE price_updated_at IS NULL OR price_updated_at < ?`, cutoff.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListBySymbol(ctx context.Context, symbol string) ([]model.PriceRecord, error) {
	out, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM price_records
		WHERE symbol = ? ORDER BY currency`, symbol)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", symbol, err)
	}
	return out, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, key model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM price_records WHERE symbol = ? AND currency = ?`, key.Symbol, key.Currency)
	return err
}

const ledgerColumns = `symbol, currency, source, day, request_count, last_request, is_blocked, blocked_until, last_error`

func scanLedger(row rowScanner) (*model.LedgerEntry, error) {
	var (
		e             model.LedgerEntry
		last, blocked sql.NullInt64
		isBlocked     int
	)
	if err := row.Scan(&e.Symbol, &e.Currency, &e.Source, &e.Day, &e.RequestCount,
		&last, &isBlocked, &blocked, &e.LastError); err != nil {
		return nil, err
	}
	e.LastRequest = fromNanos(last)
	e.IsBlocked = isBlocked != 0
	e.BlockedUntil = fromNanos(blocked)
	return &e, nil
}

func (s *SQLiteStore) GetLedger(ctx context.Context, key model.Key, source, day string) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM request_ledger
		WHERE symbol = ? AND currency = ? AND source = ? AND day = ?`,
		key.Symbol, key.Currency, source, day)
	e, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", key, err)
	}
	return e, nil
}

func (s *SQLiteStore) PutLedger(ctx context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putLedger(ctx, s.db, e)
}

func (s *SQLiteStore) LedgerSince(ctx context.Context, day string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM request_ledger
		WHERE day >= ? ORDER BY day, symbol, currency, source`, day)
	if err != nil {
		return nil, fmt.Errorf("ledger since %s: %w", day, err)
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCorrection(ctx context.Context, symbol, currency string) (*model.Correction, error) {
	var (
		c       model.Correction
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT original_symbol, currency, corrected_symbol, note, updated_at
		FROM symbol_corrections WHERE original_symbol = ? AND currency = ?`, symbol, currency).
		Scan(&c.OriginalSymbol, &c.Currency, &c.CorrectedSymbol, &c.Note, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get correction %s/%s: %w", symbol, currency, err)
	}
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return &c, nil
}

func (s *SQLiteStore) PutCorrection(ctx context.Context, c *model.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO symbol_corrections
		(original_symbol, currency, corrected_symbol, note, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(original_symbol, currency) DO UPDATE SET
			corrected_symbol = excluded.corrected_symbol,
			note             = excluded.note,
			updated_at       = excluded.updated_at`,
		c.OriginalSymbol, c.Currency, c.CorrectedSymbol, c.Note, c.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put correction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO price_snapshots
		(symbol, currency, cache_type, date, price, expires_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(symbol, currency, cache_type, date) DO UPDATE SET
			price      = excluded.price,
			expires_at = excluded.expires_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sn := range snaps {
		if _, err := stmt.ExecContext(ctx, sn.Symbol, sn.Currency, string(sn.Type),
			sn.Date.Format(model.DayLayout), sn.Price, sn.ExpiresAt.UnixNano()); err != nil {
			return fmt.Errorf("insert snapshot %s %s: %w", sn.Key, sn.Date.Format(model.DayLayout), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, cacheType model.CacheType, asOf time.Time) (int64, error) {
	if cacheType == model.CacheCurrent {
		return 0, fmt.Errorf("delete expired: %q records are never expired", cacheType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_snapshots WHERE cache_type = ? AND expires_at < ?`,
		string(cacheType), asOf.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", cacheType, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Commit(ctx context.Context, rec *model.PriceRecord, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if rec != nil {
		if err := upsertRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	if entry != nil {
		if err := putLedger(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, table Table, cutoff time.Time) (int64, error) {
	var query string
	switch table {
	case TableLedger:
		query = `DELETE FROM request_ledger WHERE day < ?`
	case TableSnapshots:
		query = `DELETE FROM price_snapshots WHERE date < ?`
	default:
		return 0, fmt.Errorf("delete older than: unknown table %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, query, model.Day(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete older than %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}
