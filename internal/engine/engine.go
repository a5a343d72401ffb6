// Package engine keeps each tracked security's latest price fresh without
// overrunning the upstream provider. Reads are always served from the store;
// a stale read triggers at most one synchronous refresh, gated by the
// request ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"QuoteKeeper/internal/collector"
	"QuoteKeeper/internal/ledger"
	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/session"
	"QuoteKeeper/internal/store"

	"github.com/shopspring/decimal"
)

const (
	DefaultTTL          = 15 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
)

// ErrDenied is returned when the ledger refuses an outbound request.
var ErrDenied = errors.New("request denied by ledger")

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Session      session.Window
	Now          func() time.Time
}

// Engine orchestrates the market data client, the price store and the
// request ledger.
type Engine struct {
	client       collector.Client
	store        store.Store
	ledger       *ledger.Ledger
	session      session.Window
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	locks map[model.Key]*sync.Mutex
}

// New creates an Engine.
func New(client collector.Client, st store.Store, led *ledger.Ledger, opts Options) *Engine {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Session.Days == nil {
		opts.Session = session.Default()
	}
	return &Engine{
		client:       client,
		store:        st,
		ledger:       led,
		session:      opts.Session,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		locks:        make(map[model.Key]*sync.Mutex),
	}
}

// Source names the upstream provider used for ledger accounting.
func (e *Engine) Source() string { return e.client.Name() }

// TTL returns the freshness window.
func (e *Engine) TTL() time.Duration { return e.ttl }

// Ledger returns the request ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// InSession reports whether the market is in session now.
func (e *Engine) InSession() bool { return e.session.Contains(e.now()) }

// lock serializes writers of one key.
func (e *Engine) lock(key model.Key) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Resolve normalizes a key and applies any symbol correction. Callers may pass
// either the original or the corrected symbol and reach the same record.
func (e *Engine) Resolve(ctx context.Context, symbol, currency string) model.Key {
	key := model.NewKey(symbol, currency)
	c, err := e.store.GetCorrection(ctx, key.Symbol, key.Currency)
	switch {
	case err == nil:
		return model.Key{Symbol: c.CorrectedSymbol, Currency: key.Currency}
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("[WARN] correction lookup %s: %v", key, err)
	}
	return key
}

// GetPrice returns the best known price for symbol in currency, refreshing it
// first when stale and allowed. It never fails: with no data at all it
// returns zero.
func (e *Engine) GetPrice(ctx context.Context, symbol, currency string) decimal.Decimal {
	rec := e.Quote(ctx, symbol, currency)
	return rec.Price()
}

// Quote is GetPrice returning the whole record.
func (e *Engine) Quote(ctx context.Context, symbol, currency string) model.PriceRecord {
	key := e.Resolve(ctx, symbol, currency)
	rec, err := e.store.Get(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[ERROR] load %s: %v", key, err)
		return model.PriceRecord{Key: key}
	}
	if rec != nil && !rec.NeedsUpdate(e.now(), e.ttl) {
		return *rec
	}

	next, out, err := e.refresh(ctx, key, true)
	if err != nil {
		log.Printf("[WARN] refresh %s: %s: %v", key, out, err)
	}
	if next != nil {
		return *next
	}
	if rec != nil {
		return *rec
	}
	return model.PriceRecord{Key: key}
}

// RefreshOne makes at most one upstream fetch attempt for the key and commits
// the result. PriceUpdatedAt advances on every outcome except a failed write.
func (e *Engine) RefreshOne(ctx context.Context, symbol, currency string) (model.Outcome, error) {
	key := e.Resolve(ctx, symbol, currency)
	_, out, err := e.refresh(ctx, key, false)
	return out, err
}

func (e *Engine) refresh(ctx context.Context, key model.Key, onlyIfStale bool) (*model.PriceRecord, model.Outcome, error) {
	unlock := e.lock(key)
	defer unlock()

	// In-flight work is not interrupted by shutdown; cancellation is checked
	// between keys by RefreshBatch.
	wctx := context.WithoutCancel(ctx)

	rec, err := e.store.Get(wctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &model.PriceRecord{Key: key}
	case err != nil:
		return nil, model.OutcomeFailed, fmt.Errorf("load record: %w", err)
	}
	if onlyIfStale && !rec.NeedsUpdate(e.now(), e.ttl) {
		// Another caller refreshed it while we waited for the lock.
		return rec, model.OutcomeSkipped, nil
	}

	source := e.Source()
	reason, err := e.ledger.Check(wctx, key, source)
	if err != nil {
		return rec, model.OutcomeFailed, err
	}
	if reason != ledger.Allowed {
		next := *rec
		next.Touch(e.now())
		if err := e.store.Upsert(wctx, &next); err != nil {
			return rec, model.OutcomeFailed, fmt.Errorf("touch record: %w", err)
		}
		log.Printf("[INFO] skip %s: %s", key, reason)
		return &next, model.OutcomeSkipped, nil
	}

	fctx, cancel := context.WithTimeout(wctx, e.fetchTimeout)
	q, fetchErr := e.client.FetchCurrent(fctx, key.Symbol)
	cancel()

	entry, err := e.ledger.Pending(wctx, key, source, fetchErr)
	if err != nil {
		return rec, model.OutcomeFailed, err
	}

	next := *rec
	next.Touch(e.now())
	out := model.OutcomeUpdated
	if fetchErr == nil {
		next.CurrentPrice = decimal.NewNullDecimal(q.Price)
		if next.Name == "" {
			next.Name = q.Name
		}
		if next.Exchange == "" {
			next.Exchange = q.Exchange
		}
		if q.Currency != "" && q.Currency != key.Currency {
			log.Printf("[WARN] %s quoted in %s", key, q.Currency)
		}
	} else {
		out = model.OutcomeFailed
		if !next.CurrentPrice.Valid {
			next.CurrentPrice = decimal.NewNullDecimal(decimal.Zero)
		}
	}

	if err := e.store.Commit(wctx, &next, entry); err != nil {
		return rec, model.OutcomeFailed, fmt.Errorf("commit: %w", err)
	}
	return &next, out, fetchErr
}

// RefreshBatch refreshes keys in order, each at most once. A failure on one
// key never aborts the batch. Cancellation of ctx is honored between keys.
func (e *Engine) RefreshBatch(ctx context.Context, keys []model.Key) model.BatchResult {
	res := model.BatchResult{Errors: []string{}}
	seen := make(map[model.Key]bool, len(keys))
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cancelled: %d keys not attempted", len(keys)-i))
			break
		}
		key := e.Resolve(ctx, k.Symbol, k.Currency)
		if seen[key] {
			continue
		}
		seen[key] = true
		_, out, err := e.refresh(ctx, key, false)
		res.Add(key, out, err)
	}
	return res
}

// FindStale returns up to limit keys whose price is missing or older than the
// TTL, oldest first.
func (e *Engine) FindStale(ctx context.Context, limit int) ([]model.Key, error) {
	recs, err := e.store.ListStale(ctx, e.now().Add(-e.ttl), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale: %w", err)
	}
	keys := make([]model.Key, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys, nil
}

// StaleStocks lists up to limit stale records and the total stale count.
func (e *Engine) StaleStocks(ctx context.Context, limit int) ([]model.StaleStock, int, error) {
	now := e.now()
	cutoff := now.Add(-e.ttl)
	recs, err := e.store.ListStale(ctx, cutoff, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("stale stocks: %w", err)
	}
	total, err := e.store.CountStale(ctx, cutoff)
	if err != nil {
		return nil, 0, fmt.Errorf("stale stocks: %w", err)
	}
	inSession := e.session.Contains(now)
	out := make([]model.StaleStock, len(recs))
	for i, r := range recs {
		out[i] = model.StaleStock{
			Key:            r.Key,
			Name:           r.Name,
			CurrentPrice:   r.CurrentPrice,
			PriceUpdatedAt: r.PriceUpdatedAt,
			InSession:      inSession,
		}
	}
	return out, total, nil
}

// Variants returns keys for symbol: the explicit currency when given,
// otherwise every stored currency variant, falling back to defaultCurrency.
func (e *Engine) Variants(ctx context.Context, symbol, currency, defaultCurrency string) ([]model.Key, error) {
	if currency != "" {
		return []model.Key{model.NewKey(symbol, currency)}, nil
	}
	k := model.NewKey(symbol, defaultCurrency)
	recs, err := e.store.ListBySymbol(ctx, k.Symbol)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []model.Key{k}, nil
	}
	keys := make([]model.Key, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys, nil
}
