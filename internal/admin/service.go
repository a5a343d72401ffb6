// Package admin exposes operator controls over the price cache: scheduler
// status, manual refresh, stale listing, usage reporting and symbol
// corrections.
package admin

import (
	"context"
	"fmt"
	"log"
	"strings"

	"QuoteKeeper/internal/engine"
	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/notifier"
	"QuoteKeeper/internal/scheduler"
)

const (
	DefaultStaleLimit   = 50
	MaxStaleLimit       = 500
	DefaultTriggerLimit = 20
)

// Options configures a Service.
type Options struct {
	DefaultCurrency string
	UsageWindowDays int
	// TriggerLimit bounds a manual trigger without symbols. Defaults to
	// DefaultTriggerLimit.
	TriggerLimit int
}

// Service implements the admin operations. The scheduler may be nil when
// running one-shot commands.
type Service struct {
	engine *engine.Engine
	sched  *scheduler.Scheduler
	opts   Options
}

// NewService creates a Service.
func NewService(eng *engine.Engine, sched *scheduler.Scheduler, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.UsageWindowDays <= 0 {
		opts.UsageWindowDays = 7
	}
	if opts.TriggerLimit <= 0 {
		opts.TriggerLimit = DefaultTriggerLimit
	}
	return &Service{engine: eng, sched: sched, opts: opts}
}

// Status reports the scheduler state.
func (s *Service) Status() model.SchedulerStatus {
	if s.sched == nil {
		return model.SchedulerStatus{InSession: s.engine.InSession(), Jobs: []model.JobStatus{}}
	}
	return s.sched.Status()
}

// TriggerRequest asks for an immediate refresh. Without symbols the oldest
// stale keys are refreshed. A symbol without Currency expands to every
// stored currency variant, or the default currency when none exist.
type TriggerRequest struct {
	Symbols  []string `json:"symbols"`
	Currency string   `json:"currency,omitempty"`
}

// TriggerResponse reports what a manual trigger did.
type TriggerResponse struct {
	Keys   []model.Key       `json:"keys"`
	Result model.BatchResult `json:"result"`
}

// Trigger runs a refresh batch synchronously.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (TriggerResponse, error) {
	var keys []model.Key
	if len(req.Symbols) == 0 {
		stale, err := s.engine.FindStale(ctx, s.opts.TriggerLimit)
		if err != nil {
			return TriggerResponse{}, err
		}
		keys = stale
	}
	for _, sym := range req.Symbols {
		if strings.TrimSpace(sym) == "" {
			continue
		}
		v, err := s.engine.Variants(ctx, sym, req.Currency, s.opts.DefaultCurrency)
		if err != nil {
			return TriggerResponse{}, fmt.Errorf("expand %s: %w", sym, err)
		}
		keys = append(keys, v...)
	}
	if keys == nil {
		keys = []model.Key{}
	}

	log.Printf("[INFO] manual refresh of %d keys", len(keys))
	res := s.engine.RefreshBatch(ctx, keys)
	log.Printf("[INFO] manual refresh: updated=%d skipped=%d failed=%d", res.Updated, res.Skipped, res.Failed)
	return TriggerResponse{Keys: keys, Result: res}, nil
}

// StaleResponse is a bounded page of stale keys with the total count.
type StaleResponse struct {
	Total     int                `json:"total_count"`
	InSession bool               `json:"is_trading_hours"`
	Stocks    []model.StaleStock `json:"stocks"`
}

// Stale lists keys needing refresh. limit is clamped to [1, MaxStaleLimit].
func (s *Service) Stale(ctx context.Context, limit int) (StaleResponse, error) {
	if limit <= 0 {
		limit = DefaultStaleLimit
	}
	if limit > MaxStaleLimit {
		limit = MaxStaleLimit
	}
	stocks, total, err := s.engine.StaleStocks(ctx, limit)
	if err != nil {
		return StaleResponse{}, err
	}
	return StaleResponse{Total: total, InSession: s.engine.InSession(), Stocks: stocks}, nil
}

// Usage aggregates the request ledger over the configured window.
func (s *Service) Usage(ctx context.Context) (model.UsageReport, error) {
	return s.engine.Ledger().Usage(ctx, s.opts.UsageWindowDays)
}

// CorrectionRequest adds or replaces a symbol correction.
type CorrectionRequest struct {
	OriginalSymbol  string `json:"original_symbol"`
	Currency        string `json:"currency"`
	CorrectedSymbol string `json:"corrected_symbol"`
	Note            string `json:"note,omitempty"`
}

// AddCorrection stores a correction.
func (s *Service) AddCorrection(ctx context.Context, req CorrectionRequest) (*model.Correction, error) {
	return s.engine.AddCorrection(ctx, req.OriginalSymbol, req.Currency, req.CorrectedSymbol, req.Note)
}

// Price returns the cached record for symbol, refreshing it when stale.
func (s *Service) Price(ctx context.Context, symbol, currency string) model.PriceRecord {
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	return s.engine.Quote(ctx, symbol, currency)
}

// HandleCommand answers a chat command.
func (s *Service) HandleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	switch strings.ToLower(fields[0]) {
	case "/status":
		st := s.Status()
		return notifier.FormatStatus(st.Running, st.InSession, st.Jobs)
	case "/refresh":
		resp, err := s.Trigger(ctx, TriggerRequest{Symbols: fields[1:]})
		if err != nil {
			return "❌ refresh failed: " + err.Error()
		}
		return notifier.FormatBatch("manual refresh", resp.Result)
	case "/usage":
		rep, err := s.Usage(ctx)
		if err != nil {
			return "❌ usage failed: " + err.Error()
		}
		return notifier.FormatUsage(rep)
	case "/stale":
		resp, err := s.Stale(ctx, 10)
		if err != nil {
			return "❌ stale failed: " + err.Error()
		}
		return notifier.FormatStale(resp.Stocks, resp.Total)
	case "/price":
		if len(fields) < 2 {
			return "usage: /price SYMBOL [CURRENCY]"
		}
		currency := ""
		if len(fields) > 2 {
			currency = fields[2]
		}
		rec := s.Price(ctx, fields[1], currency)
		return fmt.Sprintf("%s: %s", rec.Key, rec.Price().StringFixed(2))
	default:
		return "commands:\n• /status\n• /refresh [SYMBOL...]\n• /stale\n• /usage\n• /price SYMBOL [CURRENCY]"
	}
}
