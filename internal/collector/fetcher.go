package collector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client fetches market data from one upstream provider. Implementations
// hold no shared mutable state besides their HTTP transport and are safe for
// concurrent use.
type Client interface {
	FetchCurrent(ctx context.Context, symbol string) (*Quote, error)
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) (*History, error)
	Name() string
}

// Quote is a normalized current-price response.
type Quote struct {
	Symbol   string
	Price    decimal.Decimal
	Currency string
	Exchange string
	Name     string
}

// Point is one daily close.
type Point struct {
	Date  time.Time
	Close decimal.Decimal
}

// History is a finite daily close series, oldest first.
type History struct {
	Symbol string
	Points []Point
}

// All yields (date, close) pairs in order. The sequence can be ranged over
// any number of times.
func (h *History) All() iter.Seq2[time.Time, decimal.Decimal] {
	return func(yield func(time.Time, decimal.Decimal) bool) {
		if h == nil {
			return
		}
		for _, p := range h.Points {
			if !yield(p.Date, p.Close) {
				return
			}
		}
	}
}

// Len returns the number of points.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Points)
}

// Weekly collapses daily closes into one point per ISO week, dated by the
// week's last day present and carrying that day's close.
func (h *History) Weekly() *History {
	if h == nil {
		return nil
	}
	w := &History{Symbol: h.Symbol}
	lastKey := -1
	for _, p := range h.Points {
		y, wk := p.Date.ISOWeek()
		key := y*100 + wk
		if key == lastKey {
			w.Points[len(w.Points)-1] = p
			continue
		}
		w.Points = append(w.Points, p)
		lastKey = key
	}
	return w
}

var (
	ErrNotFound  = errors.New("symbol not found")
	ErrNoPrice   = errors.New("no tradable price")
	ErrThrottled = errors.New("rate limit exceeded")
	ErrTransient = errors.New("transient fetch failure")
)

// FetchError is returned by every Client method on failure. Kind is one of
// the sentinel errors above so callers can use errors.Is.
type FetchError struct {
	Kind   error
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Symbol, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Symbol, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func fetchErr(kind error, symbol string, err error) *FetchError {
	return &FetchError{Kind: kind, Symbol: symbol, Err: err}
}

// IsThrottle reports whether err means the provider asked us to slow down.
// Providers are not consistent, so the message text is checked as well.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrThrottled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}
