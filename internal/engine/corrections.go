package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/store"

	"github.com/shopspring/decimal"
)

// AddCorrection routes original (in currency) to corrected from now on.
//
// A record cached under the original key is moved to the corrected key when
// none exists there yet, then dropped, so stale selection never keeps
// returning a key that can no longer be refreshed. A moved record is marked
// stale with its price cleared. Name and exchange of the corrected record
// are cleared so the next refresh fills them afresh.
func (e *Engine) AddCorrection(ctx context.Context, original, currency, corrected, note string) (*model.Correction, error) {
	from := model.NewKey(original, currency)
	to := model.NewKey(corrected, currency)
	if from.Symbol == "" || to.Symbol == "" || from.Currency == "" {
		return nil, fmt.Errorf("correction: symbol and currency are required")
	}
	if from == to {
		return nil, fmt.Errorf("correction: %s maps to itself", from)
	}

	c := &model.Correction{
		OriginalSymbol:  from.Symbol,
		Currency:        from.Currency,
		CorrectedSymbol: to.Symbol,
		Note:            note,
		UpdatedAt:       e.now(),
	}
	if err := e.store.PutCorrection(ctx, c); err != nil {
		return nil, fmt.Errorf("save correction: %w", err)
	}

	if err := e.moveRecord(ctx, from, to); err != nil {
		return c, err
	}
	log.Printf("[INFO] correction %s -> %s", from, to)
	return c, nil
}

func (e *Engine) moveRecord(ctx context.Context, from, to model.Key) error {
	// Keys are locked in a fixed order so opposite corrections cannot
	// deadlock.
	first, second := from, to
	if second.String() < first.String() {
		first, second = second, first
	}
	unlockFirst := e.lock(first)
	defer unlockFirst()
	unlockSecond := e.lock(second)
	defer unlockSecond()

	old, err := e.store.Get(ctx, from)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load %s: %w", from, err)
	}

	rec, err := e.store.Get(ctx, to)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if old == nil {
			return nil
		}
		moved := *old
		rec = &moved
		rec.Key = to
		// The price was quoted for the wrong symbol; refresh on next read.
		rec.CurrentPrice = decimal.NullDecimal{}
		rec.PriceUpdatedAt = nil
	case err != nil:
		return fmt.Errorf("load %s: %w", to, err)
	}

	rec.Name = ""
	rec.Exchange = ""
	if err := e.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("save %s: %w", to, err)
	}
	if old != nil {
		if err := e.store.Purge(ctx, from); err != nil {
			return fmt.Errorf("drop %s: %w", from, err)
		}
	}
	return nil
}
