package model

import (
	"fmt"
	"strings"
)

// Key identifies one tracked security variant. A symbol may be listed in
// more than one currency, so the currency is part of the identity.
type Key struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
}

// NewKey returns a normalized (upper case, trimmed) key.
func NewKey(symbol, currency string) Key {
	return Key{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Symbol, k.Currency) }

// IsZero reports whether the key has no symbol.
func (k Key) IsZero() bool { return k.Symbol == "" }
