package collector

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockClient returns controllable fixed data for development and testing.
// Errors, when set, take precedence over prices.
type MockClient struct {
	mu      sync.Mutex
	Prices  map[string]decimal.Decimal
	Names   map[string]string
	Errors  map[string]error
	History map[string][]Point
	calls   map[string]int
}

// NewMockClient returns an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{
		Prices:  map[string]decimal.Decimal{},
		Names:   map[string]string{},
		Errors:  map[string]error{},
		History: map[string][]Point{},
		calls:   map[string]int{},
	}
}

func (m *MockClient) Name() string { return "mock" }

// SetPrice sets the price returned for symbol and clears any error.
func (m *MockClient) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
	delete(m.Errors, symbol)
}

// SetError makes every fetch of symbol fail with err.
func (m *MockClient) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[symbol] = err
}

// Calls returns how many fetches were made for symbol.
func (m *MockClient) Calls(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

// TotalCalls returns the number of fetches across all symbols.
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *MockClient) FetchCurrent(_ context.Context, symbol string) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++
	if err, ok := m.Errors[symbol]; ok {
		return nil, err
	}
	p, ok := m.Prices[symbol]
	if !ok {
		return nil, fetchErr(ErrNotFound, symbol, nil)
	}
	return &Quote{Symbol: symbol, Price: p, Name: m.Names[symbol], Exchange: "MOCK"}, nil
}

func (m *MockClient) FetchHistory(_ context.Context, symbol string, start, end time.Time) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++
	if err, ok := m.Errors[symbol]; ok {
		return nil, err
	}
	h := &History{Symbol: symbol}
	for _, p := range m.History[symbol] {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		h.Points = append(h.Points, p)
	}
	return h, nil
}
