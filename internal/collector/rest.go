package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient implements Client against a self-hosted quote gateway:
//
//	GET {base}/api/v1/quote?symbol=S
//	GET {base}/api/v1/bars/daily?symbol=S&from=UNIX&to=UNIX
//
// Requests carry the API key as a bearer token when one is set.
type RESTClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRESTClient creates a client with a bounded request timeout and optional
// proxy support.
func NewRESTClient(baseURL, apiKey, proxyURL string, timeout time.Duration) *RESTClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *RESTClient) Name() string { return "rest" }

// restQuote is the gateway's quote shape.
type restQuote struct {
	Symbol   string              `json:"symbol"`
	Price    decimal.NullDecimal `json:"price"`
	Currency string              `json:"currency"`
	Name     string              `json:"name"`
	Exchange string              `json:"exchange"`
}

// restBar is one daily bar; only the close is used.
type restBar struct {
	Timestamp int64               `json:"timestamp"`
	Close     decimal.NullDecimal `json:"close"`
}

func (c *RESTClient) get(ctx context.Context, symbol, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fetchErr(ErrTransient, symbol, err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fetchErr(ErrTransient, symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fetchErr(ErrThrottled, symbol, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return fetchErr(ErrNotFound, symbol, nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fetchErr(ErrTransient, symbol, fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fetchErr(ErrTransient, symbol, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func (c *RESTClient) FetchCurrent(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/api/v1/quote?symbol=%s", c.BaseURL, url.QueryEscape(symbol))
	var q restQuote
	if err := c.get(ctx, symbol, endpoint, &q); err != nil {
		return nil, err
	}
	if !q.Price.Valid {
		return nil, fetchErr(ErrNoPrice, symbol, nil)
	}
	return &Quote{
		Symbol:   symbol,
		Price:    q.Price.Decimal,
		Currency: q.Currency,
		Exchange: q.Exchange,
		Name:     q.Name,
	}, nil
}

func (c *RESTClient) FetchHistory(ctx context.Context, symbol string, start, end time.Time) (*History, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bars/daily?symbol=%s&from=%d&to=%d",
		c.BaseURL, url.QueryEscape(symbol), start.Unix(), end.AddDate(0, 0, 1).Unix())
	var bars []restBar
	if err := c.get(ctx, symbol, endpoint, &bars); err != nil {
		return nil, err
	}

	h := &History{Symbol: symbol}
	for _, b := range bars {
		if !b.Close.Valid {
			continue
		}
		day := time.Unix(b.Timestamp, 0).UTC().Truncate(24 * time.Hour)
		h.Points = append(h.Points, Point{Date: day, Close: b.Close.Decimal})
	}
	sort.Slice(h.Points, func(i, j int) bool { return h.Points[i].Date.Before(h.Points[j].Date) })
	return h, nil
}
