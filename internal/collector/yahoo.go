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

// DefaultYahooBaseURL is the public chart endpoint.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooClient implements Client using the Yahoo Finance chart API.
type YahooClient struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// NewYahooClient creates a client with a bounded request timeout and optional
// proxy support.
func NewYahooClient(baseURL, proxyURL string, timeout time.Duration) *YahooClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: "Mozilla/5.0",
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *YahooClient) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string              `json:"symbol"`
				Currency           string              `json:"currency"`
				ExchangeName       string              `json:"exchangeName"`
				FullExchangeName   string              `json:"fullExchangeName"`
				LongName           string              `json:"longName"`
				ShortName          string              `json:"shortName"`
				RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []decimal.NullDecimal `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) fetchChart(ctx context.Context, symbol string, query url.Values) (*yahooChart, error) {
	u := fmt.Sprintf("%s/%s?%s", c.BaseURL, url.PathEscape(symbol), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fetchErr(ErrTransient, symbol, err)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fetchErr(ErrTransient, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(ErrTransient, symbol, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fetchErr(ErrThrottled, symbol, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fetchErr(ErrNotFound, symbol, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fetchErr(ErrTransient, symbol, fmt.Errorf("status %d, body: %s", resp.StatusCode, truncate(body, 200)))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fetchErr(ErrTransient, symbol, fmt.Errorf("decode: %w", err))
	}
	if e := chart.Chart.Error; e != nil {
		kind := ErrTransient
		switch {
		case strings.EqualFold(e.Code, "Not Found"):
			kind = ErrNotFound
		case IsThrottle(fmt.Errorf("%s %s", e.Code, e.Description)):
			kind = ErrThrottled
		}
		return nil, fetchErr(kind, symbol, fmt.Errorf("api error: %s", e.Description))
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fetchErr(ErrNotFound, symbol, nil)
	}
	return &chart, nil
}

// FetchCurrent returns the latest regular-market price for symbol.
func (c *YahooClient) FetchCurrent(ctx context.Context, symbol string) (*Quote, error) {
	chart, err := c.fetchChart(ctx, symbol, url.Values{"interval": {"1d"}, "range": {"1d"}})
	if err != nil {
		return nil, err
	}
	meta := chart.Chart.Result[0].Meta
	if !meta.RegularMarketPrice.Valid {
		return nil, fetchErr(ErrNoPrice, symbol, nil)
	}
	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	exchange := meta.FullExchangeName
	if exchange == "" {
		exchange = meta.ExchangeName
	}
	return &Quote{
		Symbol:   symbol,
		Price:    meta.RegularMarketPrice.Decimal,
		Currency: strings.ToUpper(meta.Currency),
		Exchange: exchange,
		Name:     name,
	}, nil
}

// FetchHistory returns daily closes between start and end inclusive. Null
// closes (no trade recorded) are skipped.
func (c *YahooClient) FetchHistory(ctx context.Context, symbol string, start, end time.Time) (*History, error) {
	if end.Before(start) {
		return nil, fetchErr(ErrTransient, symbol, fmt.Errorf("end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly)))
	}
	q := url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(start.Unix())},
		"period2":  {fmt.Sprint(end.AddDate(0, 0, 1).Unix())},
	}
	chart, err := c.fetchChart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	result := chart.Chart.Result[0]
	h := &History{Symbol: symbol}
	if len(result.Indicators.Quote) == 0 {
		return h, nil
	}
	closes := result.Indicators.Quote[0].Close
	if len(closes) != len(result.Timestamp) {
		return nil, fetchErr(ErrTransient, symbol, fmt.Errorf("timestamp/close length mismatch: %d != %d", len(result.Timestamp), len(closes)))
	}

	for i, ts := range result.Timestamp {
		if !closes[i].Valid {
			continue // no trade recorded
		}
		h.Points = append(h.Points, Point{
			Date:  truncateDay(time.Unix(ts, 0)),
			Close: closes[i].Decimal,
		})
	}
	sort.Slice(h.Points, func(i, j int) bool { return h.Points[i].Date.Before(h.Points[j].Date) })
	return h, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
