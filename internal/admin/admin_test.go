package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuoteKeeper/internal/collector"
	"QuoteKeeper/internal/engine"
	"QuoteKeeper/internal/ledger"
	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/scheduler"
	"QuoteKeeper/internal/store"

	"github.com/shopspring/decimal"
)

var now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

type env struct {
	svc    *Service
	client *collector.MockClient
	store  *store.MemoryStore
	srv    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := func() time.Time { return now }
	st := store.NewMemoryStore()
	client := collector.NewMockClient()
	led := ledger.New(st, 0, 0, clock)
	eng := engine.New(client, st, led, engine.Options{Now: clock})
	sched, err := scheduler.New(eng, led, nil, scheduler.Options{Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(eng, sched, Options{})
	srv := httptest.NewServer(NewHandler(svc))
	t.Cleanup(srv.Close)
	return &env{svc: svc, client: client, store: st, srv: srv}
}

func (e *env) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestPriceAndUsage(t *testing.T) {
	e := newEnv(t)
	e.client.SetPrice("AAA", decimal.RequireFromString("101.50"))

	var rec model.PriceRecord
	if code := e.do(t, http.MethodGet, "/prices/aaa", "", &rec); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if rec.Symbol != "AAA" || rec.Currency != "USD" {
		t.Errorf("key = %s", rec.Key)
	}
	if !rec.CurrentPrice.Valid || !rec.CurrentPrice.Decimal.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("price = %+v", rec.CurrentPrice)
	}

	var rep model.UsageReport
	if code := e.do(t, http.MethodGet, "/scheduler/api-usage", "", &rep); code != http.StatusOK {
		t.Fatalf("usage status = %d", code)
	}
	if rep.TotalRequests != 1 || rep.TodayRequests != 1 || rep.DailyCeiling != 200 {
		t.Errorf("usage = %+v", rep)
	}
	if rep.BySource["mock"].RequestCount != 1 {
		t.Errorf("by source = %+v", rep.BySource)
	}
}

func TestTrigger_ExpandsVariants(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, k := range []model.Key{model.NewKey("AAA", "USD"), model.NewKey("AAA", "EUR")} {
		if err := e.store.Upsert(ctx, &model.PriceRecord{Key: k}); err != nil {
			t.Fatal(err)
		}
	}
	e.client.SetPrice("AAA", decimal.NewFromInt(4))

	var resp TriggerResponse
	if code := e.do(t, http.MethodPost, "/scheduler/trigger-price-update", `{"symbols":["aaa","zzz"]}`, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Keys) != 3 {
		t.Errorf("keys = %v, want AAA/EUR AAA/USD ZZZ/USD", resp.Keys)
	}
	if resp.Result.Updated != 2 || resp.Result.Failed != 1 {
		t.Errorf("result = %+v", resp.Result)
	}
	if resp.Keys[2].String() != "ZZZ/USD" {
		t.Errorf("default currency key = %s", resp.Keys[2])
	}
}

func TestTrigger_StaleWhenNoSymbols(t *testing.T) {
	e := newEnv(t)
	if err := e.store.Upsert(context.Background(), &model.PriceRecord{Key: model.NewKey("BBB", "USD")}); err != nil {
		t.Fatal(err)
	}
	e.client.SetPrice("BBB", decimal.NewFromInt(1))

	var resp TriggerResponse
	if code := e.do(t, http.MethodPost, "/scheduler/trigger-price-update", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Result.Updated != 1 || len(resp.Keys) != 1 {
		t.Errorf("resp = %+v", resp)
	}

	if code := e.do(t, http.MethodPost, "/scheduler/trigger-price-update", "{bad", nil); code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", code)
	}
}

func TestTrigger_CapsStaleSet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		sym := fmt.Sprintf("S%02d", i)
		if err := e.store.Upsert(ctx, &model.PriceRecord{Key: model.NewKey(sym, "USD")}); err != nil {
			t.Fatal(err)
		}
		e.client.SetPrice(sym, decimal.NewFromInt(int64(i+1)))
	}

	var resp TriggerResponse
	if code := e.do(t, http.MethodPost, "/scheduler/trigger-price-update", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Keys) != DefaultTriggerLimit {
		t.Fatalf("keys = %d, want %d", len(resp.Keys), DefaultTriggerLimit)
	}
	if resp.Result.Updated != DefaultTriggerLimit {
		t.Errorf("result = %+v", resp.Result)
	}
	if got := e.client.TotalCalls(); got != DefaultTriggerLimit {
		t.Errorf("fetches = %d, want %d", got, DefaultTriggerLimit)
	}

	stale, err := e.svc.Stale(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Total != 10 {
		t.Errorf("remaining stale = %d, want 10", stale.Total)
	}
}

func TestStale(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, s := range []string{"A", "B", "C"} {
		if err := e.store.Upsert(ctx, &model.PriceRecord{Key: model.NewKey(s, "USD")}); err != nil {
			t.Fatal(err)
		}
	}

	var resp StaleResponse
	if code := e.do(t, http.MethodGet, "/scheduler/stocks-needing-update?limit=2", "", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Total != 3 || len(resp.Stocks) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if code := e.do(t, http.MethodGet, "/scheduler/stocks-needing-update?limit=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

func TestCorrections(t *testing.T) {
	e := newEnv(t)
	e.client.SetPrice("XYZ", decimal.NewFromInt(12))

	var c model.Correction
	code := e.do(t, http.MethodPost, "/corrections", `{"original_symbol":"abc","currency":"usd","corrected_symbol":"xyz"}`, &c)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if c.OriginalSymbol != "ABC" || c.CorrectedSymbol != "XYZ" || c.Currency != "USD" {
		t.Errorf("correction = %+v", c)
	}

	var rec model.PriceRecord
	e.do(t, http.MethodGet, "/prices/ABC?currency=USD", "", &rec)
	if rec.Symbol != "XYZ" || !rec.Price().Equal(decimal.NewFromInt(12)) {
		t.Errorf("corrected read = %+v", rec)
	}

	if code := e.do(t, http.MethodPost, "/corrections", `{"original_symbol":"abc"}`, nil); code != http.StatusBadRequest {
		t.Errorf("invalid correction status = %d", code)
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	var st model.SchedulerStatus
	if code := e.do(t, http.MethodGet, "/scheduler/status", "", &st); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if st.Running || len(st.Jobs) != 4 || !st.InSession {
		t.Errorf("status = %+v", st)
	}
}

func TestHandleCommand(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.client.SetPrice("AAA", decimal.RequireFromString("3.5"))

	tests := []struct {
		cmd  string
		want string
	}{
		{"/price aaa", "AAA/USD: 3.50"},
		{"/price", "usage: /price"},
		{"/refresh AAA", "updated: 1"},
		{"/usage", "API usage"},
		{"/stale", "stale"},
		{"/status", "Scheduler"},
		{"hello", "commands:"},
	}
	for _, tt := range tests {
		if got := e.svc.HandleCommand(ctx, tt.cmd); !strings.Contains(got, tt.want) {
			t.Errorf("HandleCommand(%q) = %q, want it to contain %q", tt.cmd, got, tt.want)
		}
	}
	if got := e.svc.HandleCommand(ctx, "   "); got != "" {
		t.Errorf("blank command reply = %q", got)
	}
}
