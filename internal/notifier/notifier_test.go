package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"QuoteKeeper/internal/model"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []string
	failures int
	updates  string
}

func (f *fakeBot) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var p map[string]string
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				t.Errorf("decode: %v", err)
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failures > 0 {
				f.failures--
				http.Error(w, "busy", http.StatusInternalServerError)
				return
			}
			f.sent = append(f.sent, p["text"])
			w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			w.Write([]byte(f.updates))
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeBot) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestNotifier(srv *httptest.Server) *TelegramNotifier {
	n := NewTelegramNotifier("TOKEN", "42", "")
	n.APIBase = srv.URL
	n.Backoff = time.Millisecond
	return n
}

func TestSendWithRetry(t *testing.T) {
	bot := &fakeBot{failures: 2}
	srv := httptest.NewServer(bot.handler(t))
	defer srv.Close()
	n := newTestNotifier(srv)

	if err := n.SendWithRetry(context.Background(), "hello", 3); err != nil {
		t.Fatalf("SendWithRetry: %v", err)
	}
	if got := bot.messages(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("sent = %v", got)
	}

	bot.failures = 10
	if err := n.SendWithRetry(context.Background(), "again", 1); err == nil {
		t.Error("expected exhausted retries")
	}
}

func TestSendWithRetry_Cancelled(t *testing.T) {
	bot := &fakeBot{failures: 10}
	srv := httptest.NewServer(bot.handler(t))
	defer srv.Close()
	n := newTestNotifier(srv)
	n.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.SendWithRetry(ctx, "x", 3); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPollAndDispatch(t *testing.T) {
	bot := &fakeBot{updates: `{"ok":true,"result":[
		{"update_id":7,"message":{"text":" /usage "}},
		{"update_id":8},
		{"update_id":9,"message":{"text":"/quiet"}}]}`}
	srv := httptest.NewServer(bot.handler(t))
	defer srv.Close()
	n := newTestNotifier(srv)
	ctx := context.Background()

	updates, err := n.poll(ctx, srv.Client(), 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	var seen []string
	next := n.dispatch(ctx, updates, 0, func(_ context.Context, cmd string) string {
		seen = append(seen, cmd)
		if cmd == "/usage" {
			return "usage reply"
		}
		return ""
	})
	if next != 10 {
		t.Errorf("offset = %d, want 10", next)
	}
	if strings.Join(seen, ",") != "/usage,/quiet" {
		t.Errorf("commands = %v", seen)
	}
	if got := bot.messages(); len(got) != 1 || got[0] != "usage reply" {
		t.Errorf("replies = %v", got)
	}
}

func TestPoll_NotOK(t *testing.T) {
	bot := &fakeBot{updates: `{"ok":false}`}
	srv := httptest.NewServer(bot.handler(t))
	defer srv.Close()
	if _, err := newTestNotifier(srv).poll(context.Background(), srv.Client(), 0); err == nil {
		t.Error("expected error for ok=false")
	}
}

func TestFormatBatch(t *testing.T) {
	res := model.BatchResult{Updated: 3, Failed: 7}
	for i := 0; i < 7; i++ {
		res.Errors = append(res.Errors, "K/USD: <boom>")
	}
	out := FormatBatch("session refresh", res)
	for _, want := range []string{"⚠️", "updated: 3 | skipped: 0 | failed: 7", "&lt;boom&gt;", "2 more"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatBatch missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "•") != 5 {
		t.Errorf("expected 5 listed errors:\n%s", out)
	}
}

func TestFormatUsage(t *testing.T) {
	out := FormatUsage(model.UsageReport{
		Since:         "2025-03-04",
		TotalRequests: 9,
		TotalKeys:     2,
		TodayRequests: 4,
		DailyCeiling:  200,
		BySource: map[string]model.SourceUsage{
			"yahoo": {RequestCount: 8, KeyCount: 2, BlockedCount: 1},
			"mock":  {RequestCount: 1, KeyCount: 1},
		},
	})
	if i, j := strings.Index(out, "mock:"), strings.Index(out, "yahoo:"); i < 0 || j < i {
		t.Errorf("sources not sorted:\n%s", out)
	}
	if !strings.Contains(out, "today: 4 (ceiling 200 per key)") {
		t.Errorf("FormatUsage:\n%s", out)
	}
}
