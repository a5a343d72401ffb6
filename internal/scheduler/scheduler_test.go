package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/session"
)

var (
	mondayOpen   = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	saturdayNoon = time.Date(2025, 3, 15, 17, 0, 0, 0, time.UTC)
)

type fakeRefresher struct {
	mu        sync.Mutex
	stale     []model.Key
	limits    []int
	batches   [][]model.Key
	result    model.BatchResult
	block     chan struct{}
	started   chan struct{}
	panicMsg  string
	cleaned   int64
	cancelled bool
}

func (f *fakeRefresher) FindStale(_ context.Context, limit int) ([]model.Key, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	msg := f.panicMsg
	f.mu.Unlock()
	if msg != "" {
		panic(msg)
	}
	return f.stale, nil
}

func (f *fakeRefresher) RefreshBatch(ctx context.Context, keys []model.Key) model.BatchResult {
	f.mu.Lock()
	f.batches = append(f.batches, keys)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled = true
			f.mu.Unlock()
		}
	}
	return f.result
}

func (f *fakeRefresher) CleanupSnapshots(context.Context) (int64, error) { return f.cleaned, nil }

type fakePurger struct {
	retention time.Duration
	err       error
}

func (p *fakePurger) Purge(_ context.Context, retention time.Duration) (int64, error) {
	p.retention = retention
	return 3, p.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func newTestScheduler(t *testing.T, r *fakeRefresher, now time.Time) (*Scheduler, *fakePurger, *fakeNotifier) {
	t.Helper()
	p := &fakePurger{}
	n := &fakeNotifier{}
	win, err := session.Parse([]string{"mon-fri"}, "09:30", "16:00", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(r, p, n, Options{Session: win, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, p, n
}

func keys(syms ...string) []model.Key {
	out := make([]model.Key, len(syms))
	for i, s := range syms {
		out[i] = model.NewKey(s, "USD")
	}
	return out
}

func TestRunSessionRefresh(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		wantRan bool
	}{
		{"in session", mondayOpen, true},
		{"weekend", saturdayNoon, false},
		{"after close", mondayOpen.Add(2 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRefresher{stale: keys("AAA", "BBB"), result: model.BatchResult{Updated: 2}}
			s, _, _ := newTestScheduler(t, r, tt.now)
			res, ran := s.RunSessionRefresh(context.Background())
			if ran != tt.wantRan {
				t.Fatalf("ran = %v, want %v", ran, tt.wantRan)
			}
			if !ran {
				if len(r.limits) != 0 {
					t.Error("stale lookup made outside session")
				}
				return
			}
			if r.limits[0] != 20 {
				t.Errorf("limit = %d, want 20", r.limits[0])
			}
			if res.Updated != 2 {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestRunOffSessionRefresh(t *testing.T) {
	r := &fakeRefresher{stale: keys("AAA")}
	s, _, _ := newTestScheduler(t, r, mondayOpen)
	if _, ran := s.RunOffSessionRefresh(context.Background()); ran {
		t.Error("off-session job ran during the session")
	}
	if len(r.batches) != 0 {
		t.Error("batch refreshed during the session")
	}

	r = &fakeRefresher{stale: keys("AAA"), result: model.BatchResult{Updated: 0, Failed: 1, Errors: []string{"AAA/USD: boom"}}}
	s, _, n := newTestScheduler(t, r, saturdayNoon)
	res, ran := s.RunOffSessionRefresh(context.Background())
	if !ran || res.Failed != 1 {
		t.Fatalf("ran = %v, res = %+v", ran, res)
	}
	if r.limits[0] != 50 {
		t.Errorf("limit = %d, want 50", r.limits[0])
	}
	if n.count() != 1 {
		t.Errorf("alerts = %d, want 1 for a failed batch", n.count())
	}
}

func TestRunOffSessionRefresh_NothingStale(t *testing.T) {
	r := &fakeRefresher{}
	s, _, n := newTestScheduler(t, r, saturdayNoon)
	if _, ran := s.RunOffSessionRefresh(context.Background()); !ran {
		t.Fatal("expected run")
	}
	if len(r.batches) != 0 || n.count() != 0 {
		t.Errorf("batches = %d, alerts = %d; want none", len(r.batches), n.count())
	}
}

func TestHousekeepingJobs(t *testing.T) {
	r := &fakeRefresher{cleaned: 4}
	s, p, n := newTestScheduler(t, r, saturdayNoon)
	ctx := context.Background()

	if got, err := s.RunCacheCleanup(ctx); err != nil || got != 4 {
		t.Errorf("RunCacheCleanup = %d, %v", got, err)
	}
	if got, err := s.RunLedgerMaintenance(ctx); err != nil || got != 3 {
		t.Errorf("RunLedgerMaintenance = %d, %v", got, err)
	}
	if p.retention != 90*24*time.Hour {
		t.Errorf("retention = %v", p.retention)
	}

	p.err = errors.New("locked")
	if _, err := s.RunLedgerMaintenance(ctx); err == nil {
		t.Error("expected purge error")
	}
	if n.count() != 1 {
		t.Errorf("alerts = %d, want 1", n.count())
	}
}

func TestRunJob_SkipsOverlap(t *testing.T) {
	r := &fakeRefresher{stale: keys("AAA"), block: make(chan struct{}), started: make(chan struct{})}
	s, _, _ := newTestScheduler(t, r, saturdayNoon)

	done := make(chan error, 1)
	go func() { done <- s.RunJob(JobOffSessionRefresh) }()
	<-r.started

	if err := s.RunJob(JobOffSessionRefresh); !errors.Is(err, ErrJobRunning) {
		t.Errorf("overlapping run err = %v, want ErrJobRunning", err)
	}
	if st := jobState(s, JobOffSessionRefresh); st != model.JobRunning {
		t.Errorf("state = %s, want running", st)
	}

	close(r.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if st := jobState(s, JobOffSessionRefresh); st != model.JobIdle {
		t.Errorf("state = %s, want idle", st)
	}
	if len(r.batches) != 1 {
		t.Errorf("batches = %d, want 1", len(r.batches))
	}
}

func TestRunJob_RecoversPanic(t *testing.T) {
	r := &fakeRefresher{panicMsg: "nil map"}
	s, _, _ := newTestScheduler(t, r, saturdayNoon)

	if err := s.RunJob(JobOffSessionRefresh); !errors.Is(err, ErrJobPanic) {
		t.Fatalf("err = %v, want ErrJobPanic", err)
	}
	if st := jobState(s, JobOffSessionRefresh); st != model.JobIdle {
		t.Errorf("state after panic = %s, want idle", st)
	}

	r.mu.Lock()
	r.panicMsg = ""
	r.mu.Unlock()
	if err := s.RunJob(JobOffSessionRefresh); err != nil {
		t.Errorf("run after panic: %v", err)
	}
	if err := s.RunJob("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("unknown job err = %v", err)
	}
}

func TestStartShutdown(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeRefresher{}, saturdayNoon)
	if s.Status().Running {
		t.Fatal("running before Start")
	}

	for round := 0; round < 2; round++ {
		if err := s.Start(); err != nil {
			t.Fatalf("round %d Start: %v", round, err)
		}
		if err := s.Start(); err == nil {
			t.Error("second Start succeeded")
		}
		st := s.Status()
		if !st.Running || len(st.Jobs) != 4 {
			t.Fatalf("status = %+v", st)
		}
		for _, j := range st.Jobs {
			if j.NextRun == nil {
				t.Errorf("%s has no next run", j.Name)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		cancel()
		if s.Status().Running {
			t.Error("running after Shutdown")
		}
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown when stopped: %v", err)
	}
}

func TestShutdown_CancelsRunningBatch(t *testing.T) {
	r := &fakeRefresher{stale: keys("AAA"), block: make(chan struct{}), started: make(chan struct{})}
	s, _, _ := newTestScheduler(t, r, saturdayNoon)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunJob(JobOffSessionRefresh) }()
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("job: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cancelled {
		t.Error("batch context was not cancelled")
	}
}

func TestNew_BadSpec(t *testing.T) {
	if _, err := New(&fakeRefresher{}, &fakePurger{}, nil, Options{CleanupCron: "sometimes"}); err == nil {
		t.Error("expected invalid cron spec error")
	}
}

func jobState(s *Scheduler, name string) model.JobState {
	for _, j := range s.Status().Jobs {
		if j.Name == name {
			return j.State
		}
	}
	return ""
}
