// Package scheduler runs the recurring refresh and housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"QuoteKeeper/internal/model"
	"QuoteKeeper/internal/notifier"
	"QuoteKeeper/internal/session"

	"github.com/robfig/cron/v3"
)

const (
	JobSessionRefresh    = "session_refresh"
	JobOffSessionRefresh = "off_session_refresh"
	JobCacheCleanup      = "cache_cleanup"
	JobLedgerMaintenance = "ledger_maintenance"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
	ErrJobPanic   = errors.New("job panicked")
)

// Refresher is the part of the price engine the jobs drive.
type Refresher interface {
	FindStale(ctx context.Context, limit int) ([]model.Key, error)
	RefreshBatch(ctx context.Context, keys []model.Key) model.BatchResult
	CleanupSnapshots(ctx context.Context) (int64, error)
}

// Purger drops old request ledger rows.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Options configures the jobs. Empty cron specs select the defaults.
type Options struct {
	SessionCron     string
	OffSessionCron  string
	CleanupCron     string
	MaintenanceCron string
	SessionBatch    int
	OffSessionBatch int
	LedgerRetention time.Duration
	Session         session.Window
	Now             func() time.Time
}

func (o *Options) defaults() {
	if o.SessionCron == "" {
		o.SessionCron = "0 */15 * * * *"
	}
	if o.OffSessionCron == "" {
		o.OffSessionCron = "0 0 * * * *"
	}
	if o.CleanupCron == "" {
		o.CleanupCron = "0 0 2 * * *"
	}
	if o.MaintenanceCron == "" {
		o.MaintenanceCron = "0 0 3 * * 0"
	}
	if o.SessionBatch <= 0 {
		o.SessionBatch = 20
	}
	if o.OffSessionBatch <= 0 {
		o.OffSessionBatch = 50
	}
	if o.LedgerRetention <= 0 {
		o.LedgerRetention = 90 * 24 * time.Hour
	}
	if o.Session.Days == nil {
		o.Session = session.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context)
	id      cron.EntryID
	running atomic.Bool
	lastRun atomic.Pointer[time.Time]
}

// Scheduler manages all cron tasks. It can be started and shut down any
// number of times.
type Scheduler struct {
	refresher Refresher
	purger    Purger
	notifier  notifier.Notifier
	opts      Options
	jobs      []*job

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a Scheduler. Cron specs are validated here.
func New(r Refresher, p Purger, n notifier.Notifier, opts Options) (*Scheduler, error) {
	opts.defaults()
	if n == nil {
		n = notifier.NoopNotifier{}
	}
	s := &Scheduler{refresher: r, purger: p, notifier: n, opts: opts}
	s.jobs = []*job{
		{name: JobSessionRefresh, spec: opts.SessionCron, run: func(ctx context.Context) { s.RunSessionRefresh(ctx) }},
		{name: JobOffSessionRefresh, spec: opts.OffSessionCron, run: func(ctx context.Context) { s.RunOffSessionRefresh(ctx) }},
		{name: JobCacheCleanup, spec: opts.CleanupCron, run: func(ctx context.Context) { s.RunCacheCleanup(ctx) }},
		{name: JobLedgerMaintenance, spec: opts.MaintenanceCron, run: func(ctx context.Context) { s.RunLedgerMaintenance(ctx) }},
	}
	for _, j := range s.jobs {
		if _, err := parser.Parse(j.spec); err != nil {
			return nil, fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return s, nil
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}

	loc := s.opts.Session.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	for _, j := range s.jobs {
		id, err := c.AddFunc(j.spec, func() {
			if err := s.RunJob(j.name); err != nil && !errors.Is(err, ErrJobRunning) {
				log.Printf("[ERROR] %s: %v", j.name, err)
			}
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
		j.id = id
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	c.Start()
	log.Printf("[INFO] scheduler started, session %s", s.opts.Session)
	return nil
}

// Shutdown stops firing new jobs, cancels running batches between keys and
// waits for in-flight jobs until ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	stopped := c.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[INFO] scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil && s.cron != nil {
		return s.ctx
	}
	return context.Background()
}

// RunJob runs the named job now on the calling goroutine. A job that is
// already running is not started twice.
func (s *Scheduler) RunJob(name string) (err error) {
	var j *job
	for _, candidate := range s.jobs {
		if candidate.name == name {
			j = candidate
		}
	}
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.running.CompareAndSwap(false, true) {
		log.Printf("[WARN] %s still running, skipping", name)
		return ErrJobRunning
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer j.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] %s panicked: %v", name, r)
			err = fmt.Errorf("%w: %s: %v", ErrJobPanic, name, r)
		}
	}()

	now := s.opts.Now()
	j.lastRun.Store(&now)
	j.run(s.jobContext())
	return nil
}

// Status reports whether the runner is started and each job's state.
func (s *Scheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cron

	st := model.SchedulerStatus{
		Running:   c != nil,
		InSession: s.opts.Session.Contains(s.opts.Now()),
		Jobs:      make([]model.JobStatus, 0, len(s.jobs)),
	}
	for _, j := range s.jobs {
		js := model.JobStatus{Name: j.name, Spec: j.spec, State: model.JobIdle, LastRun: j.lastRun.Load()}
		if j.running.Load() {
			js.State = model.JobRunning
		}
		if c != nil {
			if e := c.Entry(j.id); e.Valid() && !e.Next.IsZero() {
				next := e.Next
				js.NextRun = &next
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// RunSessionRefresh refreshes a small batch of stale keys while the market
// is in session. Outside the session it does nothing and reports false.
func (s *Scheduler) RunSessionRefresh(ctx context.Context) (model.BatchResult, bool) {
	if !s.opts.Session.Contains(s.opts.Now()) {
		return model.BatchResult{}, false
	}
	return s.refreshStale(ctx, "session refresh", s.opts.SessionBatch), true
}

// RunOffSessionRefresh refreshes a larger batch while the market is closed.
// During the session it defers to the session job and reports false.
func (s *Scheduler) RunOffSessionRefresh(ctx context.Context) (model.BatchResult, bool) {
	if s.opts.Session.Contains(s.opts.Now()) {
		log.Println("[INFO] off-session refresh: market in session, deferring")
		return model.BatchResult{}, false
	}
	return s.refreshStale(ctx, "off-session refresh", s.opts.OffSessionBatch), true
}

func (s *Scheduler) refreshStale(ctx context.Context, name string, limit int) model.BatchResult {
	log.Printf("[INFO] running %s (limit %d)", name, limit)
	keys, err := s.refresher.FindStale(ctx, limit)
	if err != nil {
		log.Printf("[ERROR] %s: %v", name, err)
		s.alert(ctx, fmt.Sprintf("❌ %s failed: %v", name, err))
		return model.BatchResult{Errors: []string{err.Error()}}
	}
	if len(keys) == 0 {
		log.Printf("[INFO] %s: nothing stale", name)
		return model.BatchResult{Errors: []string{}}
	}

	res := s.refresher.RefreshBatch(ctx, keys)
	log.Printf("[INFO] %s: updated=%d skipped=%d failed=%d", name, res.Updated, res.Skipped, res.Failed)
	if res.Failed > 0 {
		s.alert(ctx, notifier.FormatBatch(name, res))
	}
	return res
}

// RunCacheCleanup removes expired derived snapshots.
func (s *Scheduler) RunCacheCleanup(ctx context.Context) (int64, error) {
	log.Println("[INFO] running cache cleanup")
	n, err := s.refresher.CleanupSnapshots(ctx)
	if err != nil {
		log.Printf("[ERROR] cache cleanup: %v", err)
		return n, err
	}
	log.Printf("[INFO] cache cleanup: removed %d snapshots", n)
	return n, nil
}

// RunLedgerMaintenance drops ledger rows older than the retention window.
func (s *Scheduler) RunLedgerMaintenance(ctx context.Context) (int64, error) {
	log.Println("[INFO] running ledger maintenance")
	n, err := s.purger.Purge(ctx, s.opts.LedgerRetention)
	if err != nil {
		log.Printf("[ERROR] ledger maintenance: %v", err)
		s.alert(ctx, fmt.Sprintf("❌ ledger maintenance failed: %v", err))
		return n, err
	}
	log.Printf("[INFO] ledger maintenance: removed %d entries", n)
	return n, nil
}

func (s *Scheduler) alert(ctx context.Context, text string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := s.notifier.Notify(actx, text); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
