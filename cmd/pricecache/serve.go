package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QuoteKeeper/internal/admin"
	"QuoteKeeper/internal/notifier"
	"QuoteKeeper/internal/scheduler"

	"github.com/google/subcommands"
)

type serveCmd struct {
	refreshOnStart bool
	shutdownAfter  time.Duration
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the scheduler, admin API and chat commands" }
func (*serveCmd) Usage() string {
	return `pricecache serve [-refresh-on-start]

  Runs the refresh scheduler until interrupted. When admin.addr is set the
  admin HTTP API is served; when Telegram is configured, alerts are sent and
  chat commands are answered.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refreshOnStart, "refresh-on-start", os.Getenv("RUN_ON_START") == "true", "run the refresh job for the current session immediately")
	f.DurationVar(&c.shutdownAfter, "shutdown-timeout", 30*time.Second, "how long to wait for running jobs on shutdown")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.run(ctx); err != nil {
		log.Printf("[FATAL] %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *serveCmd) run(ctx context.Context) error {
	log.Println("[INFO] QuoteKeeper starting...")
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var alerts notifier.Notifier = notifier.NoopNotifier{}
	var tn *notifier.TelegramNotifier
	if a.cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.DataSource.Proxy)
		alerts = tn
	}

	sched, err := scheduler.New(a.engine, a.ledger, alerts, scheduler.Options{
		SessionCron:     a.cfg.Schedule.SessionCron,
		OffSessionCron:  a.cfg.Schedule.OffSessionCron,
		CleanupCron:     a.cfg.Schedule.CleanupCron,
		MaintenanceCron: a.cfg.Schedule.MaintenanceCron,
		SessionBatch:    a.cfg.Schedule.SessionBatch,
		OffSessionBatch: a.cfg.Schedule.OffSessionBatch,
		LedgerRetention: a.cfg.Schedule.LedgerRetention,
		Session:         a.window,
	})
	if err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	if err := sched.Start(); err != nil {
		return err
	}
	svc := admin.NewService(a.engine, sched, a.adminOptions())

	var srv *http.Server
	if a.cfg.Admin.Addr != "" {
		srv = &http.Server{
			Addr:              a.cfg.Admin.Addr,
			Handler:           admin.NewHandler(svc),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[INFO] admin API listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[ERROR] admin API: %v", err)
				stop()
			}
		}()
	}

	if tn != nil {
		go tn.StartPolling(ctx, svc.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	if c.refreshOnStart {
		job := scheduler.JobOffSessionRefresh
		if a.engine.InSession() {
			job = scheduler.JobSessionRefresh
		}
		log.Printf("[INFO] refresh-on-start enabled, running %s now", job)
		go func() {
			if err := sched.RunJob(job); err != nil {
				log.Printf("[WARN] %s: %v", job, err)
			}
		}()
	}

	log.Println("[INFO] QuoteKeeper is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[INFO] shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.shutdownAfter)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] admin API shutdown: %v", err)
		}
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] %v", err)
	}
	log.Println("[INFO] QuoteKeeper stopped")
	return nil
}
