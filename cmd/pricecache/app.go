package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"QuoteKeeper/internal/admin"
	"QuoteKeeper/internal/collector"
	"QuoteKeeper/internal/config"
	"QuoteKeeper/internal/engine"
	"QuoteKeeper/internal/ledger"
	"QuoteKeeper/internal/session"
	"QuoteKeeper/internal/store"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	window  session.Window
	store   store.Store
	ledger  *ledger.Ledger
	engine  *engine.Engine
	service *admin.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	win, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	var client collector.Client
	switch cfg.Engine.Source {
	case "mock":
		client = collector.NewMockClient()
	case "rest":
		client = collector.NewRESTClient(cfg.DataSource.BaseURL, cfg.DataSource.APIKey, cfg.DataSource.Proxy, cfg.Engine.FetchTimeout)
	default:
		yc := collector.NewYahooClient(cfg.DataSource.BaseURL, cfg.DataSource.Proxy, cfg.Engine.FetchTimeout)
		yc.UserAgent = cfg.DataSource.UserAgent
		client = yc
	}
	log.Printf("[INFO] data source: %s", client.Name())

	var st store.Store
	if cfg.Database.SQLitePath != "" {
		ss, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite store failed, using memory: %v", err)
			st = store.NewMemoryStore()
		} else {
			st = ss
		}
	} else {
		st = store.NewMemoryStore()
	}

	led := ledger.New(st, cfg.Engine.DailyCeiling, cfg.Engine.BlockDuration, nil)
	eng := engine.New(client, st, led, engine.Options{
		TTL:          cfg.Engine.TTL,
		FetchTimeout: cfg.Engine.FetchTimeout,
		Session:      win,
	})
	return &app{cfg: cfg, window: win, store: st, ledger: led, engine: eng}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Printf("[WARN] close store: %v", err)
	}
}

func (a *app) adminOptions() admin.Options {
	return admin.Options{
		DefaultCurrency: a.cfg.Engine.DefaultCurrency,
		UsageWindowDays: a.cfg.Schedule.UsageWindowDays,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
