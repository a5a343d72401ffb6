package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("missing.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.TTL != 15*time.Minute {
		t.Errorf("ttl = %v", cfg.Engine.TTL)
	}
	if cfg.Engine.DailyCeiling != 200 {
		t.Errorf("daily ceiling = %d", cfg.Engine.DailyCeiling)
	}
	if cfg.Schedule.SessionCron != "0 */15 * * * *" {
		t.Errorf("session cron = %q", cfg.Schedule.SessionCron)
	}
	if cfg.Schedule.LedgerRetention != 90*24*time.Hour {
		t.Errorf("retention = %v", cfg.Schedule.LedgerRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "config.yaml", `
engine:
  ttl: 5m
  daily_ceiling: 50
  source: mock
session:
  days: [mon, wed]
  open: "08:00"
  close: "12:00"
  timezone: UTC
schedule:
  session_batch: 5
database:
  sqlite_path: /tmp/file.db
`)
	writeFile(t, dir, ".env", "ADMIN_ADDR=:9000\nSQLITE_PATH=/tmp/dotenv.db\n")
	t.Cleanup(func() { os.Unsetenv("ADMIN_ADDR") })
	t.Setenv("SQLITE_PATH", "/tmp/env.db")
	t.Setenv("PRICE_DAILY_CEILING", "75")
	t.Setenv("CRON_SESSION", "0 */5 * * * *")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.TTL != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", cfg.Engine.TTL)
	}
	if cfg.Engine.DailyCeiling != 75 {
		t.Errorf("ceiling = %d, want env override 75", cfg.Engine.DailyCeiling)
	}
	if cfg.Database.SQLitePath != "/tmp/env.db" {
		t.Errorf("sqlite path = %q, process env should beat .env", cfg.Database.SQLitePath)
	}
	if cfg.Admin.Addr != ":9000" {
		t.Errorf("admin addr = %q, want from .env", cfg.Admin.Addr)
	}
	if cfg.Schedule.SessionCron != "0 */5 * * * *" {
		t.Errorf("session cron = %q", cfg.Schedule.SessionCron)
	}
	if cfg.Schedule.SessionBatch != 5 || cfg.Schedule.OffSessionBatch != 50 {
		t.Errorf("batches = %d/%d", cfg.Schedule.SessionBatch, cfg.Schedule.OffSessionBatch)
	}

	w, err := cfg.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if got := w.String(); got != "mon,wed 08:00-12:00 UTC" {
		t.Errorf("window = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRICE_TTL", "soon")
	if _, err := Load("none.yaml"); err == nil || !strings.Contains(err.Error(), "PRICE_TTL") {
		t.Errorf("err = %v, want PRICE_TTL error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad source", func(c *Config) { c.Engine.Source = "bloomberg" }, "engine.source"},
		{"rest without url", func(c *Config) { c.Engine.Source = "rest" }, "data_source.base_url"},
		{"bad cron", func(c *Config) { c.Schedule.CleanupCron = "every day" }, "schedule.cleanup_cron"},
		{"bad session", func(c *Config) { c.Session.Close = "09:00" }, "session"},
		{"zero ceiling", func(c *Config) { c.Engine.DailyCeiling = -1 }, "daily_ceiling"},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "x" }, "telegram"},
		{"short retention", func(c *Config) { c.Schedule.LedgerRetention = time.Hour }, "ledger_retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
