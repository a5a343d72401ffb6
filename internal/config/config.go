package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"QuoteKeeper/internal/session"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Engine struct {
		TTL             time.Duration `yaml:"ttl"`
		DailyCeiling    int           `yaml:"daily_ceiling"`
		BlockDuration   time.Duration `yaml:"block_duration"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout"`
		Source          string        `yaml:"source"`
		DefaultCurrency string        `yaml:"default_currency"`
	} `yaml:"engine"`
	Session struct {
		Days     []string `yaml:"days"`
		Open     string   `yaml:"open"`
		Close    string   `yaml:"close"`
		Timezone string   `yaml:"timezone"`
	} `yaml:"session"`
	Schedule struct {
		SessionCron     string        `yaml:"session_cron"`
		OffSessionCron  string        `yaml:"off_session_cron"`
		CleanupCron     string        `yaml:"cleanup_cron"`
		MaintenanceCron string        `yaml:"maintenance_cron"`
		SessionBatch    int           `yaml:"session_batch"`
		OffSessionBatch int           `yaml:"off_session_batch"`
		LedgerRetention time.Duration `yaml:"ledger_retention"`
		UsageWindowDays int           `yaml:"usage_window_days"`
	} `yaml:"schedule"`
	DataSource struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		UserAgent string `yaml:"user_agent"`
		Proxy     string `yaml:"proxy"`
	} `yaml:"data_source"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Admin struct {
		Addr string `yaml:"addr"`
	} `yaml:"admin"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// DotEnvFile is loaded, when present, before environment overrides are read.
// Variables already set in the process environment win.
var DotEnvFile = ".env"

// Load reads config from a YAML file, then applies .env and environment
// variable overrides, then defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("DATA_SOURCE_BASE_URL"); v != "" {
		c.DataSource.BaseURL = v
	}
	if v := os.Getenv("DATA_SOURCE_API_KEY"); v != "" {
		c.DataSource.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.DataSource.Proxy = v
	}
	if v := os.Getenv("PRICE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PRICE_TTL: %w", err)
		}
		c.Engine.TTL = d
	}
	if v := os.Getenv("PRICE_DAILY_CEILING"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICE_DAILY_CEILING: %w", err)
		}
		c.Engine.DailyCeiling = n
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		c.Admin.Addr = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("CRON_SESSION"); v != "" {
		c.Schedule.SessionCron = v
	}
	if v := os.Getenv("CRON_OFF_SESSION"); v != "" {
		c.Schedule.OffSessionCron = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.TTL == 0 {
		c.Engine.TTL = 15 * time.Minute
	}
	if c.Engine.DailyCeiling == 0 {
		c.Engine.DailyCeiling = 200
	}
	if c.Engine.BlockDuration == 0 {
		c.Engine.BlockDuration = time.Hour
	}
	if c.Engine.FetchTimeout == 0 {
		c.Engine.FetchTimeout = 10 * time.Second
	}
	if c.Engine.Source == "" {
		c.Engine.Source = "yahoo"
	}
	if c.Engine.DefaultCurrency == "" {
		c.Engine.DefaultCurrency = "USD"
	}
	if len(c.Session.Days) == 0 {
		c.Session.Days = []string{"mon-fri"}
	}
	if c.Session.Open == "" {
		c.Session.Open = "09:30"
	}
	if c.Session.Close == "" {
		c.Session.Close = "16:00"
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "America/New_York"
	}
	if c.Schedule.SessionCron == "" {
		c.Schedule.SessionCron = "0 */15 * * * *"
	}
	if c.Schedule.OffSessionCron == "" {
		c.Schedule.OffSessionCron = "0 0 * * * *"
	}
	if c.Schedule.CleanupCron == "" {
		c.Schedule.CleanupCron = "0 0 2 * * *"
	}
	if c.Schedule.MaintenanceCron == "" {
		c.Schedule.MaintenanceCron = "0 0 3 * * 0"
	}
	if c.Schedule.SessionBatch == 0 {
		c.Schedule.SessionBatch = 20
	}
	if c.Schedule.OffSessionBatch == 0 {
		c.Schedule.OffSessionBatch = 50
	}
	if c.Schedule.LedgerRetention == 0 {
		c.Schedule.LedgerRetention = 90 * 24 * time.Hour
	}
	if c.Schedule.UsageWindowDays == 0 {
		c.Schedule.UsageWindowDays = 7
	}
	if c.DataSource.UserAgent == "" {
		c.DataSource.UserAgent = "Mozilla/5.0 (compatible; QuoteKeeper/1.0)"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/quotekeeper.db"
	}
}

// Window converts the session section into a session.Window.
func (c *Config) Window() (session.Window, error) {
	return session.Parse(c.Session.Days, c.Session.Open, c.Session.Close, c.Session.Timezone)
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if c.Engine.TTL <= 0 {
		return fmt.Errorf("engine.ttl must be positive")
	}
	if c.Engine.DailyCeiling <= 0 {
		return fmt.Errorf("engine.daily_ceiling must be positive")
	}
	if c.Engine.BlockDuration <= 0 {
		return fmt.Errorf("engine.block_duration must be positive")
	}
	if c.Engine.FetchTimeout <= 0 {
		return fmt.Errorf("engine.fetch_timeout must be positive")
	}
	switch c.Engine.Source {
	case "yahoo", "mock":
	case "rest":
		if c.DataSource.BaseURL == "" {
			return fmt.Errorf("data_source.base_url is required for the rest source")
		}
	default:
		return fmt.Errorf("engine.source %q is not supported", c.Engine.Source)
	}
	if _, err := c.Window(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	specs := map[string]string{
		"schedule.session_cron":     c.Schedule.SessionCron,
		"schedule.off_session_cron": c.Schedule.OffSessionCron,
		"schedule.cleanup_cron":     c.Schedule.CleanupCron,
		"schedule.maintenance_cron": c.Schedule.MaintenanceCron,
	}
	for name, spec := range specs {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Schedule.SessionBatch <= 0 || c.Schedule.OffSessionBatch <= 0 {
		return fmt.Errorf("schedule batch sizes must be positive")
	}
	if c.Schedule.LedgerRetention < 24*time.Hour {
		return fmt.Errorf("schedule.ledger_retention must be at least one day")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}
