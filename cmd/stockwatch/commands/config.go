package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"stockwatch/internal/components/configutil"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/notify"
	"stockwatch/internal/queue"
	"stockwatch/internal/scrapers/shopify"
)

type StoreConfig struct {
	// Backend is either "sql" or "badger".
	Backend   string `json:"backend"`
	BadgerDir string `json:"badger_dir"`
}

type PollConfig struct {
	Cron               string  `json:"cron"`
	SiteConcurrency    int     `json:"site_concurrency"`
	ProductConcurrency int     `json:"product_concurrency"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	SiteTimeoutSeconds int     `json:"site_timeout_seconds"`
	MaxPages           int     `json:"max_pages"`
	DumpDir            string  `json:"dump_dir"`
}

type StatusConfig struct {
	Cron string `json:"cron"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username"`
}

type EmailConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	Address  string   `json:"address"`
	Password string   `json:"password"`
	To       []string `json:"to"`
}

type DispatcherConfig struct {
	IntervalSeconds  int `json:"interval_seconds"`
	BatchSize        int `json:"batch_size"`
	Workers          int `json:"workers"`
	DedupeTTLMinutes int `json:"dedupe_ttl_minutes"`
	MaxAttempts      int `json:"max_attempts"`
}

type AdminConfig struct {
	Port  int    `json:"port"`
	Token string `json:"token"`
}

type Config struct {
	Database   string               `json:"database"`
	Store      StoreConfig          `json:"store"`
	Sites      []string             `json:"sites"`
	Poll       PollConfig           `json:"poll"`
	Status     StatusConfig         `json:"status"`
	Discord    DiscordConfig        `json:"discord"`
	Email      EmailConfig          `json:"email"`
	Dispatcher DispatcherConfig     `json:"dispatcher"`
	Admin      AdminConfig          `json:"admin"`
	Otlp       telemetry.OtlpConfig `json:"otlp"`
}

func (c Config) withDefaults() Config {
	if c.Database == "" {
		c.Database = "state/stockwatch.db"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sql"
	}
	if c.Store.BadgerDir == "" {
		c.Store.BadgerDir = "state/snapshots"
	}
	if c.Poll.Cron == "" {
		c.Poll.Cron = "*/5 * * * *"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8080
	}
	return c
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "sql", "badger":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c Config) clientOptions() shopify.ClientOptions {
	return shopify.ClientOptions{
		RequestsPerSecond:  c.Poll.RequestsPerSecond,
		Timeout:            seconds(c.Poll.TimeoutSeconds),
		ProductConcurrency: c.Poll.ProductConcurrency,
		MaxPages:           c.Poll.MaxPages,
		DumpDir:            c.Poll.DumpDir,
	}
}

func (c Config) dispatcherOptions() queue.DispatcherOptions {
	return queue.DispatcherOptions{
		Interval:    seconds(c.Dispatcher.IntervalSeconds),
		BatchSize:   c.Dispatcher.BatchSize,
		Workers:     c.Dispatcher.Workers,
		DedupeTTL:   time.Duration(c.Dispatcher.DedupeTTLMinutes) * time.Minute,
		MaxAttempts: c.Dispatcher.MaxAttempts,
	}
}

func (c Config) emailOptions() notify.EmailOptions {
	return notify.EmailOptions{
		Server:   c.Email.Server,
		Port:     c.Email.Port,
		Address:  c.Email.Address,
		Password: c.Email.Password,
		To:       c.Email.To,
	}
}

// readConfig reads the config file, a missing file means every setting takes
// its default.
func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg = cfg.withDefaults()
	return cfg, cfg.validate()
}
