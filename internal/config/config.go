// Package config defines the top-level configuration for the inventory
// watcher and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LOTWATCH_* environment
// variables.
type Config struct {
	Dealer     DealerConfig     `toml:"dealer"`
	Scrape     ScrapeConfig     `toml:"scrape"`
	Sanity     SanityConfig     `toml:"sanity"`
	TextEngine TextEngineConfig `toml:"text_engine"`
	Facebook   FacebookConfig   `toml:"facebook"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Run        RunConfig        `toml:"run"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DealerConfig identifies the dealership site being watched.
type DealerConfig struct {
	BaseURL       string `toml:"base_url"`
	InventoryPath string `toml:"inventory_path"`
	Pages         int    `toml:"pages"`
}

// ScrapeConfig holds scraper transport parameters.
type ScrapeConfig struct {
	UserAgent      string   `toml:"user_agent"`
	AcceptLanguage string   `toml:"accept_language"`
	PageTimeout    duration `toml:"page_timeout"`
	RequestsPerSec float64  `toml:"requests_per_sec"`
}

// SanityConfig holds the implausible-shrink gate thresholds. A scrape that
// returns fewer than MinInventoryAbs listings, or fewer than
// MinInventoryRatio times the previous snapshot's size, aborts the run.
type SanityConfig struct {
	MinInventoryAbs   int     `toml:"min_inventory_abs"`
	MinInventoryRatio float64 `toml:"min_inventory_ratio"`
}

// TextEngineConfig holds the ad-text generation service parameters.
type TextEngineConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// FacebookConfig holds Facebook Graph API credentials and photo policy.
type FacebookConfig struct {
	PageID      string `toml:"page_id"`
	AccessToken string `toml:"access_token"`
	GraphVer    string `toml:"graph_version"`
	PostPhotos  int    `toml:"post_photos"`
	MaxPhotos   int    `toml:"max_photos"`
	DryRun      bool   `toml:"dry_run"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for raw-page and
// report archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RunConfig holds run orchestration parameters.
type RunConfig struct {
	Deadline      duration `toml:"deadline"`
	LockTTL       duration `toml:"lock_ttl"`
	Interval      duration `toml:"interval"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryBackoff  duration `toml:"retry_backoff"`
	EnrichWorkers int      `toml:"enrich_workers"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Dealer: DealerConfig{
			BaseURL:       "https://www.kennebecdodge.ca",
			InventoryPath: "/fr/inventaire-occasion/",
			Pages:         3,
		},
		Scrape: ScrapeConfig{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Safari/605.1.15",
			AcceptLanguage: "fr-CA,fr;q=0.9,en;q=0.8",
			PageTimeout:    duration{30 * time.Second},
			RequestsPerSec: 2,
		},
		Sanity: SanityConfig{
			MinInventoryAbs:   30,
			MinInventoryRatio: 0.70,
		},
		TextEngine: TextEngineConfig{
			Timeout: duration{60 * time.Second},
		},
		Facebook: FacebookConfig{
			GraphVer:   "v24.0",
			PostPhotos: 10,
			MaxPhotos:  15,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lotwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Run: RunConfig{
			Deadline:      duration{40 * time.Minute},
			LockTTL:       duration{45 * time.Minute},
			Interval:      duration{1 * time.Hour},
			RetryAttempts: 3,
			RetryBackoff:  duration{2 * time.Second},
			EnrichWorkers: 4,
		},
		Mode:     "once",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"once":   true,
	"loop":   true,
	"audit":  true,
	"status": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and required
// fields. It returns an error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, loop, audit, status)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Dealer.BaseURL == "" {
		errs = append(errs, "dealer: base_url is required")
	}
	if c.Dealer.InventoryPath == "" {
		errs = append(errs, "dealer: inventory_path is required")
	}
	if c.Dealer.Pages < 1 {
		errs = append(errs, "dealer: pages must be at least 1")
	}

	if c.Sanity.MinInventoryAbs < 0 {
		errs = append(errs, "sanity: min_inventory_abs must not be negative")
	}
	if c.Sanity.MinInventoryRatio < 0 || c.Sanity.MinInventoryRatio > 1 {
		errs = append(errs, "sanity: min_inventory_ratio must be within [0, 1]")
	}

	if !c.Facebook.DryRun {
		if c.Facebook.PageID == "" {
			errs = append(errs, "facebook: page_id is required unless dry_run is set")
		}
		if c.Facebook.AccessToken == "" {
			errs = append(errs, "facebook: access_token is required unless dry_run is set")
		}
	}
	if c.Facebook.PostPhotos < 1 {
		errs = append(errs, "facebook: post_photos must be at least 1")
	}
	if c.Facebook.MaxPhotos < c.Facebook.PostPhotos {
		errs = append(errs, "facebook: max_photos must be >= post_photos")
	}

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		errs = append(errs, "database: either dsn or host/database/user must be set")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket is required when s3 is enabled")
	}

	if c.Run.Deadline.Duration <= 0 {
		errs = append(errs, "run: deadline must be positive")
	}
	if c.Run.LockTTL.Duration < c.Run.Deadline.Duration {
		errs = append(errs, "run: lock_ttl must be >= deadline")
	}
	if c.Run.RetryAttempts < 1 {
		errs = append(errs, "run: retry_attempts must be at least 1")
	}
	if c.Run.EnrichWorkers < 1 {
		errs = append(errs, "run: enrich_workers must be at least 1")
	}
	if strings.ToLower(c.Mode) == "loop" && c.Run.Interval.Duration <= 0 {
		errs = append(errs, "run: interval must be positive in loop mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
