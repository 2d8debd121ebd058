package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOTWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOTWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Dealer ──
	setStr(&cfg.Dealer.BaseURL, "LOTWATCH_DEALER_BASE_URL")
	setStr(&cfg.Dealer.InventoryPath, "LOTWATCH_DEALER_INVENTORY_PATH")
	setInt(&cfg.Dealer.Pages, "LOTWATCH_DEALER_PAGES")

	// ── Scrape ──
	setStr(&cfg.Scrape.UserAgent, "LOTWATCH_SCRAPE_USER_AGENT")
	setDuration(&cfg.Scrape.PageTimeout, "LOTWATCH_SCRAPE_PAGE_TIMEOUT")
	setFloat64(&cfg.Scrape.RequestsPerSec, "LOTWATCH_SCRAPE_REQUESTS_PER_SEC")

	// ── Sanity ──
	setInt(&cfg.Sanity.MinInventoryAbs, "LOTWATCH_SANITY_MIN_INVENTORY_ABS")
	setFloat64(&cfg.Sanity.MinInventoryRatio, "LOTWATCH_SANITY_MIN_INVENTORY_RATIO")

	// ── Text engine ──
	setStr(&cfg.TextEngine.URL, "LOTWATCH_TEXT_ENGINE_URL")
	setDuration(&cfg.TextEngine.Timeout, "LOTWATCH_TEXT_ENGINE_TIMEOUT")

	// ── Facebook ──
	setStr(&cfg.Facebook.PageID, "LOTWATCH_FB_PAGE_ID")
	setStr(&cfg.Facebook.AccessToken, "LOTWATCH_FB_ACCESS_TOKEN")
	setStr(&cfg.Facebook.GraphVer, "LOTWATCH_FB_GRAPH_VERSION")
	setInt(&cfg.Facebook.PostPhotos, "LOTWATCH_FB_POST_PHOTOS")
	setInt(&cfg.Facebook.MaxPhotos, "LOTWATCH_FB_MAX_PHOTOS")
	setBool(&cfg.Facebook.DryRun, "LOTWATCH_FB_DRY_RUN")

	// ── Database ──
	setStr(&cfg.Database.DSN, "LOTWATCH_DATABASE_DSN")
	setStr(&cfg.Database.Host, "LOTWATCH_DATABASE_HOST")
	setInt(&cfg.Database.Port, "LOTWATCH_DATABASE_PORT")
	setStr(&cfg.Database.Database, "LOTWATCH_DATABASE_NAME")
	setStr(&cfg.Database.User, "LOTWATCH_DATABASE_USER")
	setStr(&cfg.Database.Password, "LOTWATCH_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "LOTWATCH_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "LOTWATCH_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "LOTWATCH_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "LOTWATCH_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOTWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOTWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOTWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOTWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOTWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOTWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LOTWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LOTWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOTWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOTWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOTWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOTWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LOTWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LOTWATCH_S3_FORCE_PATH_STYLE")

	// ── Run ──
	setDuration(&cfg.Run.Deadline, "LOTWATCH_RUN_DEADLINE")
	setDuration(&cfg.Run.LockTTL, "LOTWATCH_RUN_LOCK_TTL")
	setDuration(&cfg.Run.Interval, "LOTWATCH_RUN_INTERVAL")
	setInt(&cfg.Run.RetryAttempts, "LOTWATCH_RUN_RETRY_ATTEMPTS")
	setDuration(&cfg.Run.RetryBackoff, "LOTWATCH_RUN_RETRY_BACKOFF")
	setInt(&cfg.Run.EnrichWorkers, "LOTWATCH_RUN_ENRICH_WORKERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LOTWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LOTWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LOTWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LOTWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LOTWATCH_MODE")
	setStr(&cfg.LogLevel, "LOTWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
