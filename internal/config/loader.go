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
// built-in defaults, applies BETX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known BETX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BETX_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "BETX_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "BETX_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "BETX_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ExchangeAddress, "BETX_CHAIN_EXCHANGE_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "BETX_CHAIN_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "BETX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETX_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETX_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BETX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BETX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BETX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BETX_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETX_NOTIFY_EVENTS")

	// ── Matching ──
	setDuration(&cfg.Matching.LockTTL, "BETX_MATCHING_LOCK_TTL")
	setDuration(&cfg.Matching.GameExpiry, "BETX_MATCHING_GAME_EXPIRY")
	setInt(&cfg.Matching.BetsPerOwner, "BETX_MATCHING_BETS_PER_OWNER")
	setDuration(&cfg.Matching.BetRateWindow, "BETX_MATCHING_BET_RATE_WINDOW")
	setDuration(&cfg.Matching.ResultPoll, "BETX_MATCHING_RESULT_POLL")

	// ── Scanner ──
	setBool(&cfg.Scanner.Enabled, "BETX_SCANNER_ENABLED")
	setUint64(&cfg.Scanner.StartBlock, "BETX_SCANNER_START_BLOCK")
	setUint64(&cfg.Scanner.Confirmations, "BETX_SCANNER_CONFIRMATIONS")
	setUint64(&cfg.Scanner.MaxRange, "BETX_SCANNER_MAX_RANGE")
	setDuration(&cfg.Scanner.Interval, "BETX_SCANNER_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETX_MODE")
	setStr(&cfg.LogLevel, "BETX_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
