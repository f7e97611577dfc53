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
// built-in defaults, applies CHAINBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// A network table in the file replaces the default entry with the same key
// as a whole.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHAINBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CHAINBET_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CHAINBET_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CHAINBET_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.WatchAccount, "CHAINBET_WALLET_WATCH_ACCOUNT")

	// ── Chain ──
	setUint64(&cfg.Chain.ChainID, "CHAINBET_CHAIN_ID")
	setDuration(&cfg.Chain.PollInterval, "CHAINBET_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ConfirmTimeout, "CHAINBET_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.RefreshInterval, "CHAINBET_CHAIN_REFRESH_INTERVAL")
	setUint64(&cfg.Chain.GasLimit, "CHAINBET_CHAIN_GAS_LIMIT")
	setUint64(&cfg.Chain.IndexFromBlock, "CHAINBET_CHAIN_INDEX_FROM_BLOCK")

	// ── Networks: CHAINBET_NETWORK_<KEY>_{RPC_URL,CONTRACT} ──
	for key, n := range cfg.Networks {
		prefix := "CHAINBET_NETWORK_" + strings.ToUpper(key) + "_"
		setStr(&n.RPCURL, prefix+"RPC_URL")
		setStr(&n.Contract, prefix+"CONTRACT")
		cfg.Networks[key] = n
	}

	// ── Bet ──
	setStr(&cfg.Bet.MinStake, "CHAINBET_BET_MIN_STAKE")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "CHAINBET_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "CHAINBET_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CHAINBET_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CHAINBET_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CHAINBET_DATABASE_NAME")
	setStr(&cfg.Database.User, "CHAINBET_DATABASE_USER")
	setStr(&cfg.Database.Password, "CHAINBET_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CHAINBET_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CHAINBET_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CHAINBET_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CHAINBET_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CHAINBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CHAINBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINBET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CHAINBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CHAINBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CHAINBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHAINBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHAINBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHAINBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHAINBET_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CHAINBET_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CHAINBET_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "CHAINBET_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHAINBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHAINBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CHAINBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CHAINBET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "CHAINBET_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHAINBET_MODE")
	setStr(&cfg.LogLevel, "CHAINBET_LOG_LEVEL")
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
