// Package config defines the top-level configuration for the chainbet service
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINBET_* environment variables.
type Config struct {
	Wallet   WalletConfig             `toml:"wallet"`
	Chain    ChainConfig              `toml:"chain"`
	Networks map[string]NetworkConfig `toml:"networks"`
	Bet      BetConfig                `toml:"bet"`
	Database DatabaseConfig           `toml:"database"`
	Redis    RedisConfig              `toml:"redis"`
	S3       S3Config                 `toml:"s3"`
	Archive  ArchiveConfig            `toml:"archive"`
	Server   ServerConfig             `toml:"server"`
	Notify   NotifyConfig             `toml:"notify"`
	Mode     string                   `toml:"mode"`
	LogLevel string                   `toml:"log_level"`
}

// WalletConfig holds the signing wallet credentials. Leave both key sources
// empty to run read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// WatchAccount is used as the session account when no key is configured.
	WatchAccount string `toml:"watch_account"`
}

// ChainConfig holds chain interaction parameters shared by every network.
type ChainConfig struct {
	ChainID          uint64   `toml:"chain_id"`
	PollInterval     duration `toml:"poll_interval"`
	ConfirmTimeout   duration `toml:"confirm_timeout"`
	RefreshInterval  duration `toml:"refresh_interval"`
	CallTimeout      duration `toml:"call_timeout"`
	GasLimit         uint64   `toml:"gas_limit"`
	IndexFromBlock   uint64   `toml:"index_from_block"`
	IndexBatchBlocks uint64   `toml:"index_batch_blocks"`
}

// NetworkConfig describes one supported network and its deployed contracts.
type NetworkConfig struct {
	Name       string                 `toml:"name"`
	ChainID    uint64                 `toml:"chain_id"`
	RPCURL     string                 `toml:"rpc_url"`
	Explorer   string                 `toml:"explorer"`
	Contract   string                 `toml:"contract"`
	PriceFeeds map[string]string      `toml:"price_feeds"`
	Tokens     map[string]TokenConfig `toml:"tokens"`
}

// TokenConfig describes a settlement token.
type TokenConfig struct {
	Address  string `toml:"address"`
	Name     string `toml:"name"`
	Decimals int    `toml:"decimals"`
}

// BetConfig holds client-side betting rules.
type BetConfig struct {
	MinStake       string `toml:"min_stake"`
	DurationDays   []int  `toml:"duration_days"`
	PlatformFeeBps int    `toml:"platform_fee_bps"`
	MaxQuestionLen int    `toml:"max_question_len"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	// Enabled=false falls back to an in-process bus and disables the
	// signer lock and rate limiter.
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig controls the periodic copy of settled data to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Lookback duration `toml:"lookback"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:          11155111,
			PollInterval:     duration{2 * time.Second},
			ConfirmTimeout:   duration{3 * time.Minute},
			RefreshInterval:  duration{15 * time.Second},
			CallTimeout:      duration{10 * time.Second},
			IndexBatchBlocks: 2000,
		},
		Networks: DefaultNetworks(),
		Bet: BetConfig{
			MinStake:       "1",
			DurationDays:   []int{1, 7, 30, 90, 365},
			PlatformFeeBps: 300,
			MaxQuestionLen: 280,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "chainbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10000,
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "chainbet-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
			Lookback: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "tx_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// DefaultNetworks returns the Sepolia and Mumbai deployments. The contract
// address stays zero until a deployment is configured, which leaves the
// network unsupported.
func DefaultNetworks() map[string]NetworkConfig {
	zero := common.Address{}.Hex()
	return map[string]NetworkConfig{
		"sepolia": {
			Name:     "Sepolia",
			ChainID:  11155111,
			RPCURL:   "https://rpc.sepolia.org",
			Explorer: "https://sepolia.etherscan.io",
			Contract: zero,
			PriceFeeds: map[string]string{
				"BTC":   "0x1b44F3514812d835EB1BDB0acB33d3fA3351Ee43",
				"ETH":   "0x694AA1769357215DE4FAC081bf1f309aDC325306",
				"LINK":  "0xc59E3633BAAC79493d908e63626716e204A45EdF",
				"MATIC": "0xd0D5e3DB44DE05E9F294BB0a3bEEaF030DE24Ada",
			},
			Tokens: map[string]TokenConfig{
				"USDC": {Address: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Name: "USD Coin", Decimals: 6},
				"USDT": {Address: "0xaA8E23Fb1079EA71e0a56F48a2aA51851D8433D0", Name: "Tether USD", Decimals: 6},
			},
		},
		"mumbai": {
			Name:     "Mumbai",
			ChainID:  80001,
			RPCURL:   "https://rpc-mumbai.maticvigil.com",
			Explorer: "https://mumbai.polygonscan.com",
			Contract: zero,
			PriceFeeds: map[string]string{
				"BTC":   "0x007A22900a3B98143368Bd5906f8E17e9867581b",
				"ETH":   "0x0715A7794a1dc8e42615F059dD6e406A6594651A",
				"LINK":  "0x12162c3E810393dEC58762A6C1B6E66C4e4d1C3C",
				"MATIC": "0xd0D5e3DB44DE05E9F294BB0a3bEEaF030DE24Ada",
			},
			Tokens: map[string]TokenConfig{
				"USDC": {Address: "0xe6b8a5CF854791412c1f6EFC7CAf629f5Df1c747", Name: "USD Coin", Decimals: 6},
				"USDT": {Address: "0xA02f6adc7926efeBBd59Fd43A84f4E0c0c91e832", Name: "Tether USD", Decimals: 6},
			},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"watch":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// HasSigner reports whether a signing key source is configured.
func (c *Config) HasSigner() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.WatchAccount != "" && !common.IsHexAddress(c.Wallet.WatchAccount) {
		errs = append(errs, fmt.Sprintf("wallet: watch_account %q is not a hex address", c.Wallet.WatchAccount))
	}

	// Chain
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}
	if c.Chain.IndexBatchBlocks == 0 {
		errs = append(errs, "chain: index_batch_blocks must be > 0")
	}

	// Networks
	if len(c.Networks) == 0 {
		errs = append(errs, "networks: at least one network must be configured")
	}
	keys := make([]string, 0, len(c.Networks))
	for k := range c.Networks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seen := make(map[uint64]string, len(keys))
	for _, k := range keys {
		errs = append(errs, validateNetwork(k, c.Networks[k])...)
		id := c.Networks[k].ChainID
		if prev, dup := seen[id]; dup && id != 0 {
			errs = append(errs, fmt.Sprintf("networks.%s: chain_id %d already used by %s", k, id, prev))
		}
		seen[id] = k
	}

	// Bet
	minStake, err := decimal.NewFromString(c.Bet.MinStake)
	if err != nil || !minStake.IsPositive() {
		errs = append(errs, fmt.Sprintf("bet: min_stake must be a positive number, got %q", c.Bet.MinStake))
	}
	if len(c.Bet.DurationDays) == 0 {
		errs = append(errs, "bet: duration_days must not be empty")
	}
	for _, d := range c.Bet.DurationDays {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("bet: duration_days entries must be > 0, got %d", d))
		}
	}
	if c.Bet.PlatformFeeBps < 0 || c.Bet.PlatformFeeBps > 10000 {
		errs = append(errs, "bet: platform_fee_bps must be within 0-10000")
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Database.Enabled {
			errs = append(errs, "archive: requires both s3.enabled and database.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateNetwork(key string, n NetworkConfig) []string {
	var errs []string
	if n.ChainID == 0 {
		errs = append(errs, fmt.Sprintf("networks.%s: chain_id must be > 0", key))
	}
	if n.RPCURL == "" {
		errs = append(errs, fmt.Sprintf("networks.%s: rpc_url must not be empty", key))
	}
	if n.Contract != "" && !common.IsHexAddress(n.Contract) {
		errs = append(errs, fmt.Sprintf("networks.%s: contract %q is not a hex address", key, n.Contract))
	}
	for sym, addr := range n.PriceFeeds {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("networks.%s.price_feeds.%s: %q is not a hex address", key, sym, addr))
		}
	}
	for sym, tok := range n.Tokens {
		if !common.IsHexAddress(tok.Address) {
			errs = append(errs, fmt.Sprintf("networks.%s.tokens.%s: %q is not a hex address", key, sym, tok.Address))
		}
		if tok.Decimals < 0 || tok.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("networks.%s.tokens.%s: decimals must be within 0-36", key, sym))
		}
	}
	return errs
}
