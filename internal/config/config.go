// Package config defines the top-level configuration for cascadebot and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/filter"
	"github.com/alanyoungcy/cascadebot/internal/royalty"
	"github.com/alanyoungcy/cascadebot/internal/signal"
	"github.com/alanyoungcy/cascadebot/internal/units"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CASCADEBOT_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Contract ContractConfig `toml:"contract"`
	Watch    WatchConfig    `toml:"watch"`
	Royalty  RoyaltyConfig  `toml:"royalty"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Dedup    DedupConfig    `toml:"dedup"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the node connection.
type ChainConfig struct {
	// RPCURL must support subscriptions (ws://, wss:// or an IPC path).
	RPCURL string `toml:"rpc_url"`
	// ChainID, when non-zero, must match the node's chain ID.
	ChainID int64 `toml:"chain_id"`
}

// WalletConfig holds the signing key sources.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeystorePath     string `toml:"keystore_path"`
	KeyPassword      string `toml:"key_password"`
}

// ContractConfig identifies the notification contract.
type ContractConfig struct {
	Address      string `toml:"address"`
	ABIPath      string `toml:"abi_path"`
	GasMarginPct int    `toml:"gas_margin_pct"`
}

// WatchConfig holds the transaction filter.
type WatchConfig struct {
	Pool1       string   `toml:"pool1"`
	Pool2       string   `toml:"pool2"`
	MinValueEth string   `toml:"min_value_eth"`
	Selectors   []string `toml:"selectors"`
}

// RoyaltyConfig holds the two-tier royalty policy.
type RoyaltyConfig struct {
	Enabled      bool   `toml:"enabled"`
	ThresholdWei string `toml:"threshold_wei"`
	DefaultBps   uint64 `toml:"default_bps"`
	LargeBps     uint64 `toml:"large_bps"`
}

// DispatchConfig tunes signal construction, contract calls and ingest
// concurrency.
type DispatchConfig struct {
	GasPriceGwei        string   `toml:"gas_price_gwei"`
	SignalFields        string   `toml:"signal_fields"`
	MaxInFlight         int      `toml:"max_inflight"`
	UnitTimeout         duration `toml:"unit_timeout"`
	CallTimeout         duration `toml:"call_timeout"`
	ResubscribeDelay    duration `toml:"resubscribe_delay"`
	MaxResubscribeDelay duration `toml:"max_resubscribe_delay"`
}

// DedupConfig selects the seen-set backend.
type DedupConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `toml:"backend"`
	KeyPrefix string `toml:"key_prefix"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
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
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	EventChannel string `toml:"event_channel"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old ledger rows to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// KafkaConfig controls dispatch event export.
type KafkaConfig struct {
	Enabled  bool     `toml:"enabled"`
	Brokers  []string `toml:"brokers"`
	Topic    string   `toml:"topic"`
	ClientID string   `toml:"client_id"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route except /api/health. Empty disables auth.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// DefaultSelectors are the swap, Seaport and ERC-20 transfer selectors
// watched out of the box.
var DefaultSelectors = []string{
	"38ed1739", // swapExactTokensForTokens
	"7ff36ab5", // swapExactETHForTokens
	"8803dbee", // swapTokensForExactTokens
	"fb0fc03b", // Seaport fulfillBasicOrder_efficient_6GL6yc
	"a9059cbb", // transfer
	"23b872dd", // transferFrom
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Contract: ContractConfig{
			GasMarginPct: 20,
		},
		Watch: WatchConfig{
			MinValueEth: "5",
			Selectors:   append([]string(nil), DefaultSelectors...),
		},
		Royalty: RoyaltyConfig{
			Enabled:      true,
			ThresholdWei: "1000000000000000000",
			DefaultBps:   10,
			LargeBps:     7,
		},
		Dispatch: DispatchConfig{
			GasPriceGwei:        "0.1",
			SignalFields:        string(signal.FieldsCore),
			MaxInFlight:         256,
			UnitTimeout:         duration{2 * time.Minute},
			CallTimeout:         duration{10 * time.Minute},
			ResubscribeDelay:    duration{time.Second},
			MaxResubscribeDelay: duration{30 * time.Second},
		},
		Dedup: DedupConfig{
			Backend:   DedupMemory,
			KeyPrefix: "cascadebot:seen:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			EventChannel: "cascadebot:events",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cascadebot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Kafka: KafkaConfig{
			Topic:    "cascadebot.events",
			ClientID: "cascadebot",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventYieldClaimed), string(domain.EventCallFailed)},
		},
		Mode:     ModeWatch,
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeWatch  = "watch"
	ModeDryRun = "dryrun"
)

// Seen-set backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

var validNotifyEvents = map[string]bool{
	string(domain.EventSignalNovel):    true,
	string(domain.EventCascadeEmitted): true,
	string(domain.EventYieldClaimed):   true,
	string(domain.EventCallFailed):     true,
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeWatch:  true,
	ModeDryRun: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, dryrun)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID < 0 {
		errs = append(errs, "chain: chain_id must not be negative")
	}

	// Wallet: dryrun never signs.
	if strings.ToLower(c.Mode) == ModeWatch {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" && c.Wallet.KeystorePath == "" {
			errs = append(errs, "wallet: one of private_key, encrypted_key_path or keystore_path must be set for mode watch")
		}
		if (c.Wallet.EncryptedKeyPath != "" || c.Wallet.KeystorePath != "") && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required for an encrypted key")
		}
	}

	// Contract
	if !common.IsHexAddress(c.Contract.Address) {
		errs = append(errs, fmt.Sprintf("contract: address %q is not a hex address", c.Contract.Address))
	}
	if c.Contract.GasMarginPct < 0 {
		errs = append(errs, "contract: gas_margin_pct must be >= 0")
	}

	// Watch
	for name, v := range map[string]string{"pool1": c.Watch.Pool1, "pool2": c.Watch.Pool2} {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("watch: %s %q is not a hex address", name, v))
		}
	}
	if _, err := units.ParseEther(c.Watch.MinValueEth); err != nil {
		errs = append(errs, fmt.Sprintf("watch: min_value_eth: %v", err))
	}
	if len(c.Watch.Selectors) == 0 {
		errs = append(errs, "watch: at least one selector is required")
	}
	for _, s := range c.Watch.Selectors {
		if _, err := filter.NormalizeSelector(s); err != nil {
			errs = append(errs, fmt.Sprintf("watch: %v", err))
		}
	}

	// Royalty
	if _, err := units.ParseWei(c.Royalty.ThresholdWei); err != nil {
		errs = append(errs, fmt.Sprintf("royalty: threshold_wei: %v", err))
	}
	if c.Royalty.DefaultBps > royalty.MaxBps {
		errs = append(errs, fmt.Sprintf("royalty: default_bps must be <= %d", royalty.MaxBps))
	}
	if c.Royalty.LargeBps > royalty.MaxBps {
		errs = append(errs, fmt.Sprintf("royalty: large_bps must be <= %d", royalty.MaxBps))
	}

	// Dispatch
	if gp, err := units.ParseGwei(c.Dispatch.GasPriceGwei); err != nil {
		errs = append(errs, fmt.Sprintf("dispatch: gas_price_gwei: %v", err))
	} else if gp.Sign() == 0 {
		errs = append(errs, "dispatch: gas_price_gwei must be > 0")
	}
	if _, err := signal.ParseFieldSet(c.Dispatch.SignalFields); err != nil {
		errs = append(errs, fmt.Sprintf("dispatch: %v", err))
	}
	if c.Dispatch.MaxInFlight < 1 {
		errs = append(errs, "dispatch: max_inflight must be >= 1")
	}
	if c.Dispatch.UnitTimeout.Duration <= 0 {
		errs = append(errs, "dispatch: unit_timeout must be > 0")
	}
	if c.Dispatch.CallTimeout.Duration <= 0 {
		errs = append(errs, "dispatch: call_timeout must be > 0")
	}

	// Dedup
	switch c.Dedup.Backend {
	case DedupMemory:
	case DedupRedis:
		if !c.Redis.Enabled {
			errs = append(errs, "dedup: backend redis requires redis.enabled")
		}
		if c.Dedup.KeyPrefix == "" {
			errs = append(errs, "dedup: key_prefix must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("dedup: unknown backend %q (valid: memory, redis)", c.Dedup.Backend))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
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

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: at least one broker is required")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Rules builds the transaction filter.
func (c *Config) Rules() (filter.Rules, error) {
	minValue, err := units.ParseEther(c.Watch.MinValueEth)
	if err != nil {
		return filter.Rules{}, fmt.Errorf("config: min_value_eth: %w", err)
	}
	return filter.NewRules(
		common.HexToAddress(c.Watch.Pool1),
		common.HexToAddress(c.Watch.Pool2),
		minValue,
		c.Watch.Selectors,
	)
}

// RoyaltyPolicy builds the royalty tiering.
func (c *Config) RoyaltyPolicy() (royalty.Policy, error) {
	threshold, err := units.ParseWei(c.Royalty.ThresholdWei)
	if err != nil {
		return royalty.Policy{}, fmt.Errorf("config: threshold_wei: %w", err)
	}
	return royalty.NewPolicy(c.Royalty.Enabled, threshold, c.Royalty.DefaultBps, c.Royalty.LargeBps)
}

// Codec builds the signal codec.
func (c *Config) Codec() (*signal.Codec, error) {
	fields, err := signal.ParseFieldSet(c.Dispatch.SignalFields)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return signal.NewCodec(common.HexToAddress(c.Watch.Pool2), fields), nil
}

// GasPrice returns the fixed call gas price in wei.
func (c *Config) GasPrice() (*big.Int, error) {
	gp, err := units.ParseGwei(c.Dispatch.GasPriceGwei)
	if err != nil {
		return nil, fmt.Errorf("config: gas_price_gwei: %w", err)
	}
	return gp, nil
}

// ContractAddress returns the parsed contract address.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}
