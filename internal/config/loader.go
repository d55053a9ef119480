package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment overrides and returns the final
// Config. An empty path skips the file, so a deployment can be configured
// from the environment alone. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides reads CASCADEBOT_* variables, plus the bare names used
// by earlier deployments (TARGET_POOL1, RPC_URL, ...), and overwrites the
// corresponding fields when set. The prefixed name wins when both are set.
// Every value that fails to parse is reported in the returned error.
func applyEnvOverrides(cfg *Config) error {
	var env envReader

	// ── Chain ──
	env.setStr(&cfg.Chain.RPCURL, "RPC_URL", "CASCADEBOT_CHAIN_RPC_URL")
	env.setInt64(&cfg.Chain.ChainID, "CASCADEBOT_CHAIN_ID")

	// ── Wallet ──
	env.setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY", "CASCADEBOT_WALLET_PRIVATE_KEY")
	env.setStr(&cfg.Wallet.EncryptedKeyPath, "CASCADEBOT_WALLET_ENCRYPTED_KEY_PATH")
	env.setStr(&cfg.Wallet.KeystorePath, "CASCADEBOT_WALLET_KEYSTORE_PATH")
	env.setStr(&cfg.Wallet.KeyPassword, "CASCADEBOT_WALLET_KEY_PASSWORD")

	// ── Contract ──
	env.setStr(&cfg.Contract.Address, "TOMB_CONTRACT", "CASCADEBOT_CONTRACT_ADDRESS")
	env.setStr(&cfg.Contract.ABIPath, "CASCADEBOT_CONTRACT_ABI_PATH")
	env.setInt(&cfg.Contract.GasMarginPct, "CASCADEBOT_CONTRACT_GAS_MARGIN_PCT")

	// ── Watch ──
	env.setStr(&cfg.Watch.Pool1, "TARGET_POOL1", "CASCADEBOT_WATCH_POOL1")
	env.setStr(&cfg.Watch.Pool2, "TARGET_POOL2", "CASCADEBOT_WATCH_POOL2")
	env.setStr(&cfg.Watch.MinValueEth, "MIN_ETH_VALUE", "CASCADEBOT_WATCH_MIN_VALUE_ETH")
	env.setStringSlice(&cfg.Watch.Selectors, "CASCADEBOT_WATCH_SELECTORS")

	// ── Royalty ──
	env.setBool(&cfg.Royalty.Enabled, "CASCADEBOT_ROYALTY_ENABLED")
	env.setStr(&cfg.Royalty.ThresholdWei, "TX_THRESHOLD", "CASCADEBOT_ROYALTY_THRESHOLD_WEI")
	env.setUint64(&cfg.Royalty.DefaultBps, "DEFAULT_BPS", "CASCADEBOT_ROYALTY_DEFAULT_BPS")
	env.setUint64(&cfg.Royalty.LargeBps, "LARGE_TX_BPS", "CASCADEBOT_ROYALTY_LARGE_BPS")

	// ── Dispatch ──
	env.setStr(&cfg.Dispatch.GasPriceGwei, "CASCADEBOT_DISPATCH_GAS_PRICE_GWEI")
	env.setStr(&cfg.Dispatch.SignalFields, "CASCADEBOT_DISPATCH_SIGNAL_FIELDS")
	env.setInt(&cfg.Dispatch.MaxInFlight, "CASCADEBOT_DISPATCH_MAX_INFLIGHT")
	env.setDuration(&cfg.Dispatch.UnitTimeout, "CASCADEBOT_DISPATCH_UNIT_TIMEOUT")
	env.setDuration(&cfg.Dispatch.CallTimeout, "CASCADEBOT_DISPATCH_CALL_TIMEOUT")

	// ── Dedup ──
	env.setStr(&cfg.Dedup.Backend, "CASCADEBOT_DEDUP_BACKEND")
	env.setStr(&cfg.Dedup.KeyPrefix, "CASCADEBOT_DEDUP_KEY_PREFIX")

	// ── Postgres ──
	env.setBool(&cfg.Postgres.Enabled, "CASCADEBOT_POSTGRES_ENABLED")
	env.setStr(&cfg.Postgres.DSN, "DATABASE_URL", "CASCADEBOT_POSTGRES_DSN")
	env.setStr(&cfg.Postgres.Host, "CASCADEBOT_POSTGRES_HOST")
	env.setInt(&cfg.Postgres.Port, "CASCADEBOT_POSTGRES_PORT")
	env.setStr(&cfg.Postgres.Database, "CASCADEBOT_POSTGRES_DATABASE")
	env.setStr(&cfg.Postgres.User, "CASCADEBOT_POSTGRES_USER")
	env.setStr(&cfg.Postgres.Password, "CASCADEBOT_POSTGRES_PASSWORD")
	env.setStr(&cfg.Postgres.SSLMode, "CASCADEBOT_POSTGRES_SSL_MODE")
	env.setInt(&cfg.Postgres.PoolMaxConns, "CASCADEBOT_POSTGRES_POOL_MAX_CONNS")
	env.setInt(&cfg.Postgres.PoolMinConns, "CASCADEBOT_POSTGRES_POOL_MIN_CONNS")
	env.setBool(&cfg.Postgres.RunMigrations, "CASCADEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	env.setBool(&cfg.Redis.Enabled, "CASCADEBOT_REDIS_ENABLED")
	env.setStr(&cfg.Redis.Addr, "CASCADEBOT_REDIS_ADDR")
	env.setStr(&cfg.Redis.Password, "CASCADEBOT_REDIS_PASSWORD")
	env.setInt(&cfg.Redis.DB, "CASCADEBOT_REDIS_DB")
	env.setInt(&cfg.Redis.PoolSize, "CASCADEBOT_REDIS_POOL_SIZE")
	env.setBool(&cfg.Redis.TLSEnabled, "CASCADEBOT_REDIS_TLS_ENABLED")
	env.setStr(&cfg.Redis.EventChannel, "CASCADEBOT_REDIS_EVENT_CHANNEL")

	// ── S3 ──
	env.setStr(&cfg.S3.Endpoint, "CASCADEBOT_S3_ENDPOINT")
	env.setStr(&cfg.S3.Region, "CASCADEBOT_S3_REGION")
	env.setStr(&cfg.S3.Bucket, "CASCADEBOT_S3_BUCKET")
	env.setStr(&cfg.S3.AccessKey, "CASCADEBOT_S3_ACCESS_KEY")
	env.setStr(&cfg.S3.SecretKey, "CASCADEBOT_S3_SECRET_KEY")
	env.setBool(&cfg.S3.UseSSL, "CASCADEBOT_S3_USE_SSL")
	env.setBool(&cfg.S3.ForcePathStyle, "CASCADEBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	env.setBool(&cfg.Archive.Enabled, "CASCADEBOT_ARCHIVE_ENABLED")
	env.setDuration(&cfg.Archive.Interval, "CASCADEBOT_ARCHIVE_INTERVAL")
	env.setInt(&cfg.Archive.RetentionDays, "CASCADEBOT_ARCHIVE_RETENTION_DAYS")

	// ── Kafka ──
	env.setBool(&cfg.Kafka.Enabled, "CASCADEBOT_KAFKA_ENABLED")
	env.setStringSlice(&cfg.Kafka.Brokers, "CASCADEBOT_KAFKA_BROKERS")
	env.setStr(&cfg.Kafka.Topic, "CASCADEBOT_KAFKA_TOPIC")

	// ── Server ──
	env.setBool(&cfg.Server.Enabled, "CASCADEBOT_SERVER_ENABLED")
	env.setInt(&cfg.Server.Port, "CASCADEBOT_SERVER_PORT")
	env.setStringSlice(&cfg.Server.CORSOrigins, "CASCADEBOT_SERVER_CORS_ORIGINS")
	env.setStr(&cfg.Server.APIKey, "CASCADEBOT_SERVER_API_KEY")

	// ── Notify ──
	env.setStr(&cfg.Notify.TelegramToken, "CASCADEBOT_NOTIFY_TELEGRAM_TOKEN")
	env.setStr(&cfg.Notify.TelegramChatID, "CASCADEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	env.setStr(&cfg.Notify.DiscordWebhookURL, "CASCADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	env.setStr(&cfg.Notify.WebhookURL, "CASCADEBOT_NOTIFY_WEBHOOK_URL")
	env.setStr(&cfg.Notify.WebhookSecret, "CASCADEBOT_NOTIFY_WEBHOOK_SECRET")
	env.setStringSlice(&cfg.Notify.Events, "CASCADEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	env.setStr(&cfg.Mode, "CASCADEBOT_MODE")
	env.setStr(&cfg.LogLevel, "CASCADEBOT_LOG_LEVEL")

	return env.err()
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Keys are tried in order and each one that is present
// and non-empty overwrites the target, so the last key has the highest
// precedence. A value that does not parse leaves the target untouched and is
// recorded as an error.
// ---------------------------------------------------------------------------

type envReader struct {
	errs []string
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: environment:\n  - %s", domain.ErrInvalidConfig, strings.Join(e.errs, "\n  - "))
}

func (e *envReader) lookup(keys []string, apply func(string) error) {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if err := apply(v); err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s=%q: %v", k, v, err))
		}
	}
}

func (e *envReader) setStr(dst *string, keys ...string) {
	e.lookup(keys, func(v string) error {
		*dst = v
		return nil
	})
}

func (e *envReader) setInt(dst *int, keys ...string) {
	e.lookup(keys, func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("not an integer")
		}
		*dst = n
		return nil
	})
}

func (e *envReader) setInt64(dst *int64, keys ...string) {
	e.lookup(keys, func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New("not an integer")
		}
		*dst = n
		return nil
	})
}

func (e *envReader) setUint64(dst *uint64, keys ...string) {
	e.lookup(keys, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.New("not a non-negative integer")
		}
		*dst = n
		return nil
	})
}

func (e *envReader) setBool(dst *bool, keys ...string) {
	e.lookup(keys, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("not a boolean")
		}
		*dst = b
		return nil
	})
}

func (e *envReader) setDuration(dst *duration, keys ...string) {
	e.lookup(keys, func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.New("not a duration")
		}
		dst.Duration = d
		return nil
	})
}

func (e *envReader) setStringSlice(dst *[]string, keys ...string) {
	e.lookup(keys, func(v string) error {
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
		return nil
	})
}
