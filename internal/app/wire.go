package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/cascadebot/internal/blob/s3"
	"github.com/alanyoungcy/cascadebot/internal/cache/redis"
	"github.com/alanyoungcy/cascadebot/internal/chain"
	"github.com/alanyoungcy/cascadebot/internal/config"
	"github.com/alanyoungcy/cascadebot/internal/crypto"
	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
	"github.com/alanyoungcy/cascadebot/internal/notify"
	"github.com/alanyoungcy/cascadebot/internal/store/postgres"
	"github.com/alanyoungcy/cascadebot/internal/stream/kafka"
)

const (
	metricsNamespace = "cascadebot"
	lockPrefix       = "cascadebot:lock:"
	eventLogSuffix   = ":log"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when disabled in the configuration.
type Dependencies struct {
	Chain           *chain.Client
	Contract        domain.ContractInvoker
	ContractAddress common.Address
	Seen            domain.SeenSet
	Metrics         *metrics.Metrics

	// Postgres
	Postgres    *postgres.Client
	SignalStore domain.SignalStore
	AuditStore  *postgres.AuditStore

	// Redis
	Redis       *redis.Client
	SignalBus   domain.SignalBus
	EventLog    domain.EventLog
	LockManager domain.LockManager

	// Archive
	S3       *s3blob.Client
	Archiver domain.Archiver

	Kafka    *kafka.Sink
	Notifier *notify.Notifier
}

// Wire constructs every dependency enabled by cfg and returns them with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics:         metrics.New(metricsNamespace),
		ContractAddress: cfg.ContractAddress(),
	}

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	closers = append(closers, client.Close)
	deps.Chain = client

	contract, err := wireContract(cfg, client, logger)
	if err != nil {
		return fail(err)
	}
	deps.Contract = contract

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		deps.Postgres = pgClient
		deps.SignalStore = postgres.NewSignalStore(pgClient.Pool())
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.EventLog = redis.NewEventLog(redisClient, cfg.Redis.EventChannel+eventLogSuffix)
		deps.LockManager = redis.NewLockManager(redisClient, lockPrefix)
	}

	// --- Seen set ---
	local := executor.NewMemorySeenSet()
	deps.Seen = local
	if cfg.Dedup.Backend == config.DedupRedis {
		if deps.Redis == nil {
			return fail(fmt.Errorf("wire: dedup backend redis requires redis.enabled"))
		}
		shared := redis.NewSeenSet(deps.Redis, cfg.Dedup.KeyPrefix)
		deps.Seen = executor.NewLayeredSeenSet(local, shared, logger)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		if deps.SignalStore != nil {
			deps.Archiver = s3blob.NewSignalArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.SignalStore,
				s3blob.DefaultBatchSize,
				logger,
			)
		}
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		sink, err := kafka.NewSink(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = sink.Close() })
		deps.Kafka = sink
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	return redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		TLSEnabled: cfg.TLSEnabled,
	})
}

// NewS3Client builds the archive bucket client.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3blob.Client, error) {
	return s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		UseSSL:         cfg.UseSSL,
		ForcePathStyle: cfg.ForcePathStyle,
	})
}

// wireContract returns the live contract in watch mode and a logging stand-in
// in dryrun mode.
func wireContract(cfg *config.Config, client *chain.Client, logger *slog.Logger) (domain.ContractInvoker, error) {
	parsed, err := chain.LoadABI(cfg.Contract.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	address := cfg.ContractAddress()

	if cfg.Mode == config.ModeDryRun {
		return chain.NewDryRunContract(address, parsed, logger), nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeystorePath:     cfg.Wallet.KeystorePath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: wallet: %w", err)
	}
	signer := crypto.NewTxSigner(key, client.ChainID())
	logger.Info("wallet loaded", slog.String("address", signer.From().Hex()))

	return chain.NewContract(address, parsed, client.Backend(), signer, logger,
		chain.WithGasMargin(uint64(cfg.Contract.GasMarginPct)),
	), nil
}

func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return senders
}
