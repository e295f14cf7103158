package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/johndpope/erc20bet/internal/blob/s3"
	"github.com/johndpope/erc20bet/internal/cache/redis"
	"github.com/johndpope/erc20bet/internal/chain"
	"github.com/johndpope/erc20bet/internal/config"
	"github.com/johndpope/erc20bet/internal/crypto"
	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/notify"
	"github.com/johndpope/erc20bet/internal/server/handler"
	"github.com/johndpope/erc20bet/internal/store/postgres"
)

// Dependencies bundles every dependency the server mode needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	BetStore   domain.BetStore
	GameStore  domain.GameStore
	AuditStore domain.AuditStore

	// Caches
	GameCache   domain.GameCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Cursors     domain.CursorStore

	// Blob storage
	Archive domain.ProofArchive

	// Ledger
	Ledger   *chain.Client
	Exchange *chain.Exchange

	// House wallet; nil when no key is configured.
	House *crypto.Signer

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- House wallet ---
	if cfg.Wallet.Configured() {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet", err)
		}
		deps.House = signer
		logger.InfoContext(ctx, "house wallet loaded", slog.String("address", signer.Address().Hex()))
	}

	// --- Ledger ---
	ledger, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ExchangeAddress: common.HexToAddress(cfg.Chain.ExchangeAddress),
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, ledger.Close)
	deps.Ledger = ledger
	deps.Exchange = ledger.Exchange()
	deps.Health["chain"] = ledger.Health

	// --- PostgreSQL ---
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
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient.Health

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.BetStore = postgres.NewBetStore(pool)
	deps.GameStore = postgres.NewGameStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Health["redis"] = redisClient.Health

	deps.GameCache = redis.NewGameCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Cursors = redis.NewCursorStore(redisClient)

	// --- S3 proof archive ---
	s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		Bucket:         cfg.S3.Bucket,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		UseSSL:         cfg.S3.UseSSL,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return fail("s3", err)
	}
	deps.Health["s3"] = s3Client.Health
	deps.Archive = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
