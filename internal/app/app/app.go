package app

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"transferd/internal/app/config"
	"transferd/internal/app/consumer"
	"transferd/internal/app/identity"
	"transferd/internal/app/logger"
	"transferd/internal/app/queue"
	"transferd/internal/app/ratelimit"
	"transferd/internal/app/service/transaction"
	"transferd/internal/app/storage"
	"transferd/internal/app/storage/postgres"
	"transferd/pkg/bank"
)

type App struct {
	config       config.Config
	logger       logger.Logger
	db           *sql.DB
	rdb          *redis.Client
	broker       *queue.AMQP
	verifier     identity.Verifier
	limiter      *ratelimit.Limiter
	transactions storage.TransactionRepository
	limits       storage.LimitRepository
	service      *transaction.Service
	fraud        *consumer.Fraud
	settlement   *consumer.Settlement
}

func New(cfg config.Config, l logger.Logger, e embed.FS) (*App, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := applyMigrations(e, db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}

	transactions, err := postgres.NewTransactionRepository(db)
	if err != nil {
		return nil, fmt.Errorf("transaction repository init: %w", err)
	}

	limits, err := postgres.NewLimitRepository(db)
	if err != nil {
		return nil, fmt.Errorf("limit repository init: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	broker := queue.NewAMQP(cfg.Broker.URL)

	svc := transaction.New(db, transactions, limits, broker,
		transaction.WithDefaultDailyLimit(decimal.NewFromInt(cfg.Limits.DefaultDaily)),
		transaction.WithMinDailyLimit(decimal.NewFromInt(cfg.Limits.MinDaily)),
		transaction.WithQueues(cfg.Broker.FraudQueue, cfg.Broker.SettlementQueue),
	)

	settler, err := newSettler(cfg.Bank, l)
	if err != nil {
		return nil, fmt.Errorf("bank connector init: %w", err)
	}

	a := &App{
		config:       cfg,
		logger:       l,
		db:           db,
		rdb:          rdb,
		broker:       broker,
		transactions: transactions,
		limits:       limits,
		service:      svc,
		verifier: identity.NewJWKS(cfg.Auth.JWKSURL,
			identity.WithHTTPClient(&http.Client{Timeout: cfg.Auth.Timeout}),
			identity.WithCacheTTL(cfg.Auth.CacheTTL),
		),
		limiter:    ratelimit.New(rdb, cfg.Limits.RateLimit, cfg.Limits.RatePeriod),
		fraud:      consumer.NewFraud(svc, decimal.NewFromInt(cfg.Limits.FraudThreshold)),
		settlement: consumer.NewSettlement(svc, settler),
	}

	return a, nil
}

func newSettler(cfg config.BankConfig, l logger.Logger) (bank.Settler, error) {
	if cfg.RemoteURL == "" {
		l.Info().Msg("No bank remote configured, settlements auto-succeed")
		return &bank.Static{Settled: true}, nil
	}

	return bank.NewConnector(cfg.RemoteURL, bank.WithLogger(l.Logger))
}

// Start runs the fraud and settlement consumers, one long-lived worker per
// channel, until the context is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.broker.Consume(ctx, a.config.Broker.FraudQueue, a.fraud); err != nil && err != context.Canceled {
			a.logger.Error().Err(err).Msg("Fraud consumer stopped")
		}
	}()

	go func() {
		if err := a.broker.Consume(ctx, a.config.Broker.SettlementQueue, a.settlement); err != nil && err != context.Canceled {
			a.logger.Error().Err(err).Msg("Settlement consumer stopped")
		}
	}()
}

func (a *App) Stop() {
	a.logger.Info().Msg("Shutting down application")

	if err := a.broker.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Broker close failed")
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Redis close failed")
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("DB close failed")
	}
}
