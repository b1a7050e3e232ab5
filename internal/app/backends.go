// Package app opens the storage and transport backends both services share.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/vanity-farm/internal/config"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/queue"
	"github.com/cuongbtq/vanity-farm/shared/postgresql"
	"github.com/cuongbtq/vanity-farm/shared/rabbitmq"
	"github.com/cuongbtq/vanity-farm/shared/redisclient"
)

// Backends is the job ledger and queue selected by configuration, plus the
// connections behind them.
type Backends struct {
	Ledger ledger.Ledger
	Queue  queue.Queue

	redis  *redis.Client
	db     *postgresql.Client
	rabbit *rabbitmq.Client
	logger *slog.Logger
}

// Open connects to whatever cfg.Ledger and cfg.Queue name. On error every connection
// already made is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Backends, err error) {
	b := &Backends{logger: logger}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	opts := ledger.Options{
		ResultTTL: cfg.Ledger.ResultTTL,
		RecordTTL: cfg.Ledger.RecordTTL,
	}

	if cfg.Ledger.Backend == config.BackendRedis || cfg.Queue.Backend == config.BackendRedis {
		b.redis, err = InitRedis(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		logger.Info("Redis connection established")
	}

	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		b.Ledger = ledger.NewMemoryLedger(opts)
	case config.BackendRedis:
		b.Ledger = ledger.NewRedisLedger(b.redis, opts)
	case config.BackendPostgres:
		b.db, err = InitPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		logger.Info("Database connection established")

		pg := ledger.NewPostgresLedger(b.db.DB(), opts, logger)
		if cfg.Ledger.Migrate {
			if err = pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		b.Ledger = pg
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}

	switch cfg.Queue.Backend {
	case config.BackendMemory:
		b.Queue = queue.NewMemoryQueue()
	case config.BackendRedis:
		b.Queue = queue.NewRedisQueue(b.redis, cfg.Queue.Name, logger)
	case config.BackendRabbitMQ:
		b.rabbit, err = InitRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		logger.Info("RabbitMQ connection established")

		b.Queue = queue.NewRabbitQueue(b.rabbit, cfg.RabbitMQ.Consumer.Tag, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend: %q", cfg.Queue.Backend)
	}

	logger.Info("Backends ready",
		slog.String("ledger", cfg.Ledger.Backend),
		slog.String("queue", cfg.Queue.Backend),
	)
	return b, nil
}

// RecoverInFlight puts messages a crashed consumer left unacknowledged back on the
// queue. Only the Redis queue keeps such messages; for the others it is a no-op.
func (b *Backends) RecoverInFlight(ctx context.Context) (int, error) {
	rq, ok := b.Queue.(*queue.RedisQueue)
	if !ok {
		return 0, nil
	}
	n, err := rq.Recover(ctx)
	if n > 0 {
		b.logger.Warn("Requeued unacknowledged jobs", slog.Int("count", n))
	}
	return n, err
}

// PurgeExpired sweeps expired results out of a ledger that does not expire them
// itself, every interval until ctx is done. It returns at once for other ledgers.
func (b *Backends) PurgeExpired(ctx context.Context, every time.Duration) {
	purger, ok := b.Ledger.(ledger.Purger)
	if !ok || every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := purger.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("Failed to purge expired results", slog.Any("error", err))
			}
		}
	}
}

// HealthCheck pings every open connection.
func (b *Backends) HealthCheck(ctx context.Context) error {
	if b.redis != nil {
		if err := redisclient.HealthCheck(ctx, b.redis); err != nil {
			return err
		}
	}
	if b.db != nil {
		if err := b.db.HealthCheck(ctx); err != nil {
			return err
		}
	}
	if b.rabbit != nil && !b.rabbit.IsConnected() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}

// Close releases every connection.
func (b *Backends) Close() error {
	var errs []error
	switch {
	case b.Queue != nil:
		// the rabbitmq queue owns its client
		errs = append(errs, b.Queue.Close())
	case b.rabbit != nil:
		errs = append(errs, b.rabbit.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// InitRedis initializes the Redis client
func InitRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redisclient.NewClient(ctx, &redisclient.Config{
		URL:          cfg.URL,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		Prefetch:           cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
