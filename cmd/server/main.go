package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
	grpcserver "github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/grpc"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/httpapi"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/outbox"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/retry"
	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// messageBroker relays change records and delivers account notifications.
type messageBroker interface {
	outbox.Broker
	outbox.Sink
	Close() error
}

func main() {
	cfg, cfgErr := config.Load()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Warn("invalid configuration values, using defaults", zap.Error(cfgErr))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("ledger-service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("failed to shut down tracer provider", zap.Error(err))
		}
	}()

	// Initialize database connection pool
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolConfig{
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connection pool initialized")

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(pool.Pool, logger); err != nil {
			return err
		}
	}

	// Create repositories
	accountRepo := db.NewAccountRepository(pool.Pool)
	transferRepo := db.NewTransferRepository(pool.Pool)
	outboxRepo := db.NewOutboxRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool, logger)

	probe := db.NewHistoricalReadProbe(pool.Pool, cfg.Session.HistoricalReads, logger)
	tuner := domain.NewSessionTuner(domain.SessionConfig{
		ApplicationName: cfg.Session.ApplicationName,
		HighPriority:    cfg.Session.HighPriority,
		EscalateOnRetry: cfg.Session.EscalateOnRetry,
		IdleTimeout:     cfg.Session.IdleTimeout,
		HistoricalRead:  cfg.Session.HistoricalReadSettings(),
	}, probe)

	coordinator := retry.NewCoordinator(txManager, tuner, db.Classifier{}, retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, retry.WithLogger(logger))

	engine := domain.NewTransferEngine(accountRepo, transferRepo, domain.EngineConfig{
		Idempotency: cfg.Engine.Idempotency,
		Locking:     cfg.Engine.Locking,
	})

	broker, err := newBroker(cfg.Outbox, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	throttle, closeThrottle := newThrottle(cfg.Outbox)
	defer closeThrottle()

	notifier := outbox.NewNotifier(broker, throttle, cfg.Outbox.NotifyTimeout, logger)
	defer notifier.Close()

	transferService := domain.NewTransferService(
		engine,
		coordinator,
		outbox.NewPublisher(outboxRepo),
		notifier,
		accountRepo,
		transferRepo,
		logger,
	)
	logger.Info("domain services initialized")

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(transferService, logger), pool.Ping),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := grpcserver.NewHealthServer(pool, 5*time.Second, logger)
	grpcServer := grpcserver.NewServer(healthServer)

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.Server.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return healthServer.Run(gctx)
	})

	if cfg.Outbox.RelayEnabled {
		relay := outbox.NewRelay(outboxRepo, broker, outbox.RelayConfig{
			Interval:  cfg.Outbox.Interval,
			BatchSize: cfg.Outbox.BatchSize,
		}, logger)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	// Wait for interrupt signal (or a failed component) to gracefully shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ledger-service stopped")
	return nil
}

func newBroker(cfg config.OutboxConfig, logger *zap.Logger) (messageBroker, error) {
	switch cfg.Broker {
	case config.BrokerNATS:
		client, err := outbox.NewNATSClient(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using NATS broker", zap.String("url", cfg.NATSURL))
		return client, nil
	default:
		broker, err := outbox.NewAMQPBroker(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		logger.Info("using RabbitMQ broker", zap.String("exchange", cfg.AMQPExchange))
		return broker, nil
	}
}

func newThrottle(cfg config.OutboxConfig) (outbox.Throttle, func()) {
	if cfg.ThrottleKind == config.ThrottleRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return outbox.NewRedisThrottle(client, cfg.RedisThreshold, cfg.NotifyEvery), func() { _ = client.Close() }
	}
	return outbox.NewLocalThrottle(cfg.NotifyEvery, cfg.NotifyBurst), func() {}
}
