package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solsticelabs/posepipe/internal/config"
	"github.com/solsticelabs/posepipe/internal/pipeline/artifact"
	"github.com/solsticelabs/posepipe/internal/pipeline/dispatch"
	"github.com/solsticelabs/posepipe/internal/pipeline/executor"
	"github.com/solsticelabs/posepipe/internal/pipeline/jobstore"
	"github.com/solsticelabs/posepipe/internal/worker"
	"github.com/solsticelabs/posepipe/shared/logger"
	"github.com/solsticelabs/posepipe/shared/postgresql"
	"github.com/solsticelabs/posepipe/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	blobs, err := artifact.NewBlobStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	artifacts := artifact.NewStore(dbClient, blobs, appLogger.Logger)
	jobs := jobstore.NewStorage(dbClient, appLogger.Logger)
	dispatcher := dispatch.NewDispatcher(jobs, rabbitClient, appLogger.Logger)

	enginePool := executor.NewEnginePool(func(variant int) (executor.PoseEngine, error) {
		return executor.NewCommandPoseEngine(cfg.Engine.PoseCommand, variant)
	})
	defer func() {
		if err := enginePool.Close(); err != nil {
			appLogger.Error("Failed to release pose engines",
				slog.Any("error", err),
			)
		}
	}()

	renderEngine := executor.NewCommandRenderEngine(cfg.Engine.RenderCommand, blobs.OutputsDir())
	resolver := executor.NewResolver(jobs, blobs, appLogger.Logger)

	poseExecutor := executor.NewPoseExecutor(jobs, artifacts, blobs, resolver, enginePool, dispatcher, appLogger.Logger)
	renderExecutor := executor.NewRenderExecutor(jobs, artifacts, blobs, renderEngine, appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:         appLogger.Logger,
		RabbitClient:   rabbitClient,
		PoseExecutor:   poseExecutor,
		RenderExecutor: renderExecutor,
		Concurrency:    cfg.Worker.Concurrency,
		PrefetchCount:  cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:     cfg.Worker.JobTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	dbClient.Close()
	rabbitClient.Close()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}, logger)
}
