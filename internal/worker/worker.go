package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
	"github.com/solsticelabs/posepipe/shared/rabbitmq"
)

// StageExecutor runs one delivery of a pipeline stage for a job. A nil
// return means the delivery is settled, whether the stage succeeded or the
// job was moved to its failed state.
type StageExecutor interface {
	Execute(ctx context.Context, jobID, handle string) error
}

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	RabbitClient   *rabbitmq.Client
	PoseExecutor   StageExecutor
	RenderExecutor StageExecutor
	Concurrency    int
	PrefetchCount  int
	JobTimeout     time.Duration
}

// Worker consumes stage messages from the queue and drives the pipeline
// executors.
type Worker struct {
	logger         *slog.Logger
	rabbitClient   *rabbitmq.Client
	poseExecutor   StageExecutor
	renderExecutor StageExecutor
	concurrency    int
	prefetchCount  int
	jobTimeout     time.Duration
	workerID       string

	msgChan  chan *domain.StageMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:         cfg.Logger,
		rabbitClient:   cfg.RabbitClient,
		poseExecutor:   cfg.PoseExecutor,
		renderExecutor: cfg.RenderExecutor,
		concurrency:    cfg.Concurrency,
		prefetchCount:  cfg.PrefetchCount,
		jobTimeout:     cfg.JobTimeout,
		workerID:       uuid.New().String()[:8],
		msgChan:        make(chan *domain.StageMessage),
		stopChan:       make(chan struct{}),
	}
}

// Start consumes stage messages until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// shouldRequeue decides the redelivery fate of a failed stage execution.
// Only transient infrastructure errors go back on the queue; a missing job
// row or any unclassified failure is dropped rather than cycled forever.
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrJobNotFound) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
