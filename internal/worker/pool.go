package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.msgChan:
			if !ok {
				return
			}

			w.logger.Info("Worker received stage message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("stage", string(msg.Stage)),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.processMessage(ctx, workerName, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
				)
				continue
			}

			if err != nil {
				requeue := w.shouldRequeue(err)
				w.logger.Error("Stage processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("stage", string(msg.Stage)),
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)
				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			} else {
				w.logger.Info("Stage message settled",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("stage", string(msg.Stage)),
				)
			}
		}
	}
}

// processMessage routes a stage message to its executor under the job
// timeout. The dispatch handle identifies this delivery attempt in the job
// row for debugging redeliveries.
func (w *Worker) processMessage(ctx context.Context, workerName string, msg *domain.StageMessage) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	handle := fmt.Sprintf("%s:%d", workerName, msg.DeliveryTag)

	switch msg.Stage {
	case domain.StagePose:
		return w.poseExecutor.Execute(jobCtx, msg.JobID, handle)
	case domain.StageRender:
		return w.renderExecutor.Execute(jobCtx, msg.JobID, handle)
	default:
		// The dispatcher filters unknown stages before they reach the pool.
		return fmt.Errorf("unknown stage %q", msg.Stage)
	}
}
