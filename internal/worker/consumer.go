package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// setupConsumer sets up the RabbitMQ consumer with QoS and returns the
// delivery channel.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// Per-consumer prefetch keeps one slow render from starving the rest
	// of the pool.
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("worker_id", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher reads broker deliveries, validates them and hands
// them to the worker pool. It blocks until the context is canceled, which
// returns nil, or the delivery channel closes, which is an error: the
// worker can no longer make progress and the process should exit so it can
// be restarted.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return fmt.Errorf("rabbitmq delivery channel closed")
			}

			var msg domain.StageMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages can never succeed, drop without requeue.
				w.nackDelivery(delivery, false)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Invalid job_id in message",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				w.nackDelivery(delivery, false)
				continue
			}

			if msg.Stage != domain.StagePose && msg.Stage != domain.StageRender {
				w.logger.Error("Unknown stage in message",
					slog.String("job_id", msg.JobID),
					slog.String("stage", string(msg.Stage)),
				)
				w.nackDelivery(delivery, false)
				continue
			}

			msg.DeliveryTag = delivery.DeliveryTag

			select {
			case w.msgChan <- &msg:
				w.logger.Debug("Stage message dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.String("stage", string(msg.Stage)),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching")
				// Put the in-flight message back for another worker.
				w.nackDelivery(delivery, true)
				return nil
			}
		}
	}
}

func (w *Worker) nackDelivery(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
