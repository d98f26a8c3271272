package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// JobQueuer flips a job into a stage's queued status under the job store's
// locking discipline.
type JobQueuer interface {
	MarkQueued(ctx context.Context, jobID string, stage domain.Stage) (*domain.Job, error)
}

// Publisher delivers a work item to the asynchronous queue. Delivery is
// at-least-once; consumers must tolerate redelivery.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dispatcher enqueues stage-executor invocations. The queued status is
// written before the message is handed to the broker, so a consumed message
// always finds the job at (or past) its stage's queued state.
type Dispatcher struct {
	jobs      JobQueuer
	publisher Publisher
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(jobs JobQueuer, publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
	}
}

// Enqueue atomically sets the job's queued status for the stage and
// publishes the work item. A job already at or past that status yields
// domain.ErrStageAlreadyDone and nothing is published; callers running an
// idempotent retry treat that as success. A publish failure after the
// status flip leaves the job observable in its queued state.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string, stage domain.Stage) error {
	if _, err := d.jobs.MarkQueued(ctx, jobID, stage); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyDone) {
			d.logger.Debug("Job already queued or past this stage, not publishing",
				slog.String("job_id", jobID),
				slog.String("stage", string(stage)),
			)
		}
		return err
	}

	body, err := json.Marshal(domain.StageMessage{JobID: jobID, Stage: stage})
	if err != nil {
		return fmt.Errorf("failed to marshal stage message: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		d.logger.Error("Failed to publish stage message; job remains queued",
			slog.String("job_id", jobID),
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to publish stage message: %w", err))
	}

	d.logger.Info("Stage dispatched",
		slog.String("job_id", jobID),
		slog.String("stage", string(stage)),
	)

	return nil
}
