package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// JobStore is the slice of the job store the stage executors mutate through.
// Every method advances (or refuses to advance) one job under the store's
// row-locking discipline.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimStage(ctx context.Context, jobID string, stage domain.Stage, handle string) (*domain.Job, error)
	AttachPoseData(ctx context.Context, jobID, poseDataPath string) (*domain.Job, error)
	CompleteRender(ctx context.Context, jobID, outputRef string) (*domain.Job, error)
	MarkFailed(ctx context.Context, jobID, detail string) (*domain.Job, error)
	FindPoseReuseCandidate(ctx context.Context, contentHash string, algorithmID int, excludeJobID string) (*domain.Job, error)
}

// ArtifactStore resolves artifact records for stage inputs.
type ArtifactStore interface {
	GetByID(ctx context.Context, id string) (*domain.Artifact, error)
}

// BlobStore is the slice of the blob tier the executors touch.
type BlobStore interface {
	SavePoseData(jobID string, variant int, data []byte) (string, error)
	Read(relPath string) ([]byte, error)
	Abs(relPath string) string
}

// Dispatcher enqueues the next pipeline stage.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, stage domain.Stage) error
}

// failJob converts a stage error into a terminal FAILED transition with the
// diagnostic preserved. A store failure during the conversion is logged and
// leaves the job in whatever state it last reached: a stuck job is
// observable through the status query, a lost failure record is not.
func failJob(ctx context.Context, jobs JobStore, logger *slog.Logger, jobID, detail string) {
	if _, err := jobs.MarkFailed(ctx, jobID, detail); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyDone) {
			logger.Warn("Job already terminal while recording failure",
				slog.String("job_id", jobID),
				slog.String("detail", detail),
			)
			return
		}
		logger.Error("Failed to record job failure; job left in last reached state",
			slog.String("job_id", jobID),
			slog.String("detail", detail),
			slog.Any("error", err),
		)
		return
	}

	logger.Info("Job marked FAILED",
		slog.String("job_id", jobID),
		slog.String("detail", detail),
	)
}
