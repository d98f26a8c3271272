package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// RenderExecutor runs the second pipeline stage: generate the derived
// armature video from the job's pose data and its original input video.
type RenderExecutor struct {
	jobs      JobStore
	artifacts ArtifactStore
	blobs     BlobStore
	engine    RenderEngine
	logger    *slog.Logger
}

// NewRenderExecutor creates a new rendering executor.
func NewRenderExecutor(jobs JobStore, artifacts ArtifactStore, blobs BlobStore, engine RenderEngine, logger *slog.Logger) *RenderExecutor {
	return &RenderExecutor{
		jobs:      jobs,
		artifacts: artifacts,
		blobs:     blobs,
		engine:    engine,
		logger:    logger,
	}
}

// Execute processes one delivery for the render stage. Redelivery of a job
// already rendering or completed is a clean no-op.
func (e *RenderExecutor) Execute(ctx context.Context, jobID, handle string) error {
	job, err := e.jobs.ClaimStage(ctx, jobID, domain.StageRender, handle)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStageAlreadyDone):
			e.logger.Info("Render stage redelivered for already-advanced job, no work to do",
				slog.String("job_id", jobID),
			)
			return nil
		case errors.Is(err, domain.ErrJobNotFound):
			return err
		default:
			return domain.NewRetryableError(fmt.Errorf("failed to claim render stage: %w", err))
		}
	}

	e.logger.Info("Render started",
		slog.String("job_id", job.ID),
	)

	if !job.HasPoseData() {
		failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: intermediate pose data missing for render", domain.ErrMissingPrecondition))
		return nil
	}

	poseData, err := e.blobs.Read(*job.PoseDataPath)
	if err != nil {
		failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: pose data unreadable: %v", domain.ErrMissingPrecondition, err))
		return nil
	}

	if job.InputArtifactID == nil || *job.InputArtifactID == "" {
		failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: input video not associated with the job", domain.ErrMissingPrecondition))
		return nil
	}

	art, err := e.artifacts.GetByID(ctx, *job.InputArtifactID)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: input artifact %s missing", domain.ErrMissingPrecondition, *job.InputArtifactID))
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load input artifact: %w", err))
	}

	outputRef, err := e.engine.Render(ctx, poseData, e.blobs.Abs(art.StoragePath))
	if err != nil {
		failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: %v", domain.ErrStageComputationFailed, err))
		return nil
	}

	if _, err := e.jobs.CompleteRender(ctx, job.ID, outputRef); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyDone) {
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record render output on job: %w", err))
	}

	e.logger.Info("Render completed",
		slog.String("job_id", job.ID),
		slog.String("output_ref", outputRef),
	)

	return nil
}
