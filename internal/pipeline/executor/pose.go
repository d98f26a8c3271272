package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// PoseExecutor runs the first pipeline stage: extract tabular pose data
// from the input video, reusing a prior job's result when possible, then
// hand the job to the render stage.
type PoseExecutor struct {
	jobs       JobStore
	artifacts  ArtifactStore
	blobs      BlobStore
	resolver   *Resolver
	engines    *EnginePool
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewPoseExecutor creates a new pose-extraction executor.
func NewPoseExecutor(jobs JobStore, artifacts ArtifactStore, blobs BlobStore, resolver *Resolver, engines *EnginePool, dispatcher Dispatcher, logger *slog.Logger) *PoseExecutor {
	return &PoseExecutor{
		jobs:       jobs,
		artifacts:  artifacts,
		blobs:      blobs,
		resolver:   resolver,
		engines:    engines,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute processes one delivery for the pose stage. Delivery is
// at-least-once, so redelivery of an already-advanced job exits without
// side effects; the one piece of recovery it performs is re-dispatching the
// render stage when a previous invocation crashed between persisting pose
// data and enqueueing stage two.
func (e *PoseExecutor) Execute(ctx context.Context, jobID, handle string) error {
	job, err := e.jobs.ClaimStage(ctx, jobID, domain.StagePose, handle)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStageAlreadyDone):
			return e.resumeAfterRedelivery(ctx, jobID)
		case errors.Is(err, domain.ErrJobNotFound):
			return err
		default:
			return domain.NewRetryableError(fmt.Errorf("failed to claim pose stage: %w", err))
		}
	}

	e.logger.Info("Pose extraction started",
		slog.String("job_id", job.ID),
		slog.Int("pose_algorithm_id", job.PoseAlgorithmID),
	)

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

	var poseData []byte
	if art.ContentHash != nil && *art.ContentHash != "" {
		poseData = e.resolver.Resolve(ctx, *art.ContentHash, job.PoseAlgorithmID, job.ID)
	}

	if poseData == nil {
		engine, err := e.engines.Get(job.PoseAlgorithmID)
		if err != nil {
			failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: %v", domain.ErrStageComputationFailed, err))
			return nil
		}

		poseData, err = engine.ExtractPose(ctx, e.blobs.Abs(art.StoragePath))
		if err != nil {
			failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: %v", domain.ErrStageComputationFailed, err))
			return nil
		}
	}

	if len(poseData) == 0 {
		failJob(ctx, e.jobs, e.logger, job.ID, fmt.Sprintf("%s: pose data generation produced no output", domain.ErrStageComputationFailed))
		return nil
	}

	poseDataPath, err := e.blobs.SavePoseData(job.ID, job.PoseAlgorithmID, poseData)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to persist pose data: %w", err))
	}

	if _, err := e.jobs.AttachPoseData(ctx, job.ID, poseDataPath); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyDone) {
			// Another delivery beat us to it; its result stands.
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record pose data on job: %w", err))
	}

	e.logger.Info("Pose extraction completed",
		slog.String("job_id", job.ID),
		slog.String("pose_data_path", poseDataPath),
	)

	return e.enqueueRender(ctx, job.ID)
}

// resumeAfterRedelivery handles a delivery for a job already at or past
// EXTRACTING_POSE. Almost always a pure no-op; the exception is a job
// sitting in POSE_READY whose render dispatch was lost, which gets
// re-enqueued here.
func (e *PoseExecutor) resumeAfterRedelivery(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to re-read job on redelivery: %w", err))
	}

	e.logger.Info("Pose stage redelivered for already-advanced job, no work to do",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
	)

	if job.Status == domain.StatusPoseReady {
		return e.enqueueRender(ctx, jobID)
	}

	return nil
}

func (e *PoseExecutor) enqueueRender(ctx context.Context, jobID string) error {
	if err := e.dispatcher.Enqueue(ctx, jobID, domain.StageRender); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyDone) {
			return nil
		}
		var retryable *domain.RetryableError
		if errors.As(err, &retryable) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to enqueue render stage: %w", err))
	}
	return nil
}
