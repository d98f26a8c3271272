package executor

import (
	"context"
	"log/slog"
)

// Resolver looks for reusable pose data from a prior job with the same
// input content and algorithm variant, so identical work is never computed
// twice. Reuse copies bytes rather than sharing a reference: duplicated
// bytes are acceptable, cross-job lifetime coupling is not.
type Resolver struct {
	jobs   JobStore
	blobs  BlobStore
	logger *slog.Logger
}

// NewResolver creates a new deduplication resolver.
func NewResolver(jobs JobStore, blobs BlobStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		jobs:   jobs,
		blobs:  blobs,
		logger: logger,
	}
}

// Resolve returns the pose data bytes of the best reuse candidate, or nil
// when the job must compute its own. Every failure degrades to a no-match:
// recomputation is idempotent and only costs time.
func (r *Resolver) Resolve(ctx context.Context, contentHash string, algorithmID int, excludeJobID string) []byte {
	candidate, err := r.jobs.FindPoseReuseCandidate(ctx, contentHash, algorithmID, excludeJobID)
	if err != nil {
		r.logger.Warn("Pose reuse lookup failed, falling back to computation",
			slog.String("content_hash", contentHash),
			slog.Int("pose_algorithm_id", algorithmID),
			slog.Any("error", err),
		)
		return nil
	}
	if candidate == nil || !candidate.HasPoseData() {
		return nil
	}

	data, err := r.blobs.Read(*candidate.PoseDataPath)
	if err != nil {
		// The source job's blob may have been purged since. Not fatal.
		r.logger.Warn("Reusable pose data unreadable, falling back to computation",
			slog.String("source_job_id", candidate.ID),
			slog.String("path", *candidate.PoseDataPath),
			slog.Any("error", err),
		)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	r.logger.Info("Reusing pose data from prior job",
		slog.String("source_job_id", candidate.ID),
		slog.String("content_hash", contentHash),
		slog.Int("pose_algorithm_id", algorithmID),
	)

	return data
}
