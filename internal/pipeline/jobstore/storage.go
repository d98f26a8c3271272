package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
	"github.com/solsticelabs/posepipe/shared/postgresql"
)

const jobColumns = `id, status, input_artifact_id, pose_algorithm_id, pose_data_path,
		output_ref, output_generated_at, error_detail, pose_dispatch_handle,
		render_dispatch_handle, created_at, updated_at`

// Storage is the durable job store. It is the sole mutator of job rows:
// every status-bearing write goes through a row-locked read-modify-write
// transaction so two concurrent attempts to advance the same job cannot
// both succeed. Reads for display never lock.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateUploaded inserts a new job directly in UPLOADED with its input
// artifact attached. Creation and the PENDING -> UPLOADED step are a single
// atomic write; a job row never exists without its input reference.
func (s *Storage) CreateUploaded(ctx context.Context, job *domain.Job) error {
	if err := stampNew(job); err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, status, input_artifact_id, pose_algorithm_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.InputArtifactID,
		job.PoseAlgorithmID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("input_artifact_id", *job.InputArtifactID),
		slog.Int("pose_algorithm_id", job.PoseAlgorithmID),
	)

	return nil
}

// stampNew normalizes a freshly constructed job for its first insert. The
// store owns creation timestamps; callers never set them, and the insert
// supplies the columns explicitly so a zero value here would end up in the
// row.
func stampNew(job *domain.Job) error {
	if job.InputArtifactID == nil || *job.InputArtifactID == "" {
		return fmt.Errorf("%w: job requires an input artifact", domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	job.Status = domain.StatusUploaded
	job.CreatedAt = now
	job.UpdatedAt = now

	return nil
}

// GetJob retrieves a job without locking it.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// transition advances a job through one edge of the state machine. The row
// is locked for the duration of the transaction, the current status is
// re-read under the lock, and the edge is validated before anything is
// written. A job already at or past the target status yields
// ErrStageAlreadyDone so redelivered work can exit without side effects.
func (s *Storage) transition(ctx context.Context, jobID string, to domain.Status, apply func(*domain.Job)) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to lock job row: %w", err)
	}

	if !domain.CanTransition(job.Status, to) {
		if job.Status.Terminal() || job.Status.Rank() >= to.Rank() {
			return nil, fmt.Errorf("%w: job %s is %s", domain.ErrStageAlreadyDone, jobID, job.Status)
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, to)
	}

	job.Status = to
	if apply != nil {
		apply(&job)
	}
	job.UpdatedAt = time.Now().UTC()

	update := `
		UPDATE jobs
		SET status = $1,
		    pose_data_path = $2,
		    output_ref = $3,
		    output_generated_at = $4,
		    error_detail = $5,
		    pose_dispatch_handle = $6,
		    render_dispatch_handle = $7,
		    updated_at = $8
		WHERE id = $9
	`
	_, err = tx.ExecContext(ctx, update,
		job.Status,
		job.PoseDataPath,
		job.OutputRef,
		job.OutputGeneratedAt,
		job.ErrorDetail,
		job.PoseDispatchHandle,
		job.RenderDispatchHandle,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job transition: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	return &job, nil
}

// MarkQueued flips the job to the stage's queued status. The dispatcher
// calls this before handing the work item to the broker.
func (s *Storage) MarkQueued(ctx context.Context, jobID string, stage domain.Stage) (*domain.Job, error) {
	return s.transition(ctx, jobID, stage.QueuedStatus(), nil)
}

// ClaimStage moves a queued job into the stage's active status and records
// the dispatch handle, in one transaction. This is an executor's very first
// action: a crash before this point leaves the job safely re-dispatchable.
func (s *Storage) ClaimStage(ctx context.Context, jobID string, stage domain.Stage, handle string) (*domain.Job, error) {
	return s.transition(ctx, jobID, stage.ActiveStatus(), func(j *domain.Job) {
		if stage == domain.StageRender {
			j.RenderDispatchHandle = &handle
		} else {
			j.PoseDispatchHandle = &handle
		}
	})
}

// AttachPoseData records the durably persisted stage-1 output and flips the
// job to POSE_READY in the same transaction (write-then-flip).
func (s *Storage) AttachPoseData(ctx context.Context, jobID, poseDataPath string) (*domain.Job, error) {
	return s.transition(ctx, jobID, domain.StatusPoseReady, func(j *domain.Job) {
		j.PoseDataPath = &poseDataPath
	})
}

// CompleteRender records the final output reference and completes the job.
func (s *Storage) CompleteRender(ctx context.Context, jobID, outputRef string) (*domain.Job, error) {
	now := time.Now().UTC()
	return s.transition(ctx, jobID, domain.StatusCompleted, func(j *domain.Job) {
		j.OutputRef = &outputRef
		j.OutputGeneratedAt = &now
	})
}

// MarkFailed moves the job to FAILED with diagnostic detail. Terminal jobs
// are left untouched.
func (s *Storage) MarkFailed(ctx context.Context, jobID, detail string) (*domain.Job, error) {
	return s.transition(ctx, jobID, domain.StatusFailed, func(j *domain.Job) {
		j.ErrorDetail = &detail
	})
}

// FindPoseReuseCandidate looks for the most recent job whose input has the
// same content hash and algorithm variant and which is guaranteed to still
// hold pose data. Returns nil without error when there is no candidate.
func (s *Storage) FindPoseReuseCandidate(ctx context.Context, contentHash string, algorithmID int, excludeJobID string) (*domain.Job, error) {
	var job domain.Job
	query := `
		SELECT j.id, j.status, j.input_artifact_id, j.pose_algorithm_id, j.pose_data_path,
		       j.output_ref, j.output_generated_at, j.error_detail, j.pose_dispatch_handle,
		       j.render_dispatch_handle, j.created_at, j.updated_at
		FROM jobs j
		JOIN artifacts a ON a.id = j.input_artifact_id
		WHERE a.content_hash = $1
		  AND j.pose_algorithm_id = $2
		  AND j.status IN ($3, $4, $5, $6)
		  AND j.pose_data_path IS NOT NULL
		  AND j.pose_data_path <> ''
		  AND j.id <> $7
		ORDER BY j.created_at DESC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &job, query,
		contentHash,
		algorithmID,
		domain.StatusPoseReady,
		domain.StatusRenderQueued,
		domain.StatusRendering,
		domain.StatusCompleted,
		excludeJobID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query pose reuse candidate: %w", err)
	}

	return &job, nil
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position for paginated listing.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs ordered newest first; the extra
// row lets the caller detect a further page. Listing never locks.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
