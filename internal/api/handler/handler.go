package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
	"github.com/solsticelabs/posepipe/internal/pipeline/jobstore"
)

// JobStore is the slice of the job storage layer the HTTP surface uses.
type JobStore interface {
	CreateUploaded(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter jobstore.JobFilter) ([]domain.Job, error)
}

// ArtifactStore resolves uploads against the content-addressed artifact
// registry.
type ArtifactStore interface {
	ResolveOrCreate(ctx context.Context, r io.Reader, originalName string) (*domain.Artifact, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Artifact, error)
}

// BlobResolver maps stored relative blob paths to absolute filesystem paths
// for streaming responses.
type BlobResolver interface {
	Abs(relPath string) string
}

// Dispatcher hands a job's next stage to the asynchronous queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string, stage domain.Stage) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           JobStore
	Artifacts      ArtifactStore
	Blobs          BlobResolver
	Dispatcher     Dispatcher
	DB             DBChecker
	Broker         BrokerChecker
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobStore
	artifacts      ArtifactStore
	blobs          BlobResolver
	dispatcher     Dispatcher
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		artifacts:      deps.Artifacts,
		blobs:          deps.Blobs,
		dispatcher:     deps.Dispatcher,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
