package executor

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

// memStore is an in-memory stand-in for the Postgres-backed stores. Its
// transition method enforces the same state-machine and locking semantics
// as the real job store: one mutex-guarded read-modify-write per change.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	artifacts map[string]*domain.Artifact

	failTransitions bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*domain.Job),
		artifacts: make(map[string]*domain.Artifact),
	}
}

func (s *memStore) addArtifact(hash string) *domain.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	art := &domain.Artifact{
		ID:          uuid.New().String(),
		ContentHash: &hash,
		SizeBytes:   int64(len(hash)),
		MediaType:   "video/mp4",
		StoragePath: path.Join("videos", uuid.New().String()+".mp4"),
		CreatedAt:   time.Now().UTC(),
	}
	s.artifacts[art.ID] = art
	return art
}

func (s *memStore) addJob(artifactID string, algorithmID int, status domain.Status) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &domain.Job{
		ID:              uuid.New().String(),
		Status:          status,
		InputArtifactID: &artifactID,
		PoseAlgorithmID: algorithmID,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return job
}

func (s *memStore) snapshot(jobID string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.jobs[jobID]
	return &cp
}

func (s *memStore) transition(jobID string, to domain.Status, apply func(*domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failTransitions {
		return nil, fmt.Errorf("store unreachable")
	}

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	if !domain.CanTransition(job.Status, to) {
		if job.Status.Terminal() || job.Status.Rank() >= to.Rank() {
			return nil, fmt.Errorf("%w: job %s is %s", domain.ErrStageAlreadyDone, jobID, job.Status)
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, to)
	}

	cp := *job
	cp.Status = to
	if apply != nil {
		apply(&cp)
	}
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = &cp

	out := cp
	return &out, nil
}

func (s *memStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) MarkQueued(_ context.Context, jobID string, stage domain.Stage) (*domain.Job, error) {
	return s.transition(jobID, stage.QueuedStatus(), nil)
}

func (s *memStore) ClaimStage(_ context.Context, jobID string, stage domain.Stage, handle string) (*domain.Job, error) {
	return s.transition(jobID, stage.ActiveStatus(), func(j *domain.Job) {
		if stage == domain.StageRender {
			j.RenderDispatchHandle = &handle
		} else {
			j.PoseDispatchHandle = &handle
		}
	})
}

func (s *memStore) AttachPoseData(_ context.Context, jobID, poseDataPath string) (*domain.Job, error) {
	return s.transition(jobID, domain.StatusPoseReady, func(j *domain.Job) {
		j.PoseDataPath = &poseDataPath
	})
}

func (s *memStore) CompleteRender(_ context.Context, jobID, outputRef string) (*domain.Job, error) {
	now := time.Now().UTC()
	return s.transition(jobID, domain.StatusCompleted, func(j *domain.Job) {
		j.OutputRef = &outputRef
		j.OutputGeneratedAt = &now
	})
}

func (s *memStore) MarkFailed(_ context.Context, jobID, detail string) (*domain.Job, error) {
	return s.transition(jobID, domain.StatusFailed, func(j *domain.Job) {
		j.ErrorDetail = &detail
	})
}

func (s *memStore) FindPoseReuseCandidate(_ context.Context, contentHash string, algorithmID int, excludeJobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reusable := map[domain.Status]bool{
		domain.StatusPoseReady:    true,
		domain.StatusRenderQueued: true,
		domain.StatusRendering:    true,
		domain.StatusCompleted:    true,
	}

	var best *domain.Job
	for _, job := range s.jobs {
		if job.ID == excludeJobID || !reusable[job.Status] || !job.HasPoseData() {
			continue
		}
		if job.InputArtifactID == nil || job.PoseAlgorithmID != algorithmID {
			continue
		}
		art, ok := s.artifacts[*job.InputArtifactID]
		if !ok || art.ContentHash == nil || *art.ContentHash != contentHash {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}

	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	art, ok := s.artifacts[id]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	cp := *art
	return &cp, nil
}

// memBlobs is an in-memory blob tier.
type memBlobs struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string][]byte)}
}

func (b *memBlobs) SavePoseData(jobID string, variant int, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.saveErr != nil {
		return "", b.saveErr
	}

	relPath := path.Join("posedata", fmt.Sprintf("%s_posedata_v%d.csv", jobID, variant))
	b.files[relPath] = append([]byte(nil), data...)
	return relPath, nil
}

func (b *memBlobs) Read(relPath string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.files[relPath]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", relPath)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlobs) Abs(relPath string) string {
	return "/blobs/" + relPath
}

func (b *memBlobs) drop(relPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, relPath)
}

// recordingDispatcher mimics the real dispatcher's status flip and records
// every published work item instead of touching a broker.
type recordingDispatcher struct {
	store *memStore

	mu       sync.Mutex
	enqueued []domain.StageMessage
}

func newRecordingDispatcher(store *memStore) *recordingDispatcher {
	return &recordingDispatcher{store: store}
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, jobID string, stage domain.Stage) error {
	if _, err := d.store.MarkQueued(ctx, jobID, stage); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueued = append(d.enqueued, domain.StageMessage{JobID: jobID, Stage: stage})
	return nil
}

// pop removes and returns the oldest undelivered stage message.
func (d *recordingDispatcher) pop() (domain.StageMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.enqueued) == 0 {
		return domain.StageMessage{}, false
	}
	msg := d.enqueued[0]
	d.enqueued = d.enqueued[1:]
	return msg, true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.enqueued)
}

// countingPoseEngine counts invocations of the external computation.
type countingPoseEngine struct {
	calls  int32
	data   []byte
	err    error
	onCall func()
}

func (e *countingPoseEngine) ExtractPose(context.Context, string) ([]byte, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.onCall != nil {
		e.onCall()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.data, nil
}

func (e *countingPoseEngine) Close() error { return nil }

func (e *countingPoseEngine) callCount() int {
	return int(atomic.LoadInt32(&e.calls))
}

// countingRenderEngine counts invocations of the external renderer.
type countingRenderEngine struct {
	calls int32
	ref   string
	err   error
}

func (e *countingRenderEngine) Render(context.Context, []byte, string) (string, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return "", e.err
	}
	return e.ref, nil
}

func (e *countingRenderEngine) callCount() int {
	return int(atomic.LoadInt32(&e.calls))
}
