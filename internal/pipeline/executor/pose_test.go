package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type poseFixture struct {
	store      *memStore
	blobs      *memBlobs
	dispatcher *recordingDispatcher
	engine     *countingPoseEngine
	exec       *PoseExecutor
}

func newPoseFixture(t *testing.T) *poseFixture {
	t.Helper()

	store := newMemStore()
	blobs := newMemBlobs()
	dispatcher := newRecordingDispatcher(store)
	engine := &countingPoseEngine{data: []byte("frame,x,y\n0,0.5,0.5\n")}
	logger := testLogger()

	pool := NewEnginePool(func(int) (PoseEngine, error) {
		return engine, nil
	})
	resolver := NewResolver(store, blobs, logger)

	return &poseFixture{
		store:      store,
		blobs:      blobs,
		dispatcher: dispatcher,
		engine:     engine,
		exec:       NewPoseExecutor(store, store, blobs, resolver, pool, dispatcher, logger),
	}
}

// queuedJob creates an artifact plus a job that has already been moved to
// POSE_QUEUED the way the dispatcher would.
func (f *poseFixture) queuedJob(t *testing.T, hash string, algorithmID int) *domain.Job {
	t.Helper()

	art := f.store.addArtifact(hash)
	job := f.store.addJob(art.ID, algorithmID, domain.StatusUploaded)
	_, err := f.store.MarkQueued(context.Background(), job.ID, domain.StagePose)
	require.NoError(t, err)
	return f.store.snapshot(job.ID)
}

func TestPoseExecutor_ComputesAndAdvances(t *testing.T) {
	f := newPoseFixture(t)
	job := f.queuedJob(t, "hash-a", domain.AlgorithmLite)

	err := f.exec.Execute(context.Background(), job.ID, "worker-1:1")
	require.NoError(t, err)

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusRenderQueued, got.Status, "render stage should be queued after pose success")
	require.NotNil(t, got.PoseDataPath)
	require.NotNil(t, got.PoseDispatchHandle)
	assert.Equal(t, "worker-1:1", *got.PoseDispatchHandle)

	data, err := f.blobs.Read(*got.PoseDataPath)
	require.NoError(t, err)
	assert.Equal(t, f.engine.data, data)

	assert.Equal(t, 1, f.engine.callCount())
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestPoseExecutor_ReusesPriorPoseData(t *testing.T) {
	f := newPoseFixture(t)

	// First job computes.
	first := f.queuedJob(t, "hash-shared", domain.AlgorithmFull)
	require.NoError(t, f.exec.Execute(context.Background(), first.ID, "worker-1:1"))
	require.Equal(t, 1, f.engine.callCount())

	// Second job with identical content and variant reuses.
	second := f.queuedJob(t, "hash-shared", domain.AlgorithmFull)
	require.NoError(t, f.exec.Execute(context.Background(), second.ID, "worker-1:2"))

	assert.Equal(t, 1, f.engine.callCount(), "reuse path must not invoke the pose computation")

	firstJob := f.store.snapshot(first.ID)
	secondJob := f.store.snapshot(second.ID)
	require.NotNil(t, secondJob.PoseDataPath)
	assert.NotEqual(t, *firstJob.PoseDataPath, *secondJob.PoseDataPath, "reuse copies bytes, never shares the blob")

	a, err := f.blobs.Read(*firstJob.PoseDataPath)
	require.NoError(t, err)
	b, err := f.blobs.Read(*secondJob.PoseDataPath)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPoseExecutor_DifferentVariantComputes(t *testing.T) {
	f := newPoseFixture(t)

	first := f.queuedJob(t, "hash-shared", domain.AlgorithmFull)
	require.NoError(t, f.exec.Execute(context.Background(), first.ID, "worker-1:1"))
	require.Equal(t, 1, f.engine.callCount())

	other := f.queuedJob(t, "hash-shared", domain.AlgorithmHeavy)
	require.NoError(t, f.exec.Execute(context.Background(), other.ID, "worker-1:2"))

	assert.Equal(t, 2, f.engine.callCount(), "a different variant must not reuse pose data")
}

func TestPoseExecutor_UnreadableCandidateFallsBack(t *testing.T) {
	f := newPoseFixture(t)

	first := f.queuedJob(t, "hash-shared", domain.AlgorithmLite)
	require.NoError(t, f.exec.Execute(context.Background(), first.ID, "worker-1:1"))

	// Simulate the source job's blob being purged.
	firstJob := f.store.snapshot(first.ID)
	f.blobs.drop(*firstJob.PoseDataPath)

	second := f.queuedJob(t, "hash-shared", domain.AlgorithmLite)
	err := f.exec.Execute(context.Background(), second.ID, "worker-1:2")
	require.NoError(t, err)

	assert.Equal(t, 2, f.engine.callCount(), "unreadable candidate must degrade to recomputation")
	secondJob := f.store.snapshot(second.ID)
	assert.Equal(t, domain.StatusRenderQueued, secondJob.Status)
}

func TestPoseExecutor_RedeliveryIsNoOp(t *testing.T) {
	f := newPoseFixture(t)
	job := f.queuedJob(t, "hash-a", domain.AlgorithmLite)

	require.NoError(t, f.exec.Execute(context.Background(), job.ID, "worker-1:1"))
	after := f.store.snapshot(job.ID)

	// Broker redelivers the same work item.
	require.NoError(t, f.exec.Execute(context.Background(), job.ID, "worker-2:9"))

	redelivered := f.store.snapshot(job.ID)
	assert.Equal(t, after.Status, redelivered.Status)
	assert.Equal(t, *after.PoseDataPath, *redelivered.PoseDataPath)
	assert.Equal(t, *after.PoseDispatchHandle, *redelivered.PoseDispatchHandle, "handle from the first claim stands")
	assert.Equal(t, 1, f.engine.callCount(), "no double-charge of the computation")
	assert.Equal(t, 1, f.dispatcher.count(), "render stage is not enqueued twice")
}

func TestPoseExecutor_RedeliveryResumesLostRenderDispatch(t *testing.T) {
	f := newPoseFixture(t)

	// Job crashed after persisting pose data but before enqueueing render:
	// it sits in POSE_READY.
	art := f.store.addArtifact("hash-a")
	job := f.store.addJob(art.ID, domain.AlgorithmLite, domain.StatusUploaded)
	ctx := context.Background()
	_, err := f.store.MarkQueued(ctx, job.ID, domain.StagePose)
	require.NoError(t, err)
	_, err = f.store.ClaimStage(ctx, job.ID, domain.StagePose, "worker-1:1")
	require.NoError(t, err)
	relPath, err := f.blobs.SavePoseData(job.ID, domain.AlgorithmLite, []byte("csv"))
	require.NoError(t, err)
	_, err = f.store.AttachPoseData(ctx, job.ID, relPath)
	require.NoError(t, err)

	require.NoError(t, f.exec.Execute(ctx, job.ID, "worker-2:7"))

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusRenderQueued, got.Status)
	assert.Equal(t, 0, f.engine.callCount())
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestPoseExecutor_ComputationFailureMarksFailed(t *testing.T) {
	f := newPoseFixture(t)
	f.engine.err = errors.New("landmark model exploded")
	job := f.queuedJob(t, "hash-a", domain.AlgorithmLite)

	err := f.exec.Execute(context.Background(), job.ID, "worker-1:1")
	require.NoError(t, err, "a terminal failure is handled, not propagated")

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "landmark model exploded")
	assert.Nil(t, got.PoseDataPath, "no intermediate reference on failure")
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestPoseExecutor_UnknownVariantMarksFailed(t *testing.T) {
	f := newPoseFixture(t)
	art := f.store.addArtifact("hash-a")
	job := f.store.addJob(art.ID, 99, domain.StatusUploaded)
	_, err := f.store.MarkQueued(context.Background(), job.ID, domain.StagePose)
	require.NoError(t, err)

	require.NoError(t, f.exec.Execute(context.Background(), job.ID, "worker-1:1"))

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "unknown pose algorithm")
	assert.Equal(t, 0, f.engine.callCount())
}

func TestPoseExecutor_MissingArtifactMarksFailed(t *testing.T) {
	f := newPoseFixture(t)
	job := f.store.addJob("no-such-artifact", domain.AlgorithmLite, domain.StatusUploaded)
	_, err := f.store.MarkQueued(context.Background(), job.ID, domain.StagePose)
	require.NoError(t, err)

	require.NoError(t, f.exec.Execute(context.Background(), job.ID, "worker-1:1"))

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "missing")
}

func TestPoseExecutor_JobNotFound(t *testing.T) {
	f := newPoseFixture(t)

	err := f.exec.Execute(context.Background(), "ghost-job", "worker-1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestPoseExecutor_StoreFailureDuringFailureRecording(t *testing.T) {
	f := newPoseFixture(t)
	job := f.queuedJob(t, "hash-a", domain.AlgorithmLite)

	// The computation fails and the store goes away with it: the failure
	// cannot be recorded and the job stays observable in its last state.
	f.engine.err = errors.New("boom")
	f.engine.onCall = func() {
		f.store.mu.Lock()
		f.store.failTransitions = true
		f.store.mu.Unlock()
	}

	require.NoError(t, f.exec.Execute(context.Background(), job.ID, "worker-1:1"))

	f.store.mu.Lock()
	f.store.failTransitions = false
	f.store.mu.Unlock()

	got := f.store.snapshot(job.ID)
	assert.Equal(t, domain.StatusExtractingPose, got.Status, "job stays stuck rather than silently lost")
	assert.Nil(t, got.ErrorDetail)
}
