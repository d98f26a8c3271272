package domain

import "time"

// Stage identifies one of the two asynchronous pipeline stages.
type Stage string

const (
	StagePose   Stage = "pose"
	StageRender Stage = "render"
)

// QueuedStatus returns the status the dispatcher sets before publishing a
// work item for this stage.
func (s Stage) QueuedStatus() Status {
	if s == StageRender {
		return StatusRenderQueued
	}
	return StatusPoseQueued
}

// ActiveStatus returns the status an executor sets when it claims work for
// this stage.
func (s Stage) ActiveStatus() Status {
	if s == StageRender {
		return StatusRendering
	}
	return StatusExtractingPose
}

// Artifact is a content-addressed video blob record. At most one artifact
// exists per distinct content hash; the hash and the underlying bytes never
// change after the first successful write.
type Artifact struct {
	ID           string    `db:"id"`
	ContentHash  *string   `db:"content_hash"`
	SizeBytes    int64     `db:"size_bytes"`
	MediaType    string    `db:"media_type"`
	OriginalName string    `db:"original_name"`
	StoragePath  string    `db:"storage_path"`
	CreatedAt    time.Time `db:"created_at"`
}

// Job is the durable record of one processing job. The job store is the
// sole mutator; executors advance jobs through read-modify-write
// transactions and never hold a copy across an external computation call.
type Job struct {
	ID                   string     `db:"id"`
	Status               Status     `db:"status"`
	InputArtifactID      *string    `db:"input_artifact_id"`
	PoseAlgorithmID      int        `db:"pose_algorithm_id"`
	PoseDataPath         *string    `db:"pose_data_path"`
	OutputRef            *string    `db:"output_ref"`
	OutputGeneratedAt    *time.Time `db:"output_generated_at"`
	ErrorDetail          *string    `db:"error_detail"`
	PoseDispatchHandle   *string    `db:"pose_dispatch_handle"`
	RenderDispatchHandle *string    `db:"render_dispatch_handle"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// HasPoseData reports whether the stage-1 output has been persisted and
// referenced on the job.
func (j *Job) HasPoseData() bool {
	return j.PoseDataPath != nil && *j.PoseDataPath != ""
}
