package domain

// Status is the persisted life-cycle state of a processing job. Jobs only
// move forward through the pipeline; the sole backward-looking edge is into
// StatusFailed, which is reachable from every state except StatusCompleted.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusUploaded       Status = "UPLOADED"
	StatusPoseQueued     Status = "POSE_QUEUED"
	StatusExtractingPose Status = "EXTRACTING_POSE"
	StatusPoseReady      Status = "POSE_READY"
	StatusRenderQueued   Status = "RENDER_QUEUED"
	StatusRendering      Status = "RENDERING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCleanedUp      Status = "CLEANED_UP"
)

// statusRank orders the forward pipeline. FAILED and CLEANED_UP sit outside
// the linear order and are handled explicitly by CanTransition.
var statusRank = map[Status]int{
	StatusPending:        0,
	StatusUploaded:       1,
	StatusPoseQueued:     2,
	StatusExtractingPose: 3,
	StatusPoseReady:      4,
	StatusRenderQueued:   5,
	StatusRendering:      6,
	StatusCompleted:      7,
}

var statusLabels = map[Status]string{
	StatusPending:        "Pending Upload",
	StatusUploaded:       "Uploaded, Awaiting Pose Extraction",
	StatusPoseQueued:     "Pose Extraction Queued",
	StatusExtractingPose: "Extracting Pose Data",
	StatusPoseReady:      "Pose Data Generated, Awaiting Render",
	StatusRenderQueued:   "Render Queued",
	StatusRendering:      "Rendering Output Video",
	StatusCompleted:      "Processing Completed",
	StatusFailed:         "Processing Failed",
	StatusCleanedUp:      "Output Cleaned Up",
}

// Rank returns the position of s in the forward pipeline, or -1 for states
// outside the linear order (FAILED, CLEANED_UP, unknown).
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Label returns the human-readable description of s for status queries.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Terminal reports whether no executor may further mutate a job in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCleanedUp
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// CanTransition reports whether a job may move from one status to the next.
// Forward moves advance exactly one step along the pipeline. FAILED is
// reachable from anything that is not already terminal, and CLEANED_UP only
// follows COMPLETED.
func CanTransition(from, to Status) bool {
	switch {
	case to == StatusCleanedUp:
		return from == StatusCompleted
	case from.Terminal():
		return false
	case to == StatusFailed:
		return true
	default:
		fr, tr := from.Rank(), to.Rank()
		return fr >= 0 && tr >= 0 && tr == fr+1
	}
}
