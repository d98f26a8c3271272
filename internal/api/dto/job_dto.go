package dto

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type ArtifactDTO struct {
	ArtifactID   string `json:"artifact_id"`
	ContentHash  string `json:"content_hash,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	MediaType    string `json:"media_type"`
	OriginalName string `json:"original_name"`
	CreatedAt    string `json:"created_at"`
}

type JobDTO struct {
	JobID                string       `json:"job_id"`
	Status               string       `json:"status"`
	StatusLabel          string       `json:"status_label"`
	PoseAlgorithmID      int          `json:"pose_algorithm_id"`
	PoseAlgorithmName    string       `json:"pose_algorithm_name"`
	InputArtifact        *ArtifactDTO `json:"input_artifact,omitempty"`
	PoseDataURL          string       `json:"pose_data_url,omitempty"`
	OutputRef            string       `json:"output_ref,omitempty"`
	OutputGeneratedAt    string       `json:"output_generated_at,omitempty"`
	ErrorDetail          string       `json:"error_detail,omitempty"`
	PoseDispatchHandle   string       `json:"pose_dispatch_handle,omitempty"`
	RenderDispatchHandle string       `json:"render_dispatch_handle,omitempty"`
	CreatedAt            string       `json:"created_at"`
	UpdatedAt            string       `json:"updated_at"`
}

type CreateJobResponse struct {
	Job          JobDTO `json:"job"`
	Deduplicated bool   `json:"deduplicated"`
}
