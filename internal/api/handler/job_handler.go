package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solsticelabs/posepipe/internal/api/dto"
	"github.com/solsticelabs/posepipe/internal/pipeline/domain"
	"github.com/solsticelabs/posepipe/internal/pipeline/jobstore"
)

// CreateJob handles POST /api/v1/jobs
// Accepts a multipart video upload, resolves it against the artifact
// registry by content hash, creates the processing job and dispatches the
// pose extraction stage.
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	algorithmID := domain.AlgorithmLite
	if raw := c.PostForm("pose_algorithm_id"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || !domain.KnownAlgorithm(parsed) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "pose_algorithm_id must be one of the known variants",
			})
			return
		}
		algorithmID = parsed
	}

	fileHeader, err := c.FormFile("video_file")
	if err != nil {
		h.logger.Error("Missing video_file in upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "video_file is required",
		})
		return
	}

	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "uploaded file exceeds the size limit",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	defer file.Close()

	art, deduplicated, err := h.artifacts.ResolveOrCreate(c.Request.Context(), file, fileHeader.Filename)
	if err != nil {
		h.logger.Error("Failed to resolve artifact", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	job := &domain.Job{
		ID:              uuid.New().String(),
		InputArtifactID: &art.ID,
		PoseAlgorithmID: algorithmID,
	}
	if err := h.jobs.CreateUploaded(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if err := h.dispatcher.Enqueue(c.Request.Context(), job.ID, domain.StagePose); err != nil {
		h.logger.Error("Failed to dispatch pose extraction",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Job created but dispatch failed",
			"job_id": job.ID,
		})
		return
	}

	created, err := h.jobs.GetJob(c.Request.Context(), job.ID)
	if err != nil {
		h.logger.Error("Failed to reload created job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		Job:          h.toJobDTO(c, created),
		Deduplicated: deduplicated,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, h.toJobDTO(c, job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional status filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.Status(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), jobstore.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = h.toJobDTO(c, &jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&jobstore.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// DownloadPoseData handles GET /api/v1/jobs/:job_id/pose-data
// Streams the job's extracted pose data as a file attachment.
func (h *JobHandler) DownloadPoseData(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if !job.HasPoseData() {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job has no pose data yet",
		})
		return
	}

	c.FileAttachment(h.blobs.Abs(*job.PoseDataPath), path.Base(*job.PoseDataPath))
}

// DownloadArtifact handles GET /api/v1/artifacts/:artifact_id/download
// Streams the stored blob under its original upload name.
func (h *JobHandler) DownloadArtifact(c *gin.Context) {
	artifactID := c.Param("artifact_id")

	if _, err := uuid.Parse(artifactID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "artifact_id must be a valid UUID",
		})
		return
	}

	art, err := h.artifacts.GetByID(c.Request.Context(), artifactID)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Artifact not found",
			})
			return
		}
		h.logger.Error("Failed to get artifact", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get artifact",
		})
		return
	}

	name := art.OriginalName
	if name == "" {
		name = path.Base(art.StoragePath)
	}
	c.FileAttachment(h.blobs.Abs(art.StoragePath), name)
}

// toJobDTO maps a job row to its public representation, pulling in the
// input artifact details when the record still exists.
func (h *JobHandler) toJobDTO(c *gin.Context, job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:             job.ID,
		Status:            string(job.Status),
		StatusLabel:       job.Status.Label(),
		PoseAlgorithmID:   job.PoseAlgorithmID,
		PoseAlgorithmName: domain.AlgorithmName(job.PoseAlgorithmID),
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339),
	}

	if job.OutputRef != nil {
		out.OutputRef = *job.OutputRef
	}
	if job.OutputGeneratedAt != nil {
		out.OutputGeneratedAt = job.OutputGeneratedAt.Format(time.RFC3339)
	}
	if job.ErrorDetail != nil {
		out.ErrorDetail = *job.ErrorDetail
	}
	if job.PoseDispatchHandle != nil {
		out.PoseDispatchHandle = *job.PoseDispatchHandle
	}
	if job.RenderDispatchHandle != nil {
		out.RenderDispatchHandle = *job.RenderDispatchHandle
	}
	if job.HasPoseData() {
		out.PoseDataURL = "/api/v1/jobs/" + job.ID + "/pose-data"
	}

	if job.InputArtifactID != nil && *job.InputArtifactID != "" {
		art, err := h.artifacts.GetByID(c.Request.Context(), *job.InputArtifactID)
		if err == nil {
			artDTO := &dto.ArtifactDTO{
				ArtifactID:   art.ID,
				SizeBytes:    art.SizeBytes,
				MediaType:    art.MediaType,
				OriginalName: art.OriginalName,
				CreatedAt:    art.CreatedAt.Format(time.RFC3339),
			}
			if art.ContentHash != nil {
				artDTO.ContentHash = *art.ContentHash
			}
			out.InputArtifact = artDTO
		} else if !errors.Is(err, domain.ErrArtifactNotFound) {
			h.logger.Error("Failed to load input artifact for job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return out
}
