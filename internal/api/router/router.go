package router

import (
	"github.com/gin-gonic/gin"

	"github.com/solsticelabs/posepipe/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	healthHandler := handler.NewHealthHandler(deps.Logger, deps.DB, deps.Broker)
	r.GET("/health", healthHandler.Check)

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Upload a video and start processing
			jobs.POST("", MaxBodyBytes(deps.MaxUploadBytes), jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/pose-data - Download extracted pose data
			jobs.GET("/:job_id/pose-data", jobHandler.DownloadPoseData)
		}

		artifacts := v1.Group("/artifacts")
		{
			// GET /api/v1/artifacts/:artifact_id/download - Download the stored blob
			artifacts.GET("/:artifact_id/download", jobHandler.DownloadArtifact)
		}
	}

	return r
}
