package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/documents"
	"docscan-backend/internal/history"
	"docscan-backend/internal/queue"
	"docscan-backend/internal/services/health"
	"docscan-backend/internal/shared/config"
	"docscan-backend/internal/shared/metrics"
	"docscan-backend/internal/shared/server/middleware"
	"docscan-backend/internal/shared/server/respond"
)

// Routes reachable without an API key.
const (
	healthPath  = "/api/v1/health"
	metricsPath = "/api/v1/metrics"
)

// RouterDeps carries the handlers mounted under /api/v1. Nil handlers are
// skipped.
type RouterDeps struct {
	Config          config.Config
	Health          *health.Service
	DocumentHandler *documents.Handler
	AnalysisHandler *analysis.Handler
	HistoryHandler  *history.Handler
	JobsHandler     *queue.Handler
	Limiter         *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.APIKey(deps.Config.APIKeys, healthPath, metricsPath),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	api.GET("/metrics", metrics.Handler())

	var uploadGuards []gin.HandlerFunc
	if deps.Config.UploadRate > 0 {
		limiter := deps.Limiter
		if limiter == nil {
			limiter = middleware.NewRateLimiter(nil)
		}
		rule := middleware.RateLimitRule{Rate: deps.Config.UploadRate, Burst: deps.Config.UploadBurst}
		uploadGuards = append(uploadGuards, middleware.UploadLimit(rule, limiter))
	}

	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api, uploadGuards...)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api, uploadGuards...)
	}
	if deps.HistoryHandler != nil {
		deps.HistoryHandler.RegisterRoutes(api)
	}
	if deps.JobsHandler != nil {
		deps.JobsHandler.RegisterRoutes(api, uploadGuards...)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
