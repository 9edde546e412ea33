package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/shared/telemetry"
)

// Context keys handlers set so the request log can correlate with analyses.
const (
	DocumentIDKey        = "documentId"
	AnalysisRequestIDKey = "analysisRequestId"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		documentID, _ := c.Get(DocumentIDKey)
		analysisRequestID, _ := c.Get(AnalysisRequestIDKey)

		fields := map[string]any{
			"request_id":          RequestIDFromContext(c),
			"method":              c.Request.Method,
			"path":                c.Request.URL.Path,
			"route":               c.FullPath(),
			"status":              c.Writer.Status(),
			"duration_ms":         float64(latency.Microseconds()) / 1000.0,
			"principal":           PrincipalFromContext(c),
			"document_id":         documentID,
			"analysis_request_id": analysisRequestID,
			"client_ip":           c.ClientIP(),
			"user_agent":          c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
