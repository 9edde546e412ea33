package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/shared/telemetry"
)

// ErrorBody is the error object every failed request returns.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope around ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Context keys set by the middleware and handlers; duplicated here because
// middleware imports this package.
var logContextKeys = map[string]string{
	"requestId":         "request_id",
	"analysisRequestId": "analysis_request_id",
	"documentId":        "document_id",
}

// Error aborts the request with the error envelope. Server errors are logged
// at error level, client errors at warn.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":  status,
		"code":    code,
		"message": message,
		"path":    c.Request.URL.Path,
		"method":  c.Request.Method,
	}
	for key, field := range logContextKeys {
		if v := c.GetString(key); v != "" {
			fields[field] = v
		}
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}
