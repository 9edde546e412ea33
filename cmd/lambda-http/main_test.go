package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"docscan-backend/internal/shared/server/respond"
)

func getRequest(path string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: http.MethodGet, Path: path},
		},
	}
}

func TestHandlerReportsBootstrapFailure(t *testing.T) {
	builds := 0
	h := newLambdaHandler(func() (*gin.Engine, error) {
		builds++
		return nil, errors.New("DATABASE_URL is required")
	})

	for i := 0; i < 2; i++ {
		resp, err := h.Handle(context.Background(), getRequest("/api/v1/health"))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", resp.StatusCode)
		}
		var body respond.ErrorResponse
		if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != "bootstrap_failed" {
			t.Fatalf("unexpected code %q", body.Error.Code)
		}
	}
	if builds != 1 {
		t.Fatalf("expected a single build attempt, got %d", builds)
	}
}

func TestHandlerProxiesToRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newLambdaHandler(func() (*gin.Engine, error) {
		r := gin.New()
		r.GET("/api/v1/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
		return r, nil
	})

	resp, err := h.Handle(context.Background(), getRequest("/api/v1/health"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != `{"ok":true}` {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
}
