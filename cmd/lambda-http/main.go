package main

// Lambda entry point for the HTTP API behind an API Gateway HTTP API (payload v2).
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// Each Lambda container holds its own coordinator, so single-flight applies
// per container rather than per deployment.

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"docscan-backend/internal/bootstrap"
	"docscan-backend/internal/shared/config"
	"docscan-backend/internal/shared/server/respond"
	"docscan-backend/internal/shared/telemetry"
)

type proxy interface {
	ProxyWithContext(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)
}

// lambdaHandler builds the router on the first invocation and reuses it for
// the life of the container.
type lambdaHandler struct {
	build func() (*gin.Engine, error)

	once  sync.Once
	proxy proxy
	err   error
}

func newLambdaHandler(build func() (*gin.Engine, error)) *lambdaHandler {
	return &lambdaHandler{build: build}
}

func (h *lambdaHandler) init() {
	router, err := h.build()
	if err != nil {
		h.err = err
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": err.Error()})
		return
	}
	h.proxy = ginadapter.NewV2(router)
}

func (h *lambdaHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	h.once.Do(h.init)
	if h.err != nil {
		return bootstrapFailure(), nil
	}
	return h.proxy.ProxyWithContext(ctx, req)
}

func bootstrapFailure() events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{
		Error: respond.ErrorBody{Code: "bootstrap_failed", Message: "service unavailable"},
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func buildRouter() (*gin.Engine, error) {
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	return app.Router, nil
}

func main() {
	lambda.Start(newLambdaHandler(buildRouter).Handle)
}
