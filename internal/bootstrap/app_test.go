package bootstrap

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/backend/remote"
	"docscan-backend/internal/backend/stub"
	"docscan-backend/internal/shared/config"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:             "dev",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		Backend:         "stub",
		StubDelay:       time.Millisecond,
		EventBuffer:     4,
	}
}

func TestBuildDevUsesMemoryAndStub(t *testing.T) {
	app, err := Build(devConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if app.DB != nil || app.Queue != nil {
		t.Fatalf("expected no database and no queue in dev")
	}
	if _, ok := app.Backend.(*stub.Backend); !ok {
		t.Fatalf("expected stub backend, got %T", app.Backend)
	}
	if app.Runner.Coord != app.Coordinator || app.AnalysisHandler.Coord != app.Coordinator {
		t.Fatalf("entry points must share one coordinator")
	}

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.Code)
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	if _, err := Build(cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestBuildRemoteBackend(t *testing.T) {
	t.Setenv("BACKEND_CLIENT_ID", "id")
	cfg := devConfig(t)
	cfg.Backend = "remote"
	cfg.BackendAPIURL = "https://api.example.test"
	cfg.CredentialsFile = ""

	app, err := Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := app.Backend.(*remote.Client); !ok {
		t.Fatalf("expected remote backend, got %T", app.Backend)
	}
}

func TestBuildEndToEndWithHistory(t *testing.T) {
	app, err := Build(devConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, _ := w.CreateFormFile("file", "scan.png")
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"))
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis?wait=true", body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out analysis.ExtractionsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Finished is recorded before the ticket resolves.
	histResp := httptest.NewRecorder()
	app.Router.ServeHTTP(histResp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+out.RequestID, nil))
	if histResp.Code != http.StatusOK {
		t.Fatalf("expected history record, got %d: %s", histResp.Code, histResp.Body.String())
	}
	var rec struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(histResp.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if rec.Status != "completed" {
		t.Fatalf("unexpected history status %q", rec.Status)
	}
}
