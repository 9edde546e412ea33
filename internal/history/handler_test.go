package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newHistoryRouter(t *testing.T) (*gin.Engine, *MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := NewMemoryRepo()
	r := gin.New()
	NewHandler(repo).RegisterRoutes(r.Group("/api/v1"))
	return r, repo
}

func TestHandlerGet(t *testing.T) {
	router, repo := newHistoryRouter(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Save(context.Background(), Record{ID: "req-1", Status: StatusCancelled, StartedAt: started}); err != nil {
		t.Fatalf("save: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "found", path: "/api/v1/analyses/req-1", wantCode: http.StatusOK},
		{name: "missing", path: "/api/v1/analyses/nope", wantCode: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if resp.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, resp.Code, resp.Body.String())
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			var out RecordResponse
			if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.ID != "req-1" || out.Status != StatusCancelled || !out.StartedAt.Equal(started) {
				t.Fatalf("unexpected body: %+v", out)
			}
		})
	}
}

func TestHandlerListPaginates(t *testing.T) {
	router, repo := newHistoryRouter(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		_ = repo.Save(context.Background(), Record{ID: id, Status: StatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Second)})
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=1&offset=1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out []RecordResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("unexpected page: %+v", out)
	}
}
