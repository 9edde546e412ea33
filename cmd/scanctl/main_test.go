package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeServer records what scanctl sends and answers like the docscan API.
type fakeServer struct {
	mu       sync.Mutex
	keys     []string
	queries  []string
	uploads  []string
	cancels  int
	feedback map[string]any
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/analysis", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch r.Method {
		case http.MethodPost:
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "file is required")
				return
			}
			_, _ = io.Copy(io.Discard, file)
			f.mu.Lock()
			f.uploads = append(f.uploads, header.Filename)
			busy := len(f.uploads) > 1
			f.mu.Unlock()
			if busy {
				writeError(w, http.StatusConflict, "already_in_progress", "analysis already in progress")
				return
			}
			if r.URL.Query().Get("wait") == "true" {
				_, _ = io.WriteString(w, `{"requestId":"req-1","documentId":"doc-1","status":"completed","extractions":{"amountToPay":{"name":"amountToPay","value":"42.00:EUR"}}}`)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"requestId":"req-1","documentId":"doc-1","status":"analyzing"}`)
		case http.MethodDelete:
			f.mu.Lock()
			f.cancels++
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = io.WriteString(w, `{"analyzing":true,"requestId":"req-2","lastRequestId":"req-1","lastResult":{"iban":{"name":"iban","value":"DE00"}}}`)
		}
	})
	mux.HandleFunc("/api/v1/analysis/feedback", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
			return
		}
		f.mu.Lock()
		f.feedback = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/analysis/events", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:ping\ndata:{\"analyzing\":true}\n\n")
		_, _ = io.WriteString(w, "event:AnalysisDidReceiveResult\ndata:{\"kind\":\"AnalysisDidReceiveResult\",\"requestId\":\"req-1\",\"extractions\":{\"iban\":{\"name\":\"iban\",\"value\":\"DE00\"}}}\n\n")
		_, _ = io.WriteString(w, "event:AnalysisDidReceiveError\ndata:{\"kind\":\"AnalysisDidReceiveError\",\"requestId\":\"req-2\",\"error\":\"upstream 500\"}\n\n")
	})
	mux.HandleFunc("/api/v1/analyses", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `[{"id":"req-2","status":"failed","errorMessage":"upstream 500","startedAt":"2024-01-01T10:00:00Z"},{"id":"req-1","status":"completed","startedAt":"2024-01-01T09:00:00Z"}]`)
	})
	mux.HandleFunc("/api/v1/analyses/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/") != "req-1" {
			writeError(w, http.StatusNotFound, "not_found", "analysis not found")
			return
		}
		_, _ = io.WriteString(w, `{"id":"req-1","status":"completed","startedAt":"2024-01-01T09:00:00Z","extractions":{"iban":{"name":"iban","value":"DE00"}}}`)
	})
	return mux
}

func (f *fakeServer) record(r *http.Request) {
	f.mu.Lock()
	f.keys = append(f.keys, r.Header.Get("X-API-Key"))
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": message}})
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--api-key", "k1"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func newFake(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipt.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestAnalyzeStartsAndSendsKey(t *testing.T) {
	fake, srv := newFake(t)
	out, err := runCLI(t, srv, "analyze", writeImage(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "request:  req-1") || !strings.Contains(out, "status:   analyzing") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.uploads) != 1 || fake.uploads[0] != "receipt.png" {
		t.Fatalf("unexpected uploads: %v", fake.uploads)
	}
	if fake.keys[0] != "k1" {
		t.Fatalf("api key not sent: %q", fake.keys[0])
	}
}

func TestAnalyzeWaitPrintsExtractions(t *testing.T) {
	_, srv := newFake(t)
	out, err := runCLI(t, srv, "analyze", "--wait", writeImage(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "amountToPay = 42.00:EUR") {
		t.Fatalf("extractions missing:\n%s", out)
	}
}

func TestAnalyzeBusyReturnsServerError(t *testing.T) {
	_, srv := newFake(t)
	img := writeImage(t)
	if _, err := runCLI(t, srv, "analyze", img); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	_, err := runCLI(t, srv, "analyze", img)
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "already_in_progress" {
		t.Fatalf("expected 409 already_in_progress, got %v", err)
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	_, srv := newFake(t)
	if _, err := runCLI(t, srv, "analyze", filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCancelAndStatus(t *testing.T) {
	fake, srv := newFake(t)
	out, err := runCLI(t, srv, "cancel")
	if err != nil || strings.TrimSpace(out) != "cancelled" {
		t.Fatalf("cancel: %q %v", out, err)
	}
	fake.mu.Lock()
	cancels := fake.cancels
	fake.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("expected 1 cancel, got %d", cancels)
	}

	out, err = runCLI(t, srv, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"analyzing: req-2", "last request: req-1", "iban = DE00"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusJSON(t *testing.T) {
	_, srv := newFake(t)
	out, err := runCLI(t, srv, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out)
	}
	if decoded["requestId"] != "req-2" {
		t.Fatalf("unexpected json: %v", decoded)
	}
}

func TestWatchPrintsEvents(t *testing.T) {
	_, srv := newFake(t)
	out, err := runCLI(t, srv, "watch")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events without pings, got %d:\n%s", len(lines), out)
	}
	if lines[0] != "AnalysisDidReceiveResult req-1 extractions=1" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if lines[1] != `AnalysisDidReceiveError req-2 error="upstream 500"` {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestWatchStopsAfterCount(t *testing.T) {
	_, srv := newFake(t)
	out, err := runCLI(t, srv, "watch", "--pings", "--count", "1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if strings.TrimSpace(out) != `ping {"analyzing":true}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFeedbackSendsAssignments(t *testing.T) {
	fake, srv := newFake(t)
	out, err := runCLI(t, srv, "feedback", "--document", "remote-1", "--set", "iban=DE89", "--set", "amountToPay=43.00:EUR")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if !strings.Contains(out, "sent 2 correction(s)") {
		t.Fatalf("unexpected output %q", out)
	}
	fake.mu.Lock()
	body := fake.feedback
	fake.mu.Unlock()
	if body["documentId"] != "remote-1" {
		t.Fatalf("document id not sent: %v", body)
	}
	extractions, _ := body["extractions"].(map[string]any)
	amount, _ := extractions["amountToPay"].(map[string]any)
	if amount["value"] != "43.00:EUR" {
		t.Fatalf("unexpected extractions: %v", extractions)
	}
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "single", in: []string{"iban=DE00"}, want: map[string]string{"iban": "DE00"}},
		{name: "value with equals", in: []string{"note=a=b"}, want: map[string]string{"note": "a=b"}},
		{name: "empty value", in: []string{"bic="}, want: map[string]string{"bic": ""}},
		{name: "missing equals", in: []string{"iban"}, wantErr: true},
		{name: "missing name", in: []string{"=DE00"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAssignments(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestHistoryListAndShow(t *testing.T) {
	fake, srv := newFake(t)
	out, err := runCLI(t, srv, "history", "--limit", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "req-2") || !strings.Contains(out, "upstream 500") || !strings.Contains(out, "req-1") {
		t.Fatalf("unexpected list output:\n%s", out)
	}
	fake.mu.Lock()
	query := fake.queries[len(fake.queries)-1]
	fake.mu.Unlock()
	if query != "limit=5&offset=0" {
		t.Fatalf("unexpected query %q", query)
	}

	out, err = runCLI(t, srv, "history", "req-1")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "iban = DE00") {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	_, err = runCLI(t, srv, "history", "missing")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestEventDecoderJoinsDataLines(t *testing.T) {
	dec := newEventDecoder(strings.NewReader(": comment\nevent: multi\ndata: a\ndata: b\n\nevent:last\ndata:c"))
	ev, err := dec.next()
	if err != nil || ev.Name != "multi" || ev.Data != "a\nb" {
		t.Fatalf("unexpected first event %+v %v", ev, err)
	}
	ev, err = dec.next()
	if err != nil || ev.Name != "last" || ev.Data != "c" {
		t.Fatalf("unexpected trailing event %+v %v", ev, err)
	}
	if _, err := dec.next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
