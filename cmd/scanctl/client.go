package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const apiPrefix = "/api/v1"

// apiError is the server's error envelope.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Code, e.Message, e.Status)
}

type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newAPIClient(server, apiKey string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(strings.TrimSpace(server), "/") + apiPrefix,
		apiKey: strings.TrimSpace(apiKey),
		http:   &http.Client{},
	}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// send performs req and returns the body of a 2xx response.
func (c *apiClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error apiError `json:"error"`
	}
	apiErr := &apiError{Status: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *apiClient) analyze(ctx context.Context, path string, wait bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var query url.Values
	if wait {
		query = url.Values{"wait": {"true"}}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/analysis", query, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(req)
}

func (c *apiClient) cancel(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/analysis", nil, nil)
	if err != nil {
		return err
	}
	_, err = c.send(req)
	return err
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *apiClient) feedback(ctx context.Context, documentID string, values map[string]string) error {
	payload := struct {
		DocumentID  string                       `json:"documentId,omitempty"`
		Extractions map[string]map[string]string `json:"extractions"`
	}{
		DocumentID:  documentID,
		Extractions: make(map[string]map[string]string, len(values)),
	}
	for name, value := range values {
		payload.Extractions[name] = map[string]string{"value": value}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/analysis/feedback", nil, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.send(req)
	return err
}

// sseEvent is one server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// stream opens the event stream and calls fn for every event until fn
// returns false, the stream ends or ctx is done.
func (c *apiClient) stream(ctx context.Context, fn func(sseEvent) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/analysis/events", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeAPIError(resp.StatusCode, body)
	}
	return readEvents(resp.Body, fn)
}

func readEvents(r io.Reader, fn func(sseEvent) bool) error {
	dec := newEventDecoder(r)
	for {
		ev, err := dec.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(ev) {
			return nil
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
