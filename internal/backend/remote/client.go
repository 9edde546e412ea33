// Package remote implements analysis.Backend against a document-analysis HTTP
// API: documents are uploaded, polled until processed, and their extractions
// fetched. Multipage requests upload every page as a partial document and
// analyze a composite document built from them. Requests are authenticated
// with OAuth2 client credentials.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/shared/telemetry"
)

const (
	defaultPollInterval = time.Second
	tombstoneTTL        = 10 * time.Minute
	maxErrorBody        = 512

	partialMediaType   = "application/vnd.gini.v2.partial+"
	compositeMediaType = "application/vnd.gini.v2.composite+json"
)

var (
	// ErrProcessingFailed means the remote side gave up on a document.
	ErrProcessingFailed = errors.New("remote processing failed")
	// ErrMissingLocation means an upload response did not name the new document.
	ErrMissingLocation = errors.New("upload response without location")
)

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	APIURL string
	// TokenURL is the OAuth2 token endpoint. Defaults to APIURL + "/oauth/token".
	TokenURL     string
	ClientID     string
	ClientSecret string
	ClientDomain string
	PollInterval time.Duration
	// HTTPClient is the transport for both token and API calls. Defaults to a
	// client with a 60s timeout.
	HTTPClient *http.Client
}

// Client talks to the remote analysis API.
type Client struct {
	base string
	http *http.Client
	poll time.Duration
	now  func() time.Time

	// Remote documents are keyed by request id, in creation order. A request
	// moves from inflight to finished when Analyze returns, and stays there
	// until tombstoneTTL so a late cancel can still delete its documents.
	mu        sync.Mutex
	inflight  map[string][]string
	finished  map[string]finishedRequest
	tombstone map[string]time.Time // cancelled while Analyze was still running
}

type finishedRequest struct {
	docs []string
	at   time.Time
}

// New constructs a Client. Credentials are passed through to the token
// endpoint as given.
func New(cfg Config) (*Client, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		return nil, errors.New("remote backend: api url is required")
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = apiURL + "/oauth/token"
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 60 * time.Second}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	if cfg.ClientDomain != "" {
		cc.EndpointParams = url.Values{"client_domain": {cfg.ClientDomain}}
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = base.Timeout

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		base:      apiURL,
		http:      httpClient,
		poll:      poll,
		now:       time.Now,
		inflight:  make(map[string][]string),
		finished:  make(map[string]finishedRequest),
		tombstone: make(map[string]time.Time),
	}, nil
}

type documentResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Progress     string            `json:"progress"`
	PageCount    int               `json:"pageCount"`
	CreationDate int64             `json:"creationDate"`
	Links        map[string]string `json:"_links"`
}

type extractionsResponse struct {
	Extractions         map[string]extractionPayload `json:"extractions"`
	CompoundExtractions *compoundPayload             `json:"compoundExtractions,omitempty"`
}

type compoundPayload struct {
	LineItems []map[string]extractionPayload `json:"lineItems,omitempty"`
}

type compositeRequest struct {
	PartialDocuments []partialDocument `json:"partialDocuments"`
}

type partialDocument struct {
	Document      string `json:"document"`
	RotationDelta int    `json:"rotationDelta"`
}

type extractionPayload struct {
	Entity string        `json:"entity"`
	Value  string        `json:"value"`
	Box    *analysis.Box `json:"box,omitempty"`
}

// Analyze uploads the image, or every page followed by a composite document,
// waits for processing and returns the extractions. Line items are returned
// on the document.
func (c *Client) Analyze(ctx context.Context, requestID string, req analysis.Request) (analysis.Extractions, *analysis.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	defer c.settle(requestID)

	var (
		docID string
		err   error
	)
	if len(req.Pages) > 0 {
		docID, err = c.uploadComposite(ctx, requestID, req.Pages)
	} else {
		docID, err = c.uploadTracked(ctx, requestID, req.Data, req.FileName, req.MimeType)
	}
	if err != nil {
		return nil, nil, err
	}

	doc, err := c.waitProcessed(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	extractions, lineItems, err := c.extractions(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	doc.LineItems = lineItems
	return extractions, doc, nil
}

// CancelOperation deletes every remote document created for requestID. A
// request that is still uploading is remembered, and documents it creates
// later are deleted as soon as they appear.
func (c *Client) CancelOperation(ctx context.Context, requestID string) error {
	c.mu.Lock()
	c.pruneLocked()
	docs := c.inflight[requestID]
	delete(c.inflight, requestID)
	if done, ok := c.finished[requestID]; ok {
		docs = done.docs
		delete(c.finished, requestID)
	} else {
		c.tombstone[requestID] = c.now()
	}
	c.mu.Unlock()
	return c.deleteDocuments(ctx, docs)
}

// SendFeedback replaces the extractions of documentID with the corrected
// values. lineItems are sent as the "lineItems" compound extraction.
func (c *Client) SendFeedback(ctx context.Context, documentID string, updated analysis.Extractions, lineItems []analysis.Extractions) error {
	payload := extractionsResponse{Extractions: toPayload(updated)}
	if lineItems != nil {
		payload.CompoundExtractions = &compoundPayload{LineItems: make([]map[string]extractionPayload, len(lineItems))}
		for i, item := range lineItems {
			payload.CompoundExtractions.LineItems[i] = toPayload(item)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := c.documentURL(documentID) + "/extractions"
	resp, err := c.do(ctx, http.MethodPut, u, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError("send feedback", resp)
	}
	return nil
}

func toPayload(e analysis.Extractions) map[string]extractionPayload {
	out := make(map[string]extractionPayload, len(e))
	for name, v := range e {
		out[name] = extractionPayload{Entity: v.Entity, Value: v.Value, Box: v.Box}
	}
	return out
}

func fromPayload(raw map[string]extractionPayload) analysis.Extractions {
	out := make(analysis.Extractions, len(raw))
	for name, e := range raw {
		out[name] = analysis.Extraction{Name: name, Value: e.Value, Entity: e.Entity, Box: e.Box}
	}
	return out
}

// uploadTracked uploads one document and records it for requestID.
func (c *Client) uploadTracked(ctx context.Context, requestID string, data []byte, fileName, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	created, err := c.upload(ctx, data, fileName, contentType)
	if err != nil {
		return "", err
	}
	if orphans := c.track(requestID, created.id); orphans != nil {
		// Cancelled while uploading; remove what this request created.
		c.deleteQuietly(requestID, orphans)
		return "", context.Canceled
	}
	return created.id, nil
}

// uploadComposite uploads pages in order as partial documents and returns the
// id of the composite document referencing them.
func (c *Client) uploadComposite(ctx context.Context, requestID string, pages []analysis.Page) (string, error) {
	composite := compositeRequest{PartialDocuments: make([]partialDocument, 0, len(pages))}
	for i, page := range pages {
		created, err := c.upload(ctx, page.Data, page.FileName, partialContentType(page.MimeType))
		if err != nil {
			c.abandon(requestID)
			return "", fmt.Errorf("page %d: %w", i+1, err)
		}
		if orphans := c.track(requestID, created.id); orphans != nil {
			c.deleteQuietly(requestID, orphans)
			return "", context.Canceled
		}
		composite.PartialDocuments = append(composite.PartialDocuments, partialDocument{
			Document:      created.location,
			RotationDelta: page.Rotation,
		})
	}

	body, err := json.Marshal(composite)
	if err != nil {
		c.abandon(requestID)
		return "", err
	}
	created, err := c.upload(ctx, body, "", compositeMediaType)
	if err != nil {
		c.abandon(requestID)
		return "", fmt.Errorf("composite: %w", err)
	}
	if orphans := c.track(requestID, created.id); orphans != nil {
		c.deleteQuietly(requestID, orphans)
		return "", context.Canceled
	}
	telemetry.Info("remote.composite_created", map[string]any{
		"request_id":         requestID,
		"remote_document_id": created.id,
		"pages":              len(pages),
	})
	return created.id, nil
}

// partialContentType maps "image/jpeg" to the partial media type "...+jpeg".
func partialContentType(mimeType string) string {
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok || sub == "" {
		sub = "octet-stream"
	}
	return partialMediaType + sub
}

type uploadResult struct {
	id       string
	location string
}

func (c *Client) upload(ctx context.Context, data []byte, fileName, contentType string) (uploadResult, error) {
	u := c.base + "/documents"
	if fileName != "" {
		u += "?" + url.Values{"filename": {fileName}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodPost, u, contentType, bytes.NewReader(data))
	if err != nil {
		return uploadResult{}, fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return uploadResult{}, statusError("upload document", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return uploadResult{}, ErrMissingLocation
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return uploadResult{}, fmt.Errorf("upload document: bad location %q: %w", location, err)
	}
	id := path.Base(parsed.Path)
	if id == "" || id == "." || id == "/" {
		return uploadResult{}, fmt.Errorf("upload document: bad location %q", location)
	}
	if !parsed.IsAbs() {
		location = c.documentURL(id)
	}
	return uploadResult{id: id, location: location}, nil
}

func (c *Client) waitProcessed(ctx context.Context, docID string) (*analysis.Document, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		doc, err := c.document(ctx, docID)
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(doc.Progress) {
		case "COMPLETED":
			return toDocument(doc), nil
		case "ERROR":
			return nil, fmt.Errorf("document %s: %w", docID, ErrProcessingFailed)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) document(ctx context.Context, docID string) (documentResponse, error) {
	var out documentResponse
	err := c.getJSON(ctx, "fetch document", c.documentURL(docID), &out)
	return out, err
}

func (c *Client) extractions(ctx context.Context, docID string) (analysis.Extractions, []analysis.Extractions, error) {
	var raw extractionsResponse
	if err := c.getJSON(ctx, "fetch extractions", c.documentURL(docID)+"/extractions", &raw); err != nil {
		return nil, nil, err
	}
	var lineItems []analysis.Extractions
	if raw.CompoundExtractions != nil && len(raw.CompoundExtractions.LineItems) > 0 {
		lineItems = make([]analysis.Extractions, len(raw.CompoundExtractions.LineItems))
		for i, item := range raw.CompoundExtractions.LineItems {
			lineItems[i] = fromPayload(item)
		}
	}
	return fromPayload(raw.Extractions), lineItems, nil
}

// deleteDocuments deletes docs newest first, so a composite goes before the
// partial documents it references.
func (c *Client) deleteDocuments(ctx context.Context, docs []string) error {
	var errs []error
	for i := len(docs) - 1; i >= 0; i-- {
		if err := c.deleteDocument(ctx, docs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) deleteDocument(ctx context.Context, docID string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.documentURL(docID), "", nil)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return statusError("delete document", resp)
	}
	telemetry.Info("remote.document_deleted", map[string]any{"remote_document_id": docID})
	return nil
}

func (c *Client) deleteQuietly(requestID string, docs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.deleteDocuments(ctx, docs); err != nil {
		telemetry.Warn("remote.delete_failed", map[string]any{
			"request_id":          requestID,
			"remote_document_ids": docs,
			"error":               err.Error(),
		})
	}
}

// track records docID for requestID. When the request was cancelled while
// uploading, it returns every document the request created, docID included,
// for the caller to delete.
func (c *Client) track(requestID, docID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	if _, ok := c.tombstone[requestID]; ok {
		orphans := append(c.inflight[requestID], docID)
		delete(c.inflight, requestID)
		return orphans
	}
	c.inflight[requestID] = append(c.inflight[requestID], docID)
	return nil
}

// abandon deletes the partial documents of a composite that will not be
// created.
func (c *Client) abandon(requestID string) {
	c.mu.Lock()
	docs := c.inflight[requestID]
	delete(c.inflight, requestID)
	c.mu.Unlock()
	if len(docs) > 0 {
		c.deleteQuietly(requestID, docs)
	}
}

// settle runs when Analyze returns. The request's documents move to
// finished, where a cancel racing the delivery of the result can still find
// them. If CancelOperation already ran, the tombstone is cleared instead.
func (c *Client) settle(requestID string) {
	c.mu.Lock()
	docs := c.inflight[requestID]
	delete(c.inflight, requestID)
	_, cancelled := c.tombstone[requestID]
	if cancelled {
		delete(c.tombstone, requestID)
	} else {
		c.finished[requestID] = finishedRequest{docs: docs, at: c.now()}
	}
	c.mu.Unlock()

	if cancelled && len(docs) > 0 {
		c.deleteQuietly(requestID, docs)
	}
}

func (c *Client) pruneLocked() {
	cutoff := c.now().Add(-tombstoneTTL)
	for id, at := range c.tombstone {
		if at.Before(cutoff) {
			delete(c.tombstone, id)
		}
	}
	for id, f := range c.finished {
		if f.at.Before(cutoff) {
			delete(c.finished, id)
		}
	}
}

func (c *Client) documentURL(docID string) string {
	return c.base + "/documents/" + url.PathEscape(docID)
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func toDocument(d documentResponse) *analysis.Document {
	doc := &analysis.Document{
		ID:        d.ID,
		Name:      d.Name,
		PageCount: d.PageCount,
		Links:     d.Links,
	}
	if d.CreationDate > 0 {
		doc.CreatedAt = time.UnixMilli(d.CreationDate).UTC()
	}
	return doc
}

var (
	_ analysis.Backend           = (*Client)(nil)
	_ analysis.OperationCanceler = (*Client)(nil)
	_ analysis.FeedbackSender    = (*Client)(nil)
)
