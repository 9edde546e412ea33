package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"docscan-backend/internal/shared/storage/object"
	"docscan-backend/internal/shared/telemetry"
	"docscan-backend/internal/shared/util"
)

const storageNamespace = "documents"

// Service contains business logic for documents.
type Service struct {
	Store    object.ObjectStore
	Repo     Repo
	Provider string
}

// Upload validates the file, saves it to object storage and records the document.
func (s *Service) Upload(ctx context.Context, fileName string, r io.Reader) (Stored, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return Stored{}, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	safeName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return Stored{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return Stored{}, fmt.Errorf("read upload %s: %w", safeName, err)
	}
	inspection, err := Validate(data, safeName)
	if err != nil {
		return Stored{}, err
	}

	storageKey, size, err := s.Store.Put(ctx, storageNamespace, safeName, inspection.MimeType, bytes.NewReader(data))
	if err != nil {
		return Stored{}, fmt.Errorf("store document %s: %w", safeName, err)
	}

	provider := s.Provider
	if provider == "" {
		provider = "local"
	}
	doc := Document{
		ID:              uuid.NewString(),
		FileName:        safeName,
		MimeType:        inspection.MimeType,
		SizeBytes:       size,
		PageCount:       inspection.PageCount,
		StorageProvider: provider,
		StorageKey:      storageKey,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		if delErr := s.Store.Delete(ctx, storageKey); delErr != nil {
			telemetry.Warn("documents.orphaned_object", map[string]any{
				"storage_key": storageKey,
				"error":       delErr.Error(),
			})
		}
		return Stored{}, fmt.Errorf("record document %s: %w", doc.ID, err)
	}

	telemetry.Info("documents.uploaded", map[string]any{
		"document_id": doc.ID,
		"mime_type":   doc.MimeType,
		"size_bytes":  doc.SizeBytes,
		"page_count":  doc.PageCount,
	})
	return Stored{Document: doc, Data: data}, nil
}

// Get returns a document record.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, id)
}

// Load returns a document record together with its bytes.
func (s *Service) Load(ctx context.Context, id string) (Stored, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return Stored{}, err
	}
	body, err := s.Store.Open(ctx, doc.StorageKey)
	if err != nil {
		return Stored{}, fmt.Errorf("open document %s: %w", id, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return Stored{}, fmt.Errorf("read document %s: %w", id, err)
	}
	return Stored{Document: doc, Data: data}, nil
}

// Discard removes a document record and its stored object. The object is
// removed even when the record is already gone.
func (s *Service) Discard(ctx context.Context, doc Document) error {
	var errs []error
	if err := s.Repo.Delete(ctx, doc.ID); err != nil && !errors.Is(err, ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete document %s: %w", doc.ID, err))
	}
	if doc.StorageKey != "" {
		if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
			errs = append(errs, fmt.Errorf("delete object %s: %w", doc.StorageKey, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	telemetry.Info("documents.discarded", map[string]any{
		"document_id": doc.ID,
		"storage_key": doc.StorageKey,
	})
	return nil
}

// List returns documents newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Document, error) {
	return s.Repo.List(ctx, limit, offset)
}
