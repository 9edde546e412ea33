package documents

import "time"

// DocumentResponse is the JSON form of a stored upload. The storage key
// stays internal.
type DocumentResponse struct {
	DocumentID string    `json:"documentId"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	PageCount  int       `json:"pageCount,omitempty"`
	Storage    string    `json:"storage,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func ToResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		SizeBytes:  doc.SizeBytes,
		PageCount:  doc.PageCount,
		Storage:    doc.StorageProvider,
		UploadedAt: doc.CreatedAt,
	}
}
