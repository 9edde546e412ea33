package documents

import "time"

// Document is an uploaded file awaiting or having gone through analysis.
type Document struct {
	ID              string
	FileName        string
	MimeType        string
	SizeBytes       int64
	PageCount       int
	StorageProvider string
	StorageKey      string
	CreatedAt       time.Time
}

// Stored pairs a document record with its bytes.
type Stored struct {
	Document Document
	Data     []byte
}
