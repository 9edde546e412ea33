package documents

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	// MaxFileSize is the largest accepted upload.
	MaxFileSize = 10 << 20 // 10MB
	// MaxPages is the largest accepted PDF page count.
	MaxPages = 10

	mimePDF = "application/pdf"
)

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/tiff": true,
}

// Inspection is what validation learned about a file.
type Inspection struct {
	MimeType  string
	PageCount int
}

// Validate checks size, type and page count of an upload.
// Types are sniffed from content; the file name is only used in error messages.
func Validate(data []byte, fileName string) (Inspection, error) {
	if len(data) == 0 {
		return Inspection{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if len(data) > MaxFileSize {
		return Inspection{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, fileName, len(data), MaxFileSize)
	}

	mimeType := normalizeMimeType(mimetype.Detect(data).String())
	switch {
	case mimeType == mimePDF:
		pages, err := countPDFPages(data)
		if err != nil {
			return Inspection{}, fmt.Errorf("%w: %s: unreadable pdf: %v", ErrUnsupportedType, fileName, err)
		}
		if pages < 1 || pages > MaxPages {
			return Inspection{}, fmt.Errorf("%w: %s has %d pages, allowed 1-%d", ErrPageCount, fileName, pages, MaxPages)
		}
		return Inspection{MimeType: mimeType, PageCount: pages}, nil
	case imageTypes[mimeType]:
		return Inspection{MimeType: mimeType, PageCount: 1}, nil
	default:
		ext := strings.ToLower(filepath.Ext(fileName))
		return Inspection{}, fmt.Errorf("%w: %s (%s, extension %q)", ErrUnsupportedType, fileName, mimeType, ext)
	}
}

func countPDFPages(data []byte) (pages int, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func normalizeMimeType(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}
