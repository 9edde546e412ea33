package documents

import "errors"

var (
	// ErrNotFound indicates a document was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates validation or bad input.
	ErrInvalidInput = errors.New("invalid input")

	ErrFileTooLarge    = errors.New("file exceeds the maximum size")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrPageCount       = errors.New("pdf page count out of range")
)

// IsValidation reports whether err was caused by the uploaded file itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrPageCount)
}
