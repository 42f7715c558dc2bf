package service

import (
	"context"
	"unicode/utf8"

	"github.com/askbase-io/askbase/internal/domain"
)

// TextExtractor turns uploaded document bytes into plain text. PDF
// extraction is an external collaborator; implementations wrap their
// failures as EXTRACTION_FAILED so callers can tell unreadable documents
// from transient errors.
type TextExtractor interface {
	Extract(ctx context.Context, origin domain.SourceOrigin, data []byte) (string, error)
}

// ObjectStore fetches raw uploaded documents by storage key.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// PlainTextExtractor handles text and plain-file uploads. It rejects
// PDFs, which require a dedicated extractor.
type PlainTextExtractor struct{}

func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

func (e *PlainTextExtractor) Extract(ctx context.Context, origin domain.SourceOrigin, data []byte) (string, error) {
	if origin == domain.SourceOriginPDF {
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed, "pdf extraction requires a pdf extractor")
	}

	if !utf8.Valid(data) {
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed, "file is not valid text")
	}

	return string(data), nil
}
