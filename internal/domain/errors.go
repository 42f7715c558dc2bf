package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"

	// Ingestion pipeline error codes
	ErrCodeEmptyContent      = "EMPTY_CONTENT"
	ErrCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrCodeNoChunksProduced  = "NO_CHUNKS_PRODUCED"
	ErrCodeEmbeddingFailed   = "EMBEDDING_FAILED"
	ErrCodeDimensionMismatch = "DIMENSION_MISMATCH"
)

// Validation errors
var (
	ErrInvalidSourceOrigin  = NewDomainError(ErrCodeValidation, "invalid source origin")
	ErrInvalidSourceStatus  = NewDomainError(ErrCodeValidation, "invalid source status")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrSourceNotFound  = NewDomainError(ErrCodeNotFound, "knowledge source not found")
	ErrProjectNotFound = NewDomainError(ErrCodeNotFound, "project not found")
)

// Pipeline errors. EmptyContent and ExtractionFailed are not retryable
// without new input; EmbeddingFailed is transient and worth retrying.
var (
	ErrEmptyContent      = NewDomainError(ErrCodeEmptyContent, "no usable text content")
	ErrExtractionFailed  = NewDomainError(ErrCodeExtractionFailed, "could not extract text from document")
	ErrNoChunksProduced  = NewDomainError(ErrCodeNoChunksProduced, "chunker produced no segments for non-empty text")
	ErrEmbeddingFailed   = NewDomainError(ErrCodeEmbeddingFailed, "embedding provider call failed")
	ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "embedding vectors have different dimensions")
)

// Operation errors
var (
	ErrInvalidTransition   = NewDomainError(ErrCodeInvalidOperation, "illegal source status transition")
	ErrIngestionInProgress = NewDomainError(ErrCodeInvalidOperation, "source is already being processed")
	ErrInvalidAPIToken     = NewDomainError(ErrCodeUnauthorized, "invalid api token")
)

// IsRetryable reports whether an ingestion failure is worth retrying
// without new input. Provider failures are transient; empty or unreadable
// content is not fixable by retrying.
func IsRetryable(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		// Unclassified errors (network, database) are assumed transient.
		return true
	}
	switch de.Code {
	case ErrCodeEmptyContent, ErrCodeExtractionFailed, ErrCodeValidation, ErrCodeDimensionMismatch:
		return false
	}
	return true
}
