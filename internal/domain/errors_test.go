package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := NewDomainError(ErrCodeEmptyContent, "nothing to chunk")
		assert.Equal(t, "[EMPTY_CONTENT] nothing to chunk", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("socket closed")
		err := NewDomainErrorWithCause(ErrCodeEmbeddingFailed, "provider call failed", cause)
		assert.Contains(t, err.Error(), "EMBEDDING_FAILED")
		assert.Contains(t, err.Error(), "socket closed")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(ErrEmptyContent))
	assert.False(t, IsRetryable(ErrExtractionFailed))
	assert.False(t, IsRetryable(ErrDimensionMismatch))

	assert.True(t, IsRetryable(ErrEmbeddingFailed))
	assert.True(t, IsRetryable(errors.New("connection reset")))

	// Wrapped domain errors keep their classification.
	wrapped := fmt.Errorf("ingest src-1: %w", ErrExtractionFailed)
	assert.False(t, IsRetryable(wrapped))

	withCause := NewDomainErrorWithCause(ErrCodeEmbeddingFailed, "embed", errors.New("429"))
	assert.True(t, IsRetryable(withCause))
}
