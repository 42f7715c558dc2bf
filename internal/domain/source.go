package domain

import (
	"fmt"
	"time"
)

// SourceOrigin represents how a knowledge source entered the system
type SourceOrigin string

const (
	SourceOriginText SourceOrigin = "text"
	SourceOriginFile SourceOrigin = "file"
	SourceOriginPDF  SourceOrigin = "pdf"
)

// SourceStatus represents the lifecycle state of a knowledge source
type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusReady      SourceStatus = "ready"
	SourceStatusFailed     SourceStatus = "failed"
)

// SourceMeta is the typed metadata attached to a knowledge source.
// Exactly one of Content or StorageKey is set depending on the origin.
type SourceMeta struct {
	Name       string
	Origin     SourceOrigin
	Content    string // raw pasted text for text origin
	StorageKey string // object key for file/pdf origins
}

// KnowledgeSource represents one ingested unit of knowledge for a project
type KnowledgeSource struct {
	ID         string
	ProjectID  string
	Name       string
	Origin     SourceOrigin
	Content    string
	StorageKey string
	Status     SourceStatus
	ChunkCount int
	Error      string
	Retries    int32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewKnowledgeSource creates a new KnowledgeSource in the pending state
func NewKnowledgeSource(id, projectID string, meta SourceMeta, now time.Time) *KnowledgeSource {
	return &KnowledgeSource{
		ID:         id,
		ProjectID:  projectID,
		Name:       meta.Name,
		Origin:     meta.Origin,
		Content:    meta.Content,
		StorageKey: meta.StorageKey,
		Status:     SourceStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ValidateSource validates a KnowledgeSource instance
func ValidateSource(s *KnowledgeSource) error {
	if s == nil {
		return fmt.Errorf("source cannot be nil")
	}

	if s.ID == "" {
		return fmt.Errorf("source ID is required")
	}

	if s.ProjectID == "" {
		return fmt.Errorf("source ProjectID is required")
	}

	if s.Name == "" {
		return fmt.Errorf("source Name is required")
	}

	if !isValidSourceOrigin(s.Origin) {
		return fmt.Errorf("source Origin is invalid: %s", s.Origin)
	}

	if !isValidSourceStatus(s.Status) {
		return fmt.Errorf("source Status is invalid: %s", s.Status)
	}

	if s.Origin == SourceOriginText && s.Content == "" {
		return fmt.Errorf("text source requires Content")
	}

	if s.Origin != SourceOriginText && s.StorageKey == "" {
		return fmt.Errorf("%s source requires StorageKey", s.Origin)
	}

	// Ready sources carry a chunk count, failed sources carry an error,
	// and neither may carry the other's field.
	if s.Status == SourceStatusFailed && s.Error == "" {
		return fmt.Errorf("failed source requires Error")
	}

	if s.Status != SourceStatusFailed && s.Error != "" {
		return fmt.Errorf("only failed sources may carry Error")
	}

	if s.Status != SourceStatusReady && s.ChunkCount != 0 {
		return fmt.Errorf("only ready sources may carry ChunkCount")
	}

	return nil
}

// CanTransition reports whether a status transition is legal.
// Only processing may reach a terminal state, and terminal states are
// re-enterable only through a fresh processing transition (re-ingestion).
func CanTransition(from, to SourceStatus) bool {
	switch from {
	case SourceStatusPending:
		return to == SourceStatusProcessing
	case SourceStatusProcessing:
		return to == SourceStatusReady || to == SourceStatusFailed
	case SourceStatusReady, SourceStatusFailed:
		return to == SourceStatusPending || to == SourceStatusProcessing
	}
	return false
}

// isValidSourceOrigin checks if a SourceOrigin is valid
func isValidSourceOrigin(o SourceOrigin) bool {
	switch o {
	case SourceOriginText, SourceOriginFile, SourceOriginPDF:
		return true
	}
	return false
}

// isValidSourceStatus checks if a SourceStatus is valid
func isValidSourceStatus(s SourceStatus) bool {
	switch s {
	case SourceStatusPending, SourceStatusProcessing, SourceStatusReady, SourceStatusFailed:
		return true
	}
	return false
}
