package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/pagination"
	"github.com/askbase-io/askbase/internal/telemetry"
	"github.com/google/uuid"
)

// SourcePageResult is one page of a cursor-paginated source listing.
type SourcePageResult struct {
	Items      []*domain.KnowledgeSource
	NextCursor string
	HasMore    bool
}

// SourceRepositoryInterface defines the repository interface for knowledge sources
type SourceRepositoryInterface interface {
	Create(ctx context.Context, s *domain.KnowledgeSource) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error)
	ListByProjectWithCursor(ctx context.Context, projectID string, cursor *pagination.Cursor, limit int) (*SourcePageResult, error)
	// SetProcessing performs the guarded transition into processing,
	// clearing any previous error and chunk count.
	SetProcessing(ctx context.Context, id string) error
	// ResetPending moves a failed source back to pending for a retry and
	// increments the retry counter.
	ResetPending(ctx context.Context, id string) error
}

// PipelineRunner defines the processing pipeline interface consumed by
// the ingestion service.
type PipelineRunner interface {
	Process(ctx context.Context, rawText string, meta DocumentMeta, onProgress ProgressFunc) ([]domain.ProcessedChunk, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestionService drives the knowledge source lifecycle:
// pending -> processing -> ready | failed. It owns the per-source
// serialization guarantee: at most one active pipeline run per source id.
type IngestionService struct {
	sources   SourceRepositoryInterface
	tx        TxRunner
	pipeline  PipelineRunner
	extractor TextExtractor
	store     ObjectStore // nil when no object storage is configured
	uuidGen   UUIDGenerator

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(
	sources SourceRepositoryInterface,
	tx TxRunner,
	pipeline PipelineRunner,
	extractor TextExtractor,
	store ObjectStore,
) *IngestionService {
	return &IngestionService{
		sources:   sources,
		tx:        tx,
		pipeline:  pipeline,
		extractor: extractor,
		store:     store,
		uuidGen:   &DefaultUUIDGenerator{},
		inflight:  make(map[string]struct{}),
	}
}

// SubmitInput represents the input for submitting a knowledge source
type SubmitInput struct {
	ProjectID string
	Meta      domain.SourceMeta
}

// Submit creates a pending knowledge source. The caller returns
// immediately; the background worker picks the source up and the source
// status is the only observable signal of completion.
func (s *IngestionService) Submit(ctx context.Context, input SubmitInput) (*domain.KnowledgeSource, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Submit", telemetry.SpanAttributes{
		ProjectID: input.ProjectID,
		Operation: "submit",
	})
	defer span.End()

	now := time.Now().UTC()
	source := domain.NewKnowledgeSource(s.uuidGen.NewString(), input.ProjectID, input.Meta, now)

	if err := domain.ValidateSource(source); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid source", err)
	}

	if err := s.sources.Create(ctx, source); err != nil {
		return nil, err
	}

	return source, nil
}

// GetByID retrieves a knowledge source by ID
func (s *IngestionService) GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	return s.sources.GetByID(ctx, id)
}

// ListSourcesInput holds cursor-paginated listing parameters.
type ListSourcesInput struct {
	ProjectID string
	Cursor    string
	Limit     int
}

// ListSourcesOutput is one page of sources plus the cursor for the next.
type ListSourcesOutput struct {
	Items   []*domain.KnowledgeSource
	Cursor  string
	HasMore bool
}

// ListSources retrieves one page of a project's sources.
func (s *IngestionService) ListSources(ctx context.Context, input ListSourcesInput) (*ListSourcesOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ListSources", telemetry.SpanAttributes{
		ProjectID: input.ProjectID,
		Operation: "list",
	})
	defer span.End()

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.sources.ListByProjectWithCursor(ctx, input.ProjectID, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListSourcesOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// Delete removes a source and its chunks in one transaction.
func (s *IngestionService) Delete(ctx context.Context, sourceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Delete", telemetry.SpanAttributes{
		SourceID:  sourceID,
		Operation: "delete",
	})
	defer span.End()

	return s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().DeleteBySource(ctx, sourceID); err != nil {
			return err
		}
		return repos.Sources().DeleteSource(ctx, sourceID)
	})
}

// Ingest runs the full pipeline for one source and commits the result.
// On success the chunk replacement and the ready transition land in one
// transaction, so readers never observe a chunk count from one run and
// chunks from another. Returns ErrIngestionInProgress when a run for the
// same source is already active.
func (s *IngestionService) Ingest(ctx context.Context, sourceID string, onProgress ProgressFunc) error {
	if !s.acquire(sourceID) {
		return domain.ErrIngestionInProgress
	}
	defer s.release(sourceID)

	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Ingest", telemetry.SpanAttributes{
		SourceID:  sourceID,
		Operation: "ingest",
	})
	defer span.End()

	source, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}

	if err := s.sources.SetProcessing(ctx, sourceID); err != nil {
		return err
	}

	rawText, err := s.resolveText(ctx, source)
	if err != nil {
		return err
	}

	meta := DocumentMeta{Name: source.Name, Origin: source.Origin}
	processed, err := s.pipeline.Process(ctx, rawText, meta, onProgress)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	chunks := make([]domain.KnowledgeChunk, len(processed))
	for i, pc := range processed {
		chunks[i] = domain.KnowledgeChunk{
			ID:         s.uuidGen.NewString(),
			SourceID:   source.ID,
			ProjectID:  source.ProjectID,
			Ordinal:    pc.Ordinal,
			Content:    pc.Content,
			Context:    pc.Context,
			Embedding:  pc.Embedding,
			TokenCount: pc.TokenCount,
			CreatedAt:  now,
		}
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().ReplaceChunks(ctx, source.ID, chunks); err != nil {
			return err
		}
		return repos.Sources().MarkReady(ctx, source.ID, len(chunks))
	})
	if err != nil {
		return err
	}

	log.Printf("ingest: source %s ready with %d chunks", source.ID, len(chunks))
	return nil
}

// Fail marks a source as terminally failed, clearing any chunks from a
// prior run in the same transaction so stale chunks never coexist with a
// failed status.
func (s *IngestionService) Fail(ctx context.Context, sourceID string, cause error) error {
	return s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().DeleteBySource(ctx, sourceID); err != nil {
			return err
		}
		return repos.Sources().MarkFailed(ctx, sourceID, FailureMessage(cause))
	})
}

// Retry moves a failed source back to pending so the worker picks it up
// again.
func (s *IngestionService) Retry(ctx context.Context, sourceID string, cause error) error {
	log.Printf("ingest: requeueing source %s: %s", sourceID, FailureMessage(cause))
	return s.sources.ResetPending(ctx, sourceID)
}

// resolveText returns the raw text to process: pasted content for text
// sources, downloaded and extracted bytes for file and pdf sources.
func (s *IngestionService) resolveText(ctx context.Context, source *domain.KnowledgeSource) (string, error) {
	if source.Origin == domain.SourceOriginText {
		return source.Content, nil
	}

	if s.store == nil {
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed, "no object storage configured for file sources")
	}

	data, err := s.store.Download(ctx, source.StorageKey)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeExtractionFailed, "could not fetch uploaded document", err)
	}

	text, err := s.extractor.Extract(ctx, source.Origin, data)
	if err != nil {
		return "", err
	}

	return text, nil
}

// FailureMessage renders a short human-readable error for the source
// record, distinguishing unreadable documents, empty content, and
// provider failures so callers can judge whether a retry is worthwhile.
func FailureMessage(err error) string {
	if err == nil {
		return "processing failed"
	}

	var de *domain.DomainError
	if !errors.As(err, &de) {
		return "processing failed: " + err.Error()
	}

	switch de.Code {
	case domain.ErrCodeEmptyContent:
		return "document contains no usable text"
	case domain.ErrCodeExtractionFailed:
		return "could not read document text (scanned or unsupported format)"
	case domain.ErrCodeEmbeddingFailed:
		return "embedding provider unavailable; retry later"
	case domain.ErrCodeNoChunksProduced:
		return "internal error: no chunks produced"
	}
	return de.Message
}

func (s *IngestionService) acquire(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sourceID]; busy {
		return false
	}
	s.inflight[sourceID] = struct{}{}
	return true
}

func (s *IngestionService) release(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sourceID)
}
