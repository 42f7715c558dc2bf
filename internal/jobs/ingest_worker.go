package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/service"
)

const (
	// MaxRetries is the maximum number of retries for a failed source
	MaxRetries = 3

	// batchSize bounds how many pending sources one poll cycle picks up
	batchSize = 20
)

// PendingSourceRepository lists sources waiting for ingestion.
type PendingSourceRepository interface {
	ListPending(ctx context.Context, limit int) ([]*domain.KnowledgeSource, error)
}

// Ingestor drives the source lifecycle for one source at a time.
type Ingestor interface {
	Ingest(ctx context.Context, sourceID string, onProgress service.ProgressFunc) error
	Fail(ctx context.Context, sourceID string, cause error) error
	Retry(ctx context.Context, sourceID string, cause error) error
}

// IngestWorker picks up pending knowledge sources and runs them through
// the processing pipeline.
type IngestWorker struct {
	repo     PendingSourceRepository
	ingestor Ingestor
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(repo PendingSourceRepository, ingestor Ingestor) *IngestWorker {
	return &IngestWorker{
		repo:     repo,
		ingestor: ingestor,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	sources, err := w.repo.ListPending(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending sources: %w", err)
	}

	if len(sources) == 0 {
		return nil
	}

	log.Printf("ingest worker: processing %d pending sources", len(sources))

	for _, source := range sources {
		if err := w.processSource(ctx, source); err != nil {
			log.Printf("ingest worker: source %s: %v", source.ID, err)
		}
	}

	return nil
}

func (w *IngestWorker) processSource(ctx context.Context, source *domain.KnowledgeSource) error {
	err := w.ingestor.Ingest(ctx, source.ID, nil)
	if err == nil {
		return nil
	}

	// Another worker instance already holds this source. A lost claim
	// race surfaces as ErrInvalidTransition when the winner flipped the
	// status first, so both mean skip, not fail.
	if errors.Is(err, domain.ErrIngestionInProgress) || errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}

	return w.handleFailure(ctx, source, err)
}

// handleFailure marks the source failed, then requeues it when the
// error is transient and the retry budget allows. Non-retryable errors
// and exhausted budgets leave the source in the failed state for manual
// intervention.
func (w *IngestWorker) handleFailure(ctx context.Context, source *domain.KnowledgeSource, ingestErr error) error {
	log.Printf("ingest worker: source %s failed: %v", source.ID, ingestErr)

	if err := w.ingestor.Fail(ctx, source.ID, ingestErr); err != nil {
		return fmt.Errorf("failed to mark source failed: %w", err)
	}

	if !domain.IsRetryable(ingestErr) {
		log.Printf("ingest worker: source %s failure is permanent, not retrying", source.ID)
		return nil
	}

	if source.Retries+1 >= MaxRetries {
		log.Printf("ingest worker: source %s exceeded max retries (%d), leaving failed", source.ID, MaxRetries)
		return nil
	}

	log.Printf("ingest worker: source %s will be retried (attempt %d/%d)", source.ID, source.Retries+1, MaxRetries)
	if err := w.ingestor.Retry(ctx, source.ID, ingestErr); err != nil {
		return fmt.Errorf("failed to requeue source: %w", err)
	}

	return nil
}
