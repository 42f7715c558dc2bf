package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/panjf2000/ants/v2"
)

// Pipeline stage names reported through ProgressFunc.
const (
	StageNormalize = "normalize"
	StageChunk     = "chunk"
	StageAnnotate  = "annotate"
	StageEmbed     = "embed"
)

// ProgressFunc receives per-stage progress as the pipeline advances.
// May be nil.
type ProgressFunc func(stage string, completed, total int)

// Annotator produces a situating context for one segment of a document
type Annotator interface {
	Annotate(ctx context.Context, meta DocumentMeta, segments []string, index int) string
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Chunk ChunkConfig
	// Concurrency bounds parallel provider calls per stage, to respect
	// external rate limits. Defaults to 4.
	Concurrency int
}

// DefaultPipelineConfig provides sane pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunk:       DefaultChunkConfig(),
		Concurrency: 4,
	}
}

// ProcessingPipeline turns raw document text into ordered, contextualized,
// embedded chunks. It is a pure transformation: persistence is the
// caller's responsibility, so the same pipeline serves both initial
// ingestion and administrative re-processing.
type ProcessingPipeline struct {
	annotator Annotator
	embedder  EmbeddingClient
	cfg       PipelineConfig
}

// NewProcessingPipeline creates a new ProcessingPipeline instance
func NewProcessingPipeline(annotator Annotator, embedder EmbeddingClient) *ProcessingPipeline {
	return NewProcessingPipelineWithConfig(annotator, embedder, DefaultPipelineConfig())
}

// NewProcessingPipelineWithConfig creates a ProcessingPipeline with explicit configuration.
func NewProcessingPipelineWithConfig(annotator Annotator, embedder EmbeddingClient, cfg PipelineConfig) *ProcessingPipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultPipelineConfig().Concurrency
	}
	if cfg.Chunk.TargetTokens <= 0 {
		cfg.Chunk = DefaultChunkConfig()
	}
	return &ProcessingPipeline{
		annotator: annotator,
		embedder:  embedder,
		cfg:       cfg,
	}
}

// Process runs normalize -> chunk -> annotate -> embed over rawText and
// returns the ordered chunks. Annotation failures degrade to empty
// contexts per segment; an embedding failure aborts the whole run.
func (p *ProcessingPipeline) Process(ctx context.Context, rawText string, meta DocumentMeta, onProgress ProgressFunc) ([]domain.ProcessedChunk, error) {
	report := func(stage string, completed, total int) {
		if onProgress != nil {
			onProgress(stage, completed, total)
		}
	}

	text, err := NormalizeText(rawText)
	if err != nil {
		return nil, err
	}
	report(StageNormalize, 1, 1)

	segments := ChunkText(text, p.cfg.Chunk)
	if len(segments) == 0 {
		// Normalization already rejected empty input, so this indicates
		// a chunker bug, not bad user input.
		return nil, domain.ErrNoChunksProduced
	}
	report(StageChunk, len(segments), len(segments))

	contexts, err := p.annotateAll(ctx, meta, segments, report)
	if err != nil {
		return nil, err
	}

	embeddings, err := p.embedAll(ctx, segments, contexts, report)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.ProcessedChunk, len(segments))
	for i, segment := range segments {
		chunks[i] = domain.ProcessedChunk{
			Ordinal:    i,
			Content:    segment,
			Context:    contexts[i],
			Embedding:  embeddings[i],
			TokenCount: EstimateTokens(segment),
		}
	}

	return chunks, nil
}

// annotateAll fans segment annotation out over a bounded worker pool.
// Per-segment failures are already absorbed by the Annotator.
func (p *ProcessingPipeline) annotateAll(ctx context.Context, meta DocumentMeta, segments []string, report ProgressFunc) ([]string, error) {
	contexts := make([]string, len(segments))
	if p.annotator == nil {
		report(StageAnnotate, len(segments), len(segments))
		return contexts, nil
	}

	pool, err := ants.NewPool(p.cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var done atomic.Int64
	for i := range segments {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			contexts[i] = p.annotator.Annotate(ctx, meta, segments, i)
			report(StageAnnotate, int(done.Add(1)), len(segments))
		})
		if submitErr != nil {
			wg.Done()
			return nil, submitErr
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return contexts, nil
}

// embedAll fans chunk embedding out over a bounded worker pool. The
// embedded text is context + "\n" + content. Any provider error aborts
// the run.
func (p *ProcessingPipeline) embedAll(ctx context.Context, segments, contexts []string, report ProgressFunc) ([][]float32, error) {
	pool, err := ants.NewPool(p.cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	embeddings := make([][]float32, len(segments))
	errs := make([]error, len(segments))

	var wg sync.WaitGroup
	var done atomic.Int64
	for i := range segments {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			chunk := domain.ProcessedChunk{Content: segments[i], Context: contexts[i]}
			embeddings[i], errs[i] = p.embedder.GenerateEmbedding(ctx, chunk.EmbeddingText())
			report(StageEmbed, int(done.Add(1)), len(segments))
		})
		if submitErr != nil {
			wg.Done()
			return nil, submitErr
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, e := range errs {
		if e != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingFailed, "chunk embedding failed", e)
		}
	}

	return embeddings, nil
}
