package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/telemetry"
)

const (
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200
	defaultSnippetMaxChars     = 220

	rrfK           = 60
	semanticWeight = 1.0
	lexicalWeight  = 0.85
)

// ChunkHit is one candidate chunk from a single ranking (semantic or
// lexical), with its ranking-local score.
type ChunkHit struct {
	ChunkID  string
	SourceID string
	Ordinal  int
	Content  string
	Context  string
	Score    float32
}

// RetrievedChunk is one fused result returned to the caller.
type RetrievedChunk struct {
	ChunkID  string
	SourceID string
	Ordinal  int
	Content  string
	Context  string
	Snippet  string
	Score    float32
}

// RetrievalRepository answers ranked chunk queries scoped to one project.
type RetrievalRepository interface {
	SearchChunksSemantic(ctx context.Context, projectID string, embedding []float32, limit int) ([]*ChunkHit, error)
	SearchChunksLexical(ctx context.Context, projectID, query string, limit int) ([]*ChunkHit, error)
}

// QuestionLogRepository records visitor questions for later clustering.
type QuestionLogRepository interface {
	LogQuestion(ctx context.Context, q *domain.VisitorQuestion) error
}

// QueryInput represents input for a retrieval query
type QueryInput struct {
	ProjectID string
	Query     string
	Limit     int
}

// RetrievalService fuses vector similarity with lexical matching into one
// ranked chunk list for a project.
type RetrievalService struct {
	repo      RetrievalRepository
	embedder  EmbeddingClient
	questions QuestionLogRepository // nil disables question logging
	uuidGen   UUIDGenerator
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(repo RetrievalRepository, embedder EmbeddingClient, questions QuestionLogRepository) *RetrievalService {
	return &RetrievalService{
		repo:      repo,
		embedder:  embedder,
		questions: questions,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// Query embeds the query text, collects semantic and lexical candidate
// rankings, and merges them with reciprocal-rank fusion. The visitor
// question is logged for analytics; logging failures never fail the
// query.
func (s *RetrievalService) Query(ctx context.Context, input QueryInput) ([]*RetrievedChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Query", telemetry.SpanAttributes{
		ProjectID: input.ProjectID,
		Operation: "query",
	})
	defer span.End()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return []*RetrievedChunk{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	s.logQuestion(ctx, input.ProjectID, query)

	candidateLimit := limit * defaultCandidateMultiplier
	if candidateLimit < defaultMinCandidates {
		candidateLimit = defaultMinCandidates
	}
	if candidateLimit > defaultMaxCandidates {
		candidateLimit = defaultMaxCandidates
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingFailed, "query embedding failed", err)
	}

	semantic, err := s.repo.SearchChunksSemantic(ctx, input.ProjectID, embedding, candidateLimit)
	if err != nil {
		return nil, err
	}

	lexical, err := s.repo.SearchChunksLexical(ctx, input.ProjectID, query, candidateLimit)
	if err != nil {
		return nil, err
	}

	fused := fuseRankings(semantic, lexical)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// fuseRankings merges two rankings with reciprocal-rank fusion. Ties
// break on ordinal, which preserves document order among equally-ranked
// chunks.
func fuseRankings(semantic, lexical []*ChunkHit) []*RetrievedChunk {
	type candidate struct {
		hit      *ChunkHit
		rrfScore float32
	}

	candidates := make(map[string]*candidate)
	addList := func(list []*ChunkHit, weight float32) {
		for i, hit := range list {
			if hit == nil {
				continue
			}
			cand, ok := candidates[hit.ChunkID]
			if !ok {
				cand = &candidate{hit: hit}
				candidates[hit.ChunkID] = cand
			}
			cand.rrfScore += weight / float32(rrfK+i+1)
		}
	}

	addList(semantic, semanticWeight)
	addList(lexical, lexicalWeight)

	out := make([]*RetrievedChunk, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, &RetrievedChunk{
			ChunkID:  cand.hit.ChunkID,
			SourceID: cand.hit.SourceID,
			Ordinal:  cand.hit.Ordinal,
			Content:  cand.hit.Content,
			Context:  cand.hit.Context,
			Snippet:  makeSnippet(cand.hit.Content),
			Score:    cand.rrfScore,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

func (s *RetrievalService) logQuestion(ctx context.Context, projectID, query string) {
	if s.questions == nil {
		return
	}
	q := &domain.VisitorQuestion{
		ID:        s.uuidGen.NewString(),
		ProjectID: projectID,
		Text:      query,
		AskedAt:   time.Now().UTC(),
	}
	if err := s.questions.LogQuestion(ctx, q); err != nil {
		log.Printf("retrieval: failed to log visitor question: %v", err)
	}
}

func makeSnippet(content string) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	if len(clean) <= defaultSnippetMaxChars {
		return clean
	}
	// Truncate on a rune boundary so multi-byte content stays valid UTF-8.
	cut := defaultSnippetMaxChars - 3
	for cut > 0 && !utf8.RuneStart(clean[cut]) {
		cut--
	}
	return clean[:cut] + "..."
}
