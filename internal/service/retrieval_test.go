package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRetrievalRepository is a mock implementation of RetrievalRepository
type MockRetrievalRepository struct {
	mock.Mock
}

func (m *MockRetrievalRepository) SearchChunksSemantic(ctx context.Context, projectID string, embedding []float32, limit int) ([]*ChunkHit, error) {
	args := m.Called(ctx, projectID, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ChunkHit), args.Error(1)
}

func (m *MockRetrievalRepository) SearchChunksLexical(ctx context.Context, projectID, query string, limit int) ([]*ChunkHit, error) {
	args := m.Called(ctx, projectID, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ChunkHit), args.Error(1)
}

// MockQuestionLogRepository is a mock implementation of QuestionLogRepository
type MockQuestionLogRepository struct {
	mock.Mock
}

func (m *MockQuestionLogRepository) LogQuestion(ctx context.Context, q *domain.VisitorQuestion) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func hit(id string, ordinal int, content string) *ChunkHit {
	return &ChunkHit{ChunkID: id, SourceID: "src-1", Ordinal: ordinal, Content: content, Score: 0.9}
}

func TestRetrievalQuery(t *testing.T) {
	embedder := &stubEmbedder{}

	t.Run("fuses semantic and lexical rankings", func(t *testing.T) {
		repo := new(MockRetrievalRepository)
		svc := NewRetrievalService(repo, embedder, nil)

		repo.On("SearchChunksSemantic", mock.Anything, "proj-1", mock.Anything, mock.Anything).
			Return([]*ChunkHit{hit("c1", 0, "alpha"), hit("c2", 1, "beta")}, nil)
		repo.On("SearchChunksLexical", mock.Anything, "proj-1", "refunds", mock.Anything).
			Return([]*ChunkHit{hit("c2", 1, "beta"), hit("c3", 2, "gamma")}, nil)

		results, err := svc.Query(context.Background(), QueryInput{ProjectID: "proj-1", Query: "refunds", Limit: 10})
		require.NoError(t, err)
		require.Len(t, results, 3)

		// c2 appears in both rankings, so fusion puts it first.
		assert.Equal(t, "c2", results[0].ChunkID)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
		}
	})

	t.Run("empty query returns empty results", func(t *testing.T) {
		svc := NewRetrievalService(new(MockRetrievalRepository), embedder, nil)
		results, err := svc.Query(context.Background(), QueryInput{ProjectID: "proj-1", Query: "   "})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("embedding failure surfaces as EMBEDDING_FAILED", func(t *testing.T) {
		svc := NewRetrievalService(new(MockRetrievalRepository), &stubEmbedder{err: errors.New("down")}, nil)
		_, err := svc.Query(context.Background(), QueryInput{ProjectID: "proj-1", Query: "refunds"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), domain.ErrCodeEmbeddingFailed)
	})

	t.Run("logs the visitor question", func(t *testing.T) {
		repo := new(MockRetrievalRepository)
		questions := new(MockQuestionLogRepository)
		svc := NewRetrievalService(repo, embedder, questions)

		repo.On("SearchChunksSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]*ChunkHit{}, nil)
		repo.On("SearchChunksLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]*ChunkHit{}, nil)
		questions.On("LogQuestion", mock.Anything, mock.MatchedBy(func(q *domain.VisitorQuestion) bool {
			return q.ProjectID == "proj-1" && q.Text == "where is my order" && q.ID != ""
		})).Return(nil)

		_, err := svc.Query(context.Background(), QueryInput{ProjectID: "proj-1", Query: "where is my order"})
		require.NoError(t, err)
		questions.AssertExpectations(t)
	})

	t.Run("question log failure does not fail the query", func(t *testing.T) {
		repo := new(MockRetrievalRepository)
		questions := new(MockQuestionLogRepository)
		svc := NewRetrievalService(repo, embedder, questions)

		repo.On("SearchChunksSemantic", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]*ChunkHit{hit("c1", 0, "alpha")}, nil)
		repo.On("SearchChunksLexical", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return([]*ChunkHit{}, nil)
		questions.On("LogQuestion", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

		results, err := svc.Query(context.Background(), QueryInput{ProjectID: "proj-1", Query: "anything"})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestFuseRankingsTieBreak(t *testing.T) {
	// Equal fused scores fall back to ordinal order.
	semantic := []*ChunkHit{hit("c9", 9, "late chunk")}
	lexical := []*ChunkHit{hit("c0", 0, "early chunk")}

	fused := fuseRankings(semantic, lexical)
	require.Len(t, fused, 2)
	// Semantic weight exceeds lexical weight at the same rank.
	assert.Equal(t, "c9", fused[0].ChunkID)
}

func TestMakeSnippet(t *testing.T) {
	assert.Equal(t, "", makeSnippet(""))
	assert.Equal(t, "a b c", makeSnippet("a\n  b\t c"))

	long := strings.Repeat("word ", 100)
	snippet := makeSnippet(long)
	assert.Len(t, snippet, defaultSnippetMaxChars)
	assert.True(t, strings.HasSuffix(snippet, "..."))
}

func TestMakeSnippet_MultiByteBoundary(t *testing.T) {
	long := strings.Repeat("é", defaultSnippetMaxChars)
	snippet := makeSnippet(long)
	assert.True(t, utf8.ValidString(snippet))
	assert.True(t, strings.HasSuffix(snippet, "..."))
	assert.LessOrEqual(t, len(snippet), defaultSnippetMaxChars)
}
