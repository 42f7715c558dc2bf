package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSourceRepository is a mock implementation of SourceRepositoryInterface
type MockSourceRepository struct {
	mock.Mock
}

func (m *MockSourceRepository) Create(ctx context.Context, s *domain.KnowledgeSource) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSourceRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeSource), args.Error(1)
}

func (m *MockSourceRepository) ListByProjectWithCursor(ctx context.Context, projectID string, cursor *pagination.Cursor, limit int) (*SourcePageResult, error) {
	args := m.Called(ctx, projectID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SourcePageResult), args.Error(1)
}

func (m *MockSourceRepository) SetProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSourceRepository) ResetPending(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTxSourceWriter is a mock implementation of TxSourceWriter
type MockTxSourceWriter struct {
	mock.Mock
}

func (m *MockTxSourceWriter) MarkReady(ctx context.Context, sourceID string, chunkCount int) error {
	args := m.Called(ctx, sourceID, chunkCount)
	return args.Error(0)
}

func (m *MockTxSourceWriter) MarkFailed(ctx context.Context, sourceID string, errMsg string) error {
	args := m.Called(ctx, sourceID, errMsg)
	return args.Error(0)
}

func (m *MockTxSourceWriter) DeleteSource(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

// MockTxChunkWriter is a mock implementation of TxChunkWriter
type MockTxChunkWriter struct {
	mock.Mock
}

func (m *MockTxChunkWriter) ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.KnowledgeChunk) error {
	args := m.Called(ctx, sourceID, chunks)
	return args.Error(0)
}

func (m *MockTxChunkWriter) DeleteBySource(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

// fakeTxRunner hands the same writers to every transaction and records
// how many transactions ran.
type fakeTxRunner struct {
	sources *MockTxSourceWriter
	chunks  *MockTxChunkWriter
	txCount int
	err     error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if f.err != nil {
		return f.err
	}
	f.txCount++
	return fn(f)
}

func (f *fakeTxRunner) Sources() TxSourceWriter { return f.sources }
func (f *fakeTxRunner) Chunks() TxChunkWriter   { return f.chunks }

// fakePipeline returns canned chunks, optionally blocking until released
// so tests can hold an ingestion run open.
type fakePipeline struct {
	chunks    []domain.ProcessedChunk
	err       error
	started   chan struct{}
	startOnce sync.Once
	release   chan struct{}
}

func (f *fakePipeline) Process(ctx context.Context, rawText string, meta DocumentMeta, onProgress ProgressFunc) ([]domain.ProcessedChunk, error) {
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeStore struct {
	data []byte
	err  error
	key  string
}

func (f *fakeStore) Download(ctx context.Context, key string) ([]byte, error) {
	f.key = key
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func newTestIngestion(sources *MockSourceRepository, tx *fakeTxRunner, pipeline PipelineRunner, store ObjectStore) *IngestionService {
	return NewIngestionService(sources, tx, pipeline, NewPlainTextExtractor(), store)
}

func textSource(id string) *domain.KnowledgeSource {
	return &domain.KnowledgeSource{
		ID:        id,
		ProjectID: "proj-1",
		Name:      "FAQ",
		Origin:    domain.SourceOriginText,
		Content:   "Refunds are processed within five business days.",
		Status:    domain.SourceStatusPending,
	}
}

func TestSubmit(t *testing.T) {
	t.Run("creates a pending source", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		sources.On("Create", mock.Anything, mock.MatchedBy(func(s *domain.KnowledgeSource) bool {
			return s.Status == domain.SourceStatusPending && s.ProjectID == "proj-1" && s.ID != ""
		})).Return(nil)

		source, err := svc.Submit(context.Background(), SubmitInput{
			ProjectID: "proj-1",
			Meta: domain.SourceMeta{
				Name:    "FAQ",
				Origin:  domain.SourceOriginText,
				Content: "Some pasted text.",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.SourceStatusPending, source.Status)
		sources.AssertExpectations(t)
	})

	t.Run("rejects text source without content", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		_, err := svc.Submit(context.Background(), SubmitInput{
			ProjectID: "proj-1",
			Meta:      domain.SourceMeta{Name: "FAQ", Origin: domain.SourceOriginText},
		})
		require.Error(t, err)
		var de *domain.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, domain.ErrCodeValidation, de.Code)
		sources.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects file source without storage key", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		_, err := svc.Submit(context.Background(), SubmitInput{
			ProjectID: "proj-1",
			Meta:      domain.SourceMeta{Name: "Handbook", Origin: domain.SourceOriginPDF},
		})
		require.Error(t, err)
	})
}

func TestIngest(t *testing.T) {
	t.Run("commits chunks and ready status in one transaction", func(t *testing.T) {
		sources := new(MockSourceRepository)
		txSources := new(MockTxSourceWriter)
		txChunks := new(MockTxChunkWriter)
		tx := &fakeTxRunner{sources: txSources, chunks: txChunks}

		pipeline := &fakePipeline{chunks: []domain.ProcessedChunk{
			{Ordinal: 0, Content: "first", Context: "ctx a", Embedding: []float32{1}, TokenCount: 2},
			{Ordinal: 1, Content: "second", Context: "ctx b", Embedding: []float32{2}, TokenCount: 2},
		}}
		svc := newTestIngestion(sources, tx, pipeline, nil)

		sources.On("GetByID", mock.Anything, "src-1").Return(textSource("src-1"), nil)
		sources.On("SetProcessing", mock.Anything, "src-1").Return(nil)
		txChunks.On("ReplaceChunks", mock.Anything, "src-1", mock.MatchedBy(func(chunks []domain.KnowledgeChunk) bool {
			return len(chunks) == 2 &&
				chunks[0].Ordinal == 0 && chunks[0].Content == "first" &&
				chunks[1].Ordinal == 1 && chunks[1].ProjectID == "proj-1" &&
				chunks[0].ID != "" && chunks[0].ID != chunks[1].ID
		})).Return(nil)
		txSources.On("MarkReady", mock.Anything, "src-1", 2).Return(nil)

		err := svc.Ingest(context.Background(), "src-1", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, tx.txCount)
		txSources.AssertExpectations(t)
		txChunks.AssertExpectations(t)
	})

	t.Run("rejects a second run for the same source", func(t *testing.T) {
		sources := new(MockSourceRepository)
		txSources := new(MockTxSourceWriter)
		txChunks := new(MockTxChunkWriter)
		tx := &fakeTxRunner{sources: txSources, chunks: txChunks}

		pipeline := &fakePipeline{
			chunks:  []domain.ProcessedChunk{{Ordinal: 0, Content: "only", Embedding: []float32{1}}},
			started: make(chan struct{}),
			release: make(chan struct{}),
		}
		svc := newTestIngestion(sources, tx, pipeline, nil)

		sources.On("GetByID", mock.Anything, "src-1").Return(textSource("src-1"), nil)
		sources.On("SetProcessing", mock.Anything, "src-1").Return(nil)
		txChunks.On("ReplaceChunks", mock.Anything, "src-1", mock.Anything).Return(nil)
		txSources.On("MarkReady", mock.Anything, "src-1", 1).Return(nil)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Ingest(context.Background(), "src-1", nil)
		}()

		<-pipeline.started
		err := svc.Ingest(context.Background(), "src-1", nil)
		assert.ErrorIs(t, err, domain.ErrIngestionInProgress)

		close(pipeline.release)
		wg.Wait()

		// The slot frees up once the first run completes.
		err = svc.Ingest(context.Background(), "src-1", nil)
		require.NoError(t, err)
	})

	t.Run("propagates pipeline failure without committing", func(t *testing.T) {
		sources := new(MockSourceRepository)
		txSources := new(MockTxSourceWriter)
		txChunks := new(MockTxChunkWriter)
		tx := &fakeTxRunner{sources: txSources, chunks: txChunks}

		pipeline := &fakePipeline{err: domain.NewDomainError(domain.ErrCodeEmptyContent, "no usable text")}
		svc := newTestIngestion(sources, tx, pipeline, nil)

		sources.On("GetByID", mock.Anything, "src-1").Return(textSource("src-1"), nil)
		sources.On("SetProcessing", mock.Anything, "src-1").Return(nil)

		err := svc.Ingest(context.Background(), "src-1", nil)
		require.Error(t, err)
		assert.Equal(t, 0, tx.txCount)
		txChunks.AssertNotCalled(t, "ReplaceChunks", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("downloads and extracts file sources", func(t *testing.T) {
		sources := new(MockSourceRepository)
		txSources := new(MockTxSourceWriter)
		txChunks := new(MockTxChunkWriter)
		tx := &fakeTxRunner{sources: txSources, chunks: txChunks}
		store := &fakeStore{data: []byte("Plain text from the upload.")}

		pipeline := &fakePipeline{chunks: []domain.ProcessedChunk{{Ordinal: 0, Content: "only", Embedding: []float32{1}}}}
		svc := newTestIngestion(sources, tx, pipeline, store)

		fileSource := &domain.KnowledgeSource{
			ID:         "src-2",
			ProjectID:  "proj-1",
			Name:       "upload.txt",
			Origin:     domain.SourceOriginFile,
			StorageKey: "proj-1/src-2/upload.txt",
			Status:     domain.SourceStatusPending,
		}
		sources.On("GetByID", mock.Anything, "src-2").Return(fileSource, nil)
		sources.On("SetProcessing", mock.Anything, "src-2").Return(nil)
		txChunks.On("ReplaceChunks", mock.Anything, "src-2", mock.Anything).Return(nil)
		txSources.On("MarkReady", mock.Anything, "src-2", 1).Return(nil)

		err := svc.Ingest(context.Background(), "src-2", nil)
		require.NoError(t, err)
		assert.Equal(t, "proj-1/src-2/upload.txt", store.key)
	})

	t.Run("download failure surfaces as EXTRACTION_FAILED", func(t *testing.T) {
		sources := new(MockSourceRepository)
		tx := &fakeTxRunner{sources: new(MockTxSourceWriter), chunks: new(MockTxChunkWriter)}
		store := &fakeStore{err: errors.New("object missing")}
		svc := newTestIngestion(sources, tx, &fakePipeline{}, store)

		fileSource := &domain.KnowledgeSource{
			ID:         "src-3",
			ProjectID:  "proj-1",
			Name:       "upload.txt",
			Origin:     domain.SourceOriginFile,
			StorageKey: "proj-1/src-3/upload.txt",
			Status:     domain.SourceStatusPending,
		}
		sources.On("GetByID", mock.Anything, "src-3").Return(fileSource, nil)
		sources.On("SetProcessing", mock.Anything, "src-3").Return(nil)

		err := svc.Ingest(context.Background(), "src-3", nil)
		require.Error(t, err)
		var de *domain.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, domain.ErrCodeExtractionFailed, de.Code)
	})
}

func TestFail(t *testing.T) {
	t.Run("clears chunks and marks failed in one transaction", func(t *testing.T) {
		txSources := new(MockTxSourceWriter)
		txChunks := new(MockTxChunkWriter)
		tx := &fakeTxRunner{sources: txSources, chunks: txChunks}
		svc := newTestIngestion(new(MockSourceRepository), tx, &fakePipeline{}, nil)

		txChunks.On("DeleteBySource", mock.Anything, "src-1").Return(nil)
		txSources.On("MarkFailed", mock.Anything, "src-1", "document contains no usable text").Return(nil)

		cause := domain.NewDomainError(domain.ErrCodeEmptyContent, "no usable text")
		err := svc.Fail(context.Background(), "src-1", cause)
		require.NoError(t, err)
		assert.Equal(t, 1, tx.txCount)
		txSources.AssertExpectations(t)
		txChunks.AssertExpectations(t)
	})
}

func TestRetry(t *testing.T) {
	sources := new(MockSourceRepository)
	svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

	sources.On("ResetPending", mock.Anything, "src-1").Return(nil)

	cause := domain.NewDomainError(domain.ErrCodeEmbeddingFailed, "provider 503")
	err := svc.Retry(context.Background(), "src-1", cause)
	require.NoError(t, err)
	sources.AssertExpectations(t)
}

func TestDelete(t *testing.T) {
	txSources := new(MockTxSourceWriter)
	txChunks := new(MockTxChunkWriter)
	tx := &fakeTxRunner{sources: txSources, chunks: txChunks}
	svc := newTestIngestion(new(MockSourceRepository), tx, &fakePipeline{}, nil)

	txChunks.On("DeleteBySource", mock.Anything, "src-1").Return(nil)
	txSources.On("DeleteSource", mock.Anything, "src-1").Return(nil)

	err := svc.Delete(context.Background(), "src-1")
	require.NoError(t, err)
	txSources.AssertExpectations(t)
	txChunks.AssertExpectations(t)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "processing failed",
		},
		{
			name: "empty content",
			err:  domain.NewDomainError(domain.ErrCodeEmptyContent, "x"),
			want: "document contains no usable text",
		},
		{
			name: "extraction failure",
			err:  domain.NewDomainError(domain.ErrCodeExtractionFailed, "x"),
			want: "could not read document text (scanned or unsupported format)",
		},
		{
			name: "wrapped embedding failure",
			err:  fmt.Errorf("pipeline: %w", domain.NewDomainError(domain.ErrCodeEmbeddingFailed, "x")),
			want: "embedding provider unavailable; retry later",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "processing failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureMessage(tt.err))
		})
	}
}

func TestIngestionService_ListSources(t *testing.T) {
	t.Run("first page defaults limit and nil cursor", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		page := &SourcePageResult{
			Items:      []*domain.KnowledgeSource{textSource("src-1")},
			NextCursor: "cursor-next",
			HasMore:    true,
		}
		sources.On("ListByProjectWithCursor", mock.Anything, "proj-1", (*pagination.Cursor)(nil), 20).
			Return(page, nil)

		output, err := svc.ListSources(context.Background(), ListSourcesInput{ProjectID: "proj-1"})

		require.NoError(t, err)
		assert.Len(t, output.Items, 1)
		assert.Equal(t, "cursor-next", output.Cursor)
		assert.True(t, output.HasMore)
		sources.AssertExpectations(t)
	})

	t.Run("decodes the cursor before handing it to the repository", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		encoded := pagination.EncodeCursor("src-9", ts)

		sources.On("ListByProjectWithCursor", mock.Anything, "proj-1", mock.MatchedBy(func(c *pagination.Cursor) bool {
			return c != nil && c.LastID == "src-9" && c.Timestamp.Equal(ts)
		}), 5).Return(&SourcePageResult{}, nil)

		_, err := svc.ListSources(context.Background(), ListSourcesInput{
			ProjectID: "proj-1",
			Cursor:    encoded,
			Limit:     5,
		})

		require.NoError(t, err)
		sources.AssertExpectations(t)
	})

	t.Run("repository error propagates", func(t *testing.T) {
		sources := new(MockSourceRepository)
		svc := newTestIngestion(sources, &fakeTxRunner{}, &fakePipeline{}, nil)

		sources.On("ListByProjectWithCursor", mock.Anything, "proj-1", (*pagination.Cursor)(nil), 20).
			Return(nil, assert.AnError)

		_, err := svc.ListSources(context.Background(), ListSourcesInput{ProjectID: "proj-1"})

		assert.Error(t, err)
	})
}
