package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) Query(ctx context.Context, input service.QueryInput) ([]*service.RetrievedChunk, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.RetrievedChunk), args.Error(1)
}

func TestQueryHandler_Query(t *testing.T) {
	mockSvc := new(MockQueryService)
	handler := NewQueryHandler(mockSvc)

	results := []*service.RetrievedChunk{
		{
			ChunkID:  "chunk-1",
			SourceID: "src-1",
			Ordinal:  0,
			Content:  "Refunds take five business days to process.",
			Context:  "Refund policy",
			Snippet:  "Refunds take five business days to process.",
			Score:    0.042,
		},
	}
	mockSvc.On("Query", mock.Anything, service.QueryInput{
		ProjectID: "proj-1",
		Query:     "how long do refunds take",
		Limit:     5,
	}).Return(results, nil)

	body, _ := json.Marshal(QueryRequest{
		ProjectID: "proj-1",
		Query:     "how long do refunds take",
		Limit:     5,
	})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []QueryResultItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "chunk-1", resp.Data[0].ChunkID)
	assert.Equal(t, "Refund policy", resp.Data[0].Context)
	assert.InDelta(t, 0.042, resp.Data[0].Score, 0.0001)
	mockSvc.AssertExpectations(t)
}

func TestQueryHandler_Query_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing project_id", `{"query":"refunds"}`},
		{"missing query", `{"project_id":"proj-1"}`},
		{"malformed json", `{"project_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := new(MockQueryService)
			handler := NewQueryHandler(mockSvc)

			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.Query(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockSvc.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
		})
	}
}

func TestQueryHandler_Query_EmbeddingFailure(t *testing.T) {
	mockSvc := new(MockQueryService)
	handler := NewQueryHandler(mockSvc)

	mockSvc.On("Query", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrCodeEmbeddingFailed, "embedding provider unavailable"))

	req := httptest.NewRequest(http.MethodPost, "/query",
		strings.NewReader(`{"project_id":"proj-1","query":"refunds"}`))
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestQueryHandler_Query_EmptyResults(t *testing.T) {
	mockSvc := new(MockQueryService)
	handler := NewQueryHandler(mockSvc)

	mockSvc.On("Query", mock.Anything, mock.Anything).
		Return([]*service.RetrievedChunk{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/query",
		strings.NewReader(`{"project_id":"proj-1","query":"zzz"}`))
	w := httptest.NewRecorder()

	handler.Query(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}
