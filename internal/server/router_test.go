package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askbase-io/askbase/internal/api/handlers"
	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAPIToken = "akb_0123456789abcdef0123456789abcdef"

type MockSourceService struct {
	mock.Mock
}

func (m *MockSourceService) Submit(ctx context.Context, input service.SubmitInput) (*domain.KnowledgeSource, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeSource), args.Error(1)
}

func (m *MockSourceService) GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeSource), args.Error(1)
}

func (m *MockSourceService) ListSources(ctx context.Context, input service.ListSourcesInput) (*service.ListSourcesOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListSourcesOutput), args.Error(1)
}

func (m *MockSourceService) Delete(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

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

type MockInsightService struct {
	mock.Mock
}

func (m *MockInsightService) TopQuestions(ctx context.Context, projectID string, window time.Duration, limit int) ([]domain.QuestionCluster, error) {
	args := m.Called(ctx, projectID, window, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.QuestionCluster), args.Error(1)
}

func setupRouter() (http.Handler, *MockSourceService, *MockQueryService, *MockInsightService) {
	sourceSvc := new(MockSourceService)
	querySvc := new(MockQueryService)
	insightSvc := new(MockInsightService)

	cfg := RouterConfig{
		APIToken:       testAPIToken,
		SourceHandler:  handlers.NewSourceHandler(sourceSvc),
		QueryHandler:   handlers.NewQueryHandler(querySvc),
		InsightHandler: handlers.NewInsightHandler(insightSvc),
	}

	router := NewRouter(cfg)
	return router, sourceSvc, querySvc, insightSvc
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router, _, _, _ := setupRouter()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sources"},
		{http.MethodGet, "/sources"},
		{http.MethodGet, "/sources/123"},
		{http.MethodDelete, "/sources/123"},
		{http.MethodPost, "/query"},
		{http.MethodGet, "/insights/questions"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_AuthenticatedRoutes_WithValidToken(t *testing.T) {
	router, sourceSvc, _, _ := setupRouter()

	now := time.Now().UTC()
	expected := &domain.KnowledgeSource{
		ID:         "src-123",
		ProjectID:  "proj-1",
		Name:       "FAQ",
		Origin:     domain.SourceOriginText,
		Content:    "Refunds take five business days.",
		Status:     domain.SourceStatusReady,
		ChunkCount: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sourceSvc.On("GetByID", mock.Anything, "src-123").Return(expected, nil)

	req := httptest.NewRequest(http.MethodGet, "/sources/src-123", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	sourceSvc.AssertExpectations(t)
}

func TestRouter_WrongToken(t *testing.T) {
	router, _, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/sources/src-123", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_QueryRoute(t *testing.T) {
	router, _, querySvc, _ := setupRouter()

	querySvc.On("Query", mock.Anything, service.QueryInput{
		ProjectID: "proj-1",
		Query:     "refunds",
	}).Return([]*service.RetrievedChunk{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/query",
		strings.NewReader(`{"project_id":"proj-1","query":"refunds"}`))
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	querySvc.AssertExpectations(t)
}

func TestRouter_RequestBodyLimit(t *testing.T) {
	router, _, _, _ := setupRouter()

	body := strings.Repeat("a", 6*1024*1024)
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
