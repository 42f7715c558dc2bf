package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/askbase-io/askbase/internal/api"
	"github.com/askbase-io/askbase/internal/service"
)

type QueryService interface {
	Query(ctx context.Context, input service.QueryInput) ([]*service.RetrievedChunk, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
}

type QueryResultItem struct {
	ChunkID  string  `json:"chunk_id"`
	SourceID string  `json:"source_id"`
	Ordinal  int     `json:"ordinal"`
	Content  string  `json:"content"`
	Context  string  `json:"context,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float32 `json:"score"`
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProjectID == "" {
		api.Error(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.svc.Query(r.Context(), service.QueryInput{
		ProjectID: req.ProjectID,
		Query:     req.Query,
		Limit:     req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*QueryResultItem, len(results))
	for i, result := range results {
		items[i] = &QueryResultItem{
			ChunkID:  result.ChunkID,
			SourceID: result.SourceID,
			Ordinal:  result.Ordinal,
			Content:  result.Content,
			Context:  result.Context,
			Snippet:  result.Snippet,
			Score:    result.Score,
		}
	}

	api.Success(w, http.StatusOK, items)
}
