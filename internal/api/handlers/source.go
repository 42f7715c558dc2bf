package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/askbase-io/askbase/internal/api"
	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/go-chi/chi/v5"
)

type SourceService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*domain.KnowledgeSource, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error)
	ListSources(ctx context.Context, input service.ListSourcesInput) (*service.ListSourcesOutput, error)
	Delete(ctx context.Context, sourceID string) error
}

type SourceHandler struct {
	svc SourceService
}

func NewSourceHandler(svc SourceService) *SourceHandler {
	return &SourceHandler{svc: svc}
}

type CreateSourceRequest struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Origin     string `json:"origin"`
	Content    string `json:"content,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
}

type SourceResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Origin     string `json:"origin"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func sourceToResponse(s *domain.KnowledgeSource) *SourceResponse {
	return &SourceResponse{
		ID:         s.ID,
		ProjectID:  s.ProjectID,
		Name:       s.Name,
		Origin:     string(s.Origin),
		Status:     string(s.Status),
		ChunkCount: s.ChunkCount,
		Error:      s.Error,
		CreatedAt:  s.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:  s.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Create accepts a new knowledge source and queues it for ingestion.
// The response carries the pending source; processing happens in the
// background and completion is observable through the source status.
func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProjectID == "" {
		api.Error(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Origin == "" {
		api.Error(w, http.StatusBadRequest, "origin is required")
		return
	}

	input := service.SubmitInput{
		ProjectID: req.ProjectID,
		Meta: domain.SourceMeta{
			Name:       req.Name,
			Origin:     domain.SourceOrigin(req.Origin),
			Content:    req.Content,
			StorageKey: req.StorageKey,
		},
	}

	source, err := h.svc.Submit(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, sourceToResponse(source))
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	source, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, sourceToResponse(source))
}

type SourceListResponse struct {
	Items   []*SourceResponse `json:"items"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"has_more"`
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "project_id is required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.ListSources(r.Context(), service.ListSourcesInput{
		ProjectID: projectID,
		Cursor:    r.URL.Query().Get("cursor"),
		Limit:     limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*SourceResponse, len(output.Items))
	for i, s := range output.Items {
		items[i] = sourceToResponse(s)
	}

	api.Success(w, http.StatusOK, SourceListResponse{
		Items:   items,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}

func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}
