package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/askbase-io/askbase/internal/api"
	"github.com/askbase-io/askbase/internal/domain"
)

type InsightService interface {
	TopQuestions(ctx context.Context, projectID string, window time.Duration, limit int) ([]domain.QuestionCluster, error)
}

type InsightHandler struct {
	svc InsightService
}

func NewInsightHandler(svc InsightService) *InsightHandler {
	return &InsightHandler{svc: svc}
}

type QuestionClusterResponse struct {
	Representative string   `json:"representative"`
	Count          int      `json:"count"`
	Examples       []string `json:"examples"`
}

// TopQuestions returns the most frequent visitor question clusters for
// a project within a time window. window_hours defaults to one week.
func (h *InsightHandler) TopQuestions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "project_id is required")
		return
	}

	var window time.Duration
	if windowStr := r.URL.Query().Get("window_hours"); windowStr != "" {
		hours, err := strconv.Atoi(windowStr)
		if err != nil || hours <= 0 {
			api.Error(w, http.StatusBadRequest, "window_hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	clusters, err := h.svc.TopQuestions(r.Context(), projectID, window, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*QuestionClusterResponse, len(clusters))
	for i, c := range clusters {
		responses[i] = &QuestionClusterResponse{
			Representative: c.Representative,
			Count:          c.Count,
			Examples:       c.Examples,
		}
	}

	api.Success(w, http.StatusOK, responses)
}
