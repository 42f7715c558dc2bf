package service

import (
	"context"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/telemetry"
)

// QuestionWindowRepository fetches logged visitor questions in a window.
type QuestionWindowRepository interface {
	ListQuestionsSince(ctx context.Context, projectID string, since time.Time) ([]*domain.VisitorQuestion, error)
}

// InsightService computes question analytics for a project.
type InsightService struct {
	questions QuestionWindowRepository
	clusterer *QuestionClusterer
}

// NewInsightService creates a new InsightService instance
func NewInsightService(questions QuestionWindowRepository, clusterer *QuestionClusterer) *InsightService {
	return &InsightService{questions: questions, clusterer: clusterer}
}

// TopQuestions clusters the visitor questions asked within the window
// and returns the largest clusters first. An empty window yields an
// empty list, not an error.
func (s *InsightService) TopQuestions(ctx context.Context, projectID string, window time.Duration, limit int) ([]domain.QuestionCluster, error) {
	ctx, span := telemetry.StartSpan(ctx, "InsightService.TopQuestions", telemetry.SpanAttributes{
		ProjectID: projectID,
		Operation: "top_questions",
	})
	defer span.End()

	if window <= 0 {
		window = 7 * 24 * time.Hour
	}

	since := time.Now().UTC().Add(-window)
	questions, err := s.questions.ListQuestionsSince(ctx, projectID, since)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return []domain.QuestionCluster{}, nil
	}

	utterances := make([]string, 0, len(questions))
	for _, q := range questions {
		utterances = append(utterances, q.Text)
	}

	return s.clusterer.Cluster(ctx, utterances, limit), nil
}
