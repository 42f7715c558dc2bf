package repository

import (
	"context"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuestionRepository records and reads visitor questions.
type QuestionRepository struct {
	db dbtx
}

func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: pool}
}

func (r *QuestionRepository) LogQuestion(ctx context.Context, q *domain.VisitorQuestion) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO visitor_questions (id, project_id, text, asked_at)
		 VALUES ($1, $2, $3, $4)`,
		q.ID, q.ProjectID, q.Text, q.AskedAt,
	)
	return err
}

func (r *QuestionRepository) ListQuestionsSince(ctx context.Context, projectID string, since time.Time) ([]*domain.VisitorQuestion, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, text, asked_at
		 FROM visitor_questions
		 WHERE project_id = $1 AND asked_at >= $2
		 ORDER BY asked_at DESC`,
		projectID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*domain.VisitorQuestion
	for rows.Next() {
		var q domain.VisitorQuestion
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Text, &q.AskedAt); err != nil {
			return nil, err
		}
		questions = append(questions, &q)
	}
	return questions, rows.Err()
}
