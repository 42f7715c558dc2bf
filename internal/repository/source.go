package repository

import (
	"context"
	"errors"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/pagination"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is the subset of pgxpool.Pool and pgx.Tx the repositories use, so
// the same repository type works inside and outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.KnowledgeSource) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_sources (id, project_id, name, origin, content, storage_key, status, chunk_count, error, retries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.ProjectID, s.Name, s.Origin, nullableString(s.Content), nullableString(s.StorageKey),
		s.Status, s.ChunkCount, nullableString(s.Error), s.Retries, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeSource, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, project_id, name, origin, content, storage_key, status, chunk_count, error, retries, created_at, updated_at
		 FROM knowledge_sources WHERE id = $1`,
		id,
	)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByProjectWithCursor returns one page of a project's sources,
// keyset-paginated on (updated_at, id) descending.
func (r *SourceRepository) ListByProjectWithCursor(ctx context.Context, projectID string, cursor *pagination.Cursor, limit int) (*service.SourcePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, project_id, name, origin, content, storage_key, status, chunk_count, error, retries, created_at, updated_at
			 FROM knowledge_sources
			 WHERE project_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			projectID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, project_id, name, origin, content, storage_key, status, chunk_count, error, retries, created_at, updated_at
			 FROM knowledge_sources
			 WHERE project_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			projectID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanSourceRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.SourcePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListPending returns the oldest pending sources first, for the
// background worker.
func (r *SourceRepository) ListPending(ctx context.Context, limit int) ([]*domain.KnowledgeSource, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, project_id, name, origin, content, storage_key, status, chunk_count, error, retries, created_at, updated_at
		 FROM knowledge_sources WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`,
		domain.SourceStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceRows(rows)
}

// SetProcessing performs the guarded transition into processing. The
// status predicate makes the claim atomic: when two workers race on the
// same source, exactly one update matches.
func (r *SourceRepository) SetProcessing(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET status = $1, error = NULL, chunk_count = 0, updated_at = $2
		 WHERE id = $3 AND status IN ($4, $5, $6)`,
		domain.SourceStatusProcessing, time.Now().UTC(), id,
		domain.SourceStatusPending, domain.SourceStatusReady, domain.SourceStatusFailed,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// MarkReady completes a processing run. Runs inside the same
// transaction as the chunk replacement.
func (r *SourceRepository) MarkReady(ctx context.Context, sourceID string, chunkCount int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET status = $1, chunk_count = $2, error = NULL, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		domain.SourceStatusReady, chunkCount, time.Now().UTC(), sourceID, domain.SourceStatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.transitionError(ctx, sourceID)
	}
	return nil
}

// MarkFailed records a terminal failure. Runs inside the same
// transaction as the chunk cleanup.
func (r *SourceRepository) MarkFailed(ctx context.Context, sourceID string, errMsg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET status = $1, error = $2, chunk_count = 0, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		domain.SourceStatusFailed, errMsg, time.Now().UTC(), sourceID, domain.SourceStatusProcessing,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.transitionError(ctx, sourceID)
	}
	return nil
}

// ResetPending requeues a failed source and counts the retry.
func (r *SourceRepository) ResetPending(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_sources
		 SET status = $1, error = NULL, retries = retries + 1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		domain.SourceStatusPending, time.Now().UTC(), id, domain.SourceStatusFailed,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *SourceRepository) DeleteSource(ctx context.Context, sourceID string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_sources WHERE id = $1`,
		sourceID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// transitionError distinguishes a missing row from a guard that did not
// match the current status.
func (r *SourceRepository) transitionError(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT status FROM knowledge_sources WHERE id = $1`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSourceNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func scanSource(row pgx.Row) (*domain.KnowledgeSource, error) {
	var s domain.KnowledgeSource
	var content, storageKey, errMsg pgtype.Text
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Origin, &content, &storageKey,
		&s.Status, &s.ChunkCount, &errMsg, &s.Retries, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if content.Valid {
		s.Content = content.String
	}
	if storageKey.Valid {
		s.StorageKey = storageKey.String
	}
	if errMsg.Valid {
		s.Error = errMsg.String
	}
	return &s, nil
}

func scanSourceRows(rows pgx.Rows) ([]*domain.KnowledgeSource, error) {
	var results []*domain.KnowledgeSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
