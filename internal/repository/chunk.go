package repository

import (
	"context"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence and search of embedded chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes existing chunks for a source and inserts the new
// set. Callers run this inside a transaction together with the status
// update so readers never see a partial replacement.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.KnowledgeChunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		return nil
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO knowledge_chunks
				(id, source_id, project_id, ordinal, content, context, embedding, token_count, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID,
			c.SourceID,
			c.ProjectID,
			c.Ordinal,
			c.Content,
			nullableString(c.Context),
			pgvector.NewVector(c.Embedding),
			c.TokenCount,
			createdAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *ChunkRepository) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM knowledge_chunks WHERE source_id = $1`, sourceID)
	return err
}

// SearchChunksSemantic ranks a project's chunks by vector distance to
// the query embedding.
func (r *ChunkRepository) SearchChunksSemantic(ctx context.Context, projectID string, embedding []float32, limit int) ([]*service.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(embedding)
	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, ordinal, content, context,
		        1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM knowledge_chunks
		 WHERE project_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

// SearchChunksLexical ranks a project's chunks by full-text relevance.
func (r *ChunkRepository) SearchChunksLexical(ctx context.Context, projectID, query string, limit int) ([]*service.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, ordinal, content, context,
		        ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS score
		 FROM knowledge_chunks
		 WHERE project_id = $2
		   AND content_tsv @@ websearch_to_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $3`,
		query, projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkHits(rows)
}

func scanChunkHits(rows pgx.Rows) ([]*service.ChunkHit, error) {
	var hits []*service.ChunkHit
	for rows.Next() {
		var h service.ChunkHit
		var chunkContext pgtype.Text
		var score float64
		if err := rows.Scan(&h.ChunkID, &h.SourceID, &h.Ordinal, &h.Content, &chunkContext, &score); err != nil {
			return nil, err
		}
		if chunkContext.Valid {
			h.Context = chunkContext.String
		}
		h.Score = float32(score)
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
