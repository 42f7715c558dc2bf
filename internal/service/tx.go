package service

import (
	"context"

	"github.com/askbase-io/askbase/internal/domain"
)

// TxSourceWriter mutates source rows inside a transaction.
type TxSourceWriter interface {
	MarkReady(ctx context.Context, sourceID string, chunkCount int) error
	MarkFailed(ctx context.Context, sourceID string, errMsg string) error
	DeleteSource(ctx context.Context, sourceID string) error
}

// TxChunkWriter mutates chunk rows inside a transaction.
type TxChunkWriter interface {
	ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.KnowledgeChunk) error
	DeleteBySource(ctx context.Context, sourceID string) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Sources() TxSourceWriter
	Chunks() TxChunkWriter
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
