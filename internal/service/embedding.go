package service

import (
	"context"
	"math"

	"github.com/askbase-io/askbase/internal/domain"
)

// EmbeddingClient defines the interface for generating embeddings.
// It is shared by the processing pipeline (contextualized chunks), the
// question clusterer (visitor utterances), and query-time retrieval.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity returns the cosine of the angle between a and b,
// in [-1, 1]. Vectors of different lengths indicate a provider or model
// version mismatch and fail with a DIMENSION_MISMATCH error.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, domain.ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}
