package domain

import "time"

// ProcessedChunk is the output unit of the processing pipeline, not yet
// persisted. Ordinals are contiguous starting at 0 for a single run.
type ProcessedChunk struct {
	Ordinal    int
	Content    string
	Context    string
	Embedding  []float32
	TokenCount int // approximate, not exact tokenizer output
}

// KnowledgeChunk represents a persisted chunk owned by a knowledge source.
// Chunks are deleted en masse when the source is deleted or re-processed.
type KnowledgeChunk struct {
	ID         string
	SourceID   string
	ProjectID  string
	Ordinal    int
	Content    string
	Context    string
	Embedding  []float32
	TokenCount int
	CreatedAt  time.Time
}

// EmbeddingText returns the text a chunk's embedding is computed over:
// the situating context followed by the verbatim content.
func (c *ProcessedChunk) EmbeddingText() string {
	if c.Context == "" {
		return c.Content
	}
	return c.Context + "\n" + c.Content
}
