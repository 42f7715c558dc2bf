package domain

import "time"

// VisitorQuestion is one utterance logged from a chat session
type VisitorQuestion struct {
	ID        string
	ProjectID string
	Text      string
	AskedAt   time.Time
}

// QuestionCluster groups semantically similar visitor questions.
// Clusters are ephemeral: recomputed on every analytics request, never
// persisted.
type QuestionCluster struct {
	Representative string
	Count          int
	Examples       []string // up to 3 member variants, seed included
}
