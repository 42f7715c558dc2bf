package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/askbase-io/askbase/internal/domain"
)

const (
	// minUtterancesForEmbedding is the floor below which clustering uses
	// plain frequency counting; tiny samples are not worth provider calls.
	minUtterancesForEmbedding = 6

	// maxClusterExamples bounds the example variants kept per cluster.
	maxClusterExamples = 3
)

// ClusterConfig controls question clustering behavior.
type ClusterConfig struct {
	// SimilarityThreshold is the cosine similarity at which an utterance
	// joins a cluster seed. Empirically chosen; a tunable, not a
	// load-bearing constant.
	SimilarityThreshold float32
	// SampleCap bounds how many utterances are embedded per request. If
	// the window holds more, the overflow is dropped: sampling bias is an
	// accepted limitation, not a bug.
	SampleCap int
	// Timeout wraps the whole embed-and-cluster step so a slow provider
	// degrades to the frequency fallback instead of hanging the caller.
	Timeout time.Duration
	// MinSemanticSample is the smallest utterance count that takes the
	// embedding path. Below it, frequency counting is used outright.
	MinSemanticSample int
}

// DefaultClusterConfig provides sane clustering defaults.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		SimilarityThreshold: 0.85,
		SampleCap:           200,
		Timeout:             20 * time.Second,
		MinSemanticSample:   minUtterancesForEmbedding,
	}
}

// QuestionClusterer groups semantically similar visitor questions for
// analytics. Embedding-provider outages degrade quality (frequency
// fallback), never availability.
type QuestionClusterer struct {
	embedder EmbeddingClient
	cfg      ClusterConfig
}

// NewQuestionClusterer creates a new QuestionClusterer instance
func NewQuestionClusterer(embedder EmbeddingClient) *QuestionClusterer {
	return NewQuestionClustererWithConfig(embedder, DefaultClusterConfig())
}

// NewQuestionClustererWithConfig creates a QuestionClusterer with explicit configuration.
func NewQuestionClustererWithConfig(embedder EmbeddingClient, cfg ClusterConfig) *QuestionClusterer {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultClusterConfig().SimilarityThreshold
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = DefaultClusterConfig().SampleCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClusterConfig().Timeout
	}
	if cfg.MinSemanticSample <= 0 {
		cfg.MinSemanticSample = minUtterancesForEmbedding
	}
	return &QuestionClusterer{embedder: embedder, cfg: cfg}
}

// Cluster groups utterances into representative clusters, ordered by
// descending member count, capped at maxClusters. Small inputs and any
// embedding error fall back to exact-match frequency counting.
func (c *QuestionClusterer) Cluster(ctx context.Context, utterances []string, maxClusters int) []domain.QuestionCluster {
	cleaned := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	if len(cleaned) == 0 {
		return []domain.QuestionCluster{}
	}
	if maxClusters <= 0 {
		maxClusters = len(cleaned)
	}

	if len(cleaned) < c.cfg.MinSemanticSample || c.embedder == nil {
		return frequencyClusters(cleaned, maxClusters)
	}

	if len(cleaned) > c.cfg.SampleCap {
		cleaned = cleaned[:c.cfg.SampleCap]
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	clusters, err := c.semanticClusters(ctx, cleaned, maxClusters)
	if err != nil {
		log.Printf("cluster: embedding path failed, falling back to frequency counts: %v", err)
		return frequencyClusters(cleaned, maxClusters)
	}

	return clusters
}

// semanticClusters runs greedy single-link clustering over utterance
// embeddings. Each unassigned utterance in input order seeds a cluster
// and absorbs all later unassigned utterances above the similarity
// threshold. Seed-order-dependent and non-optimal, but deterministic for
// a fixed input order; a deliberate trade against a global clustering
// solution.
func (c *QuestionClusterer) semanticClusters(ctx context.Context, utterances []string, maxClusters int) ([]domain.QuestionCluster, error) {
	embeddings, err := c.embedder.GenerateEmbeddings(ctx, utterances)
	if err != nil {
		return nil, err
	}

	assigned := make([]bool, len(utterances))
	clusters := make([]domain.QuestionCluster, 0, 8)

	for seed := range utterances {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true

		members := []string{utterances[seed]}
		for j := seed + 1; j < len(utterances); j++ {
			if assigned[j] {
				continue
			}
			sim, err := CosineSimilarity(embeddings[seed], embeddings[j])
			if err != nil {
				return nil, err
			}
			if sim >= c.cfg.SimilarityThreshold {
				assigned[j] = true
				members = append(members, utterances[j])
			}
		}

		clusters = append(clusters, domain.QuestionCluster{
			Representative: utterances[seed],
			Count:          len(members),
			Examples:       clusterExamples(members),
		})
	}

	sortClusters(clusters)
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	return clusters, nil
}

// frequencyClusters groups utterances by exact case-insensitive match.
// This path never fails, which keeps analytics available through
// provider outages.
func frequencyClusters(utterances []string, maxClusters int) []domain.QuestionCluster {
	counts := make(map[string][]string, len(utterances))
	order := make([]string, 0, len(utterances))

	for _, u := range utterances {
		key := strings.ToLower(u)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key] = append(counts[key], u)
	}

	clusters := make([]domain.QuestionCluster, 0, len(order))
	for _, key := range order {
		members := counts[key]
		clusters = append(clusters, domain.QuestionCluster{
			Representative: members[0],
			Count:          len(members),
			Examples:       clusterExamples(members),
		})
	}

	sortClusters(clusters)
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}
	return clusters
}

func clusterExamples(members []string) []string {
	n := len(members)
	if n > maxClusterExamples {
		n = maxClusterExamples
	}
	examples := make([]string, n)
	copy(examples, members[:n])
	return examples
}

// sortClusters orders by member count descending, breaking ties by
// representative for stable output.
func sortClusters(clusters []domain.QuestionCluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Representative < clusters[j].Representative
	})
}
