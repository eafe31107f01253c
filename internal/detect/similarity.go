package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/coder/hnsw"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/metrics"
	"github.com/rankwatch/insight/internal/types"
)

// similarityWindowDays is the query-overlap aggregation window.
const similarityWindowDays = 28

// EmbeddingProvider is the boundary to the external embedding service.
// Embeddings are precomputed by the content pipeline; the engine only
// consumes them.
type EmbeddingProvider interface {
	// Embedding returns the content embedding for a page, or ok=false
	// when no embedding exists for it.
	Embedding(ctx context.Context, scope, page string) (vec []float32, ok bool, err error)
}

// SimilarityDetector finds keyword cannibalization: pairs of pages that
// compete for the same query set with near-duplicate content. Only pairs
// already sharing high-volume queries are compared, so the pairwise
// cosine work stays bounded by real competition rather than every page
// combination.
type SimilarityDetector struct {
	reader     metrics.Reader
	embeddings EmbeddingProvider
}

// NewSimilarityDetector creates a cannibalization detector.
func NewSimilarityDetector(reader metrics.Reader, embeddings EmbeddingProvider) *SimilarityDetector {
	return &SimilarityDetector{reader: reader, embeddings: embeddings}
}

// Name implements Detector.
func (d *SimilarityDetector) Name() string {
	return NameSimilarity
}

// Detect implements Detector.
func (d *SimilarityDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	if d.reader == nil || d.embeddings == nil {
		return nil, fmt.Errorf("metric reader and embedding provider are required")
	}

	pages, err := d.reader.PageQueries(ctx, snap.Scope)
	if err != nil {
		return nil, fmt.Errorf("fetching page queries: %w", err)
	}

	// Canonical ordering up front: pages are visited lexicographically
	// and pairs always carry the smaller page first, so (A,B) and (B,A)
	// produce one identity, not two.
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	var candidates []types.CandidateFinding

	for i := 0; i < len(pages); i++ {
		for j := i + 1; j < len(pages); j++ {
			shared := sharedHighVolumeQueries(pages[i], pages[j], cfg.Similarity.MinQueryClicks)
			if len(shared) < cfg.Similarity.MinSharedQueries {
				continue
			}

			similarity, ok := d.cosine(ctx, snap.Scope, pages[i].Page, pages[j].Page)
			if !ok || similarity < cfg.Similarity.Threshold {
				continue
			}

			first, second := pages[i].Page, pages[j].Page
			candidates = append(candidates, types.CandidateFinding{
				Scope:      snap.Scope,
				EntityType: types.EntityPage,
				EntityID:   pairID(first, second),
				Category:   types.CategoryDiagnosis,
				Source:     NameSimilarity,
				WindowDays: similarityWindowDays,
				Severity:   types.SeverityMedium,
				Confidence: math.Min(0.95, similarity),
				Title:      fmt.Sprintf("%s and %s cannibalize %d shared queries", first, second, len(shared)),
				Metrics: map[string]any{
					"page_a":         first,
					"page_b":         second,
					"similarity":     similarity,
					"shared_queries": len(shared),
				},
			})
		}
	}

	return candidates, nil
}

// pairID joins a canonically ordered page pair into one entity
// identifier. The unit separator cannot appear in a URL path.
func pairID(first, second string) string {
	return first + "\x1f" + second
}

// sharedHighVolumeQueries returns the queries both pages receive at
// least minClicks from.
func sharedHighVolumeQueries(a, b metrics.PageQueries, minClicks float64) []string {
	var shared []string
	for query, clicksA := range a.Queries {
		if clicksA < minClicks {
			continue
		}
		if clicksB, ok := b.Queries[query]; ok && clicksB >= minClicks {
			shared = append(shared, query)
		}
	}
	return shared
}

// cosine returns the cosine similarity of two pages' embeddings. A
// missing embedding or failed call is insufficient data for the pair.
func (d *SimilarityDetector) cosine(ctx context.Context, scope, pageA, pageB string) (float64, bool) {
	vecA, ok, err := d.embeddings.Embedding(ctx, scope, pageA)
	if err != nil || !ok {
		d.logSkip(scope, pageA, err)
		return 0, false
	}
	vecB, ok, err := d.embeddings.Embedding(ctx, scope, pageB)
	if err != nil || !ok {
		d.logSkip(scope, pageB, err)
		return 0, false
	}
	if len(vecA) == 0 || len(vecA) != len(vecB) {
		return 0, false
	}

	// CosineDistance is 0 for identical vectors, 2 for opposite.
	distance := hnsw.CosineDistance(vecA, vecB)
	return 1.0 - float64(distance), true
}

func (d *SimilarityDetector) logSkip(scope, page string, err error) {
	if err != nil {
		log.Debug("embedding lookup failed, skipping pair", "scope", scope, "page", page, "error", err)
	}
}
