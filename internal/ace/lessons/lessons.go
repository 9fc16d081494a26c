// Package lessons implements the Lesson Manager (spec.md §4.3):
// embedding-based dedup/merge of reusable lessons, with confidence-weighted
// pruning once the list exceeds a cap. Cosine similarity is grounded
// verbatim on internal/memory/backend/lancedb/backend.go's
// cosineSimilarity; graceful degradation on embed failure matches the
// teacher's internal/memory/manager.go cache-miss handling (log and
// continue, never hard-fail a batch operation).
package lessons

import (
	"context"
	"math"
	"sort"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// DefaultMax is the default lesson-list cap (spec.md §4.3: "max, default 100").
const DefaultMax = 100

// DefaultSimThreshold is the cosine-similarity merge threshold (spec.md §4.3).
const DefaultSimThreshold = 0.90

// Manager accumulates and prunes lessons via an embedding backend.
type Manager struct {
	embedder      llmclient.Embedder
	embeddingSpec models.ModelSpec
}

func New(embedder llmclient.Embedder, embeddingSpec models.ModelSpec) *Manager {
	return &Manager{embedder: embedder, embeddingSpec: embeddingSpec}
}

// Accumulate merges newLessons into existing (spec.md §4.3). For each new
// lesson, its content is embedded and compared against every existing
// lesson's (re-embedded) content; a cosine similarity >= simThreshold
// replaces that existing lesson's content and bumps its confidence by 1.
// Otherwise the new lesson is appended with confidence 1. If the list then
// exceeds max, only the top-max by confidence survive (ties kept in
// original relative order, via a stable sort). An embedding failure on a
// single comparison is logged by the caller (via the returned skipped
// count) and never blocks the rest of the accumulation.
func (m *Manager) Accumulate(ctx context.Context, existing []models.Lesson, newLessons []models.Lesson, max int, simThreshold float64) ([]models.Lesson, int) {
	if max <= 0 {
		max = DefaultMax
	}
	if simThreshold <= 0 {
		simThreshold = DefaultSimThreshold
	}

	merged := make([]models.Lesson, len(existing))
	copy(merged, existing)
	skipped := 0

	for _, nl := range newLessons {
		newVec, err := m.embedder.Embed(ctx, nl.Content, m.embeddingSpec)
		if err != nil {
			skipped++
			merged = append(merged, withConfidence(nl, 1))
			continue
		}

		matchIdx := -1
		bestSim := float64(-1)
		for i, existingLesson := range merged {
			existingVec, err := m.embedder.Embed(ctx, existingLesson.Content, m.embeddingSpec)
			if err != nil {
				skipped++
				continue
			}
			sim := cosineSimilarity(newVec, existingVec)
			if sim >= simThreshold && sim > bestSim {
				bestSim = sim
				matchIdx = i
			}
		}

		if matchIdx >= 0 {
			merged[matchIdx].Content = nl.Content
			merged[matchIdx].Confidence++
		} else {
			merged = append(merged, withConfidence(nl, 1))
		}
	}

	if len(merged) > max {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Confidence > merged[j].Confidence
		})
		merged = merged[:max]
	}

	return merged, skipped
}

func withConfidence(l models.Lesson, confidence int) models.Lesson {
	l.Confidence = confidence
	return l
}

// cosineSimilarity is grounded verbatim on the teacher's
// internal/memory/backend/lancedb/backend.go implementation.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
