package lessons

import (
	"context"
	"errors"
	"testing"

	"github.com/quoracle/quoracle/pkg/models"
)

// fakeEmbedder maps exact text to a fixed vector; unknown text returns err.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestAccumulateMergesSimilarLesson(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"API uses rate limit of 60rpm":     {1, 0, 0},
		"API rate limit is 60 req/minute":  {0.99, 0.05, 0},
	}}
	m := New(embedder, "embed-model")

	existing := []models.Lesson{{Type: models.LessonFactual, Content: "API uses rate limit of 60rpm", Confidence: 1}}
	newLessons := []models.Lesson{{Type: models.LessonFactual, Content: "API rate limit is 60 req/minute"}}

	merged, skipped := m.Accumulate(context.Background(), existing, newLessons, 0, 0)
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(merged) != 1 {
		t.Fatalf("merged = %+v, want 1 lesson (should have merged)", merged)
	}
	if merged[0].Confidence != 2 {
		t.Errorf("Confidence = %d, want 2", merged[0].Confidence)
	}
	if merged[0].Content != "API rate limit is 60 req/minute" {
		t.Errorf("Content = %q, want replaced with new content", merged[0].Content)
	}
}

func TestAccumulateAppendsDissimilarLesson(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"lesson one": {1, 0, 0},
		"lesson two": {0, 1, 0},
	}}
	m := New(embedder, "embed-model")

	existing := []models.Lesson{{Type: models.LessonFactual, Content: "lesson one", Confidence: 1}}
	newLessons := []models.Lesson{{Type: models.LessonBehavioral, Content: "lesson two"}}

	merged, _ := m.Accumulate(context.Background(), existing, newLessons, 0, 0)
	if len(merged) != 2 {
		t.Fatalf("merged = %+v, want 2 lessons (should have appended)", merged)
	}
}

func TestAccumulatePrunesToMaxByConfidence(t *testing.T) {
	embedder := &fakeEmbedder{}
	m := New(embedder, "embed-model")

	existing := []models.Lesson{
		{Content: "low", Confidence: 1},
		{Content: "high", Confidence: 5},
		{Content: "mid", Confidence: 3},
	}
	merged, _ := m.Accumulate(context.Background(), existing, nil, 2, 0)
	if len(merged) != 2 {
		t.Fatalf("merged = %+v, want 2", merged)
	}
	if merged[0].Content != "high" || merged[1].Content != "mid" {
		t.Errorf("expected top-2 by confidence, got %+v", merged)
	}
}

func TestAccumulateGracefulDegradationOnEmbedFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	m := New(embedder, "embed-model")

	existing := []models.Lesson{{Content: "existing", Confidence: 1}}
	newLessons := []models.Lesson{{Content: "new one"}}

	merged, skipped := m.Accumulate(context.Background(), existing, newLessons, 0, 0)
	if skipped == 0 {
		t.Fatal("expected embed failures to be counted as skipped")
	}
	if len(merged) != 2 {
		t.Fatalf("merged = %+v, want append-on-failure to still happen (2 lessons)", merged)
	}
}
