package criteria

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdscope/rdscope-go/internal/models"
)

// wordEmbedder produces a deterministic bag-of-words vector over a fixed
// vocabulary, so cosine similarity behaves like term overlap.
type wordEmbedder struct {
	vocab []string
	calls int
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls++
	lower := strings.ToLower(text)
	vec := make([]float64, len(e.vocab))
	for i, w := range e.vocab {
		vec[i] = float64(strings.Count(lower, w))
	}
	return vec, nil
}

func testEmbedder() *wordEmbedder {
	return &wordEmbedder{vocab: []string{
		"advance", "knowledge", "uncertainty", "feasible", "systematic",
		"hypothesis", "experiment", "algorithm", "novel",
	}}
}

func threePassageCorpus() []models.CriteriaPassage {
	return []models.CriteriaPassage{
		{ID: "a1", Category: models.CategoryAdvance, Text: "an advance in overall knowledge or capability"},
		{ID: "u1", Category: models.CategoryUncertainty, Text: "uncertainty about whether the approach is feasible"},
		{ID: "s1", Category: models.CategorySystematic, Text: "systematic hypothesis testing and experiment iteration"},
	}
}

func TestQueryEmptyStore(t *testing.T) {
	store := &Store{}

	results, err := store.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryExactMatchRanksFirst(t *testing.T) {
	emb := testEmbedder()
	corpus := threePassageCorpus()

	store, err := Build(context.Background(), emb, corpus, "")
	require.NoError(t, err)
	defer store.Close()

	// Query text identical to the systematic passage.
	results, err := store.Query(context.Background(), corpus[2].Text, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "s1", results[0].Passage.ID)
	assert.Equal(t, models.CategorySystematic, results[0].Passage.Category)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	// Descending order.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestQueryRespectsK(t *testing.T) {
	emb := testEmbedder()
	store, err := Build(context.Background(), emb, threePassageCorpus(), "")
	require.NoError(t, err)
	defer store.Close()

	results, err := store.Query(context.Background(), "novel algorithm advance", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = store.Query(context.Background(), "novel algorithm advance", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbeddingCacheAvoidsRepeatCalls(t *testing.T) {
	emb := testEmbedder()
	store, err := Build(context.Background(), emb, threePassageCorpus(), "")
	require.NoError(t, err)
	defer store.Close()

	buildCalls := emb.calls
	assert.Equal(t, 3, buildCalls)

	_, err = store.Query(context.Background(), "repeated query text", 3)
	require.NoError(t, err)
	_, err = store.Query(context.Background(), "repeated query text", 3)
	require.NoError(t, err)

	// Second identical query hits the cache.
	assert.Equal(t, buildCalls+1, emb.calls)
}

func TestBuildPersistsCacheAcrossRuns(t *testing.T) {
	cachePath := t.TempDir() + "/embeddings.db"
	corpus := threePassageCorpus()

	first := testEmbedder()
	store, err := Build(context.Background(), first, corpus, cachePath)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.Equal(t, 3, first.calls)

	second := testEmbedder()
	store, err = Build(context.Background(), second, corpus, cachePath)
	require.NoError(t, err)
	defer store.Close()

	// All passages served from the persisted cache.
	assert.Equal(t, 0, second.calls)
}

func TestDefaultCorpusCoversAllCategories(t *testing.T) {
	corpus := DefaultCorpus()
	require.NotEmpty(t, corpus)

	seen := map[models.RubricCategory]int{}
	ids := map[string]bool{}
	for _, p := range corpus {
		require.NotEmpty(t, p.ID)
		require.NotEmpty(t, p.Text)
		assert.False(t, ids[p.ID], "duplicate passage id %s", p.ID)
		ids[p.ID] = true
		seen[p.Category]++
	}
	for _, cat := range models.Categories() {
		assert.Greater(t, seen[cat], 0, "no passages for category %s", cat)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"length mismatch", []float64{1}, []float64{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosine(tt.a, tt.b), 1e-9)
		})
	}
}
