package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdscope/rdscope-go/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewSQLiteStore(t.TempDir()+"/audit.db", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:     "run-1",
		Repo:      "acme/widgets",
		State:     models.RunComplete,
		StartedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Processed: 12,
		Skipped:   1,
		Included:  3,
		Errors:    []string{"record x: no timestamp"},
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, sampleSummary()))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", got.Repo)
	assert.Equal(t, models.RunComplete, got.State)
	assert.Equal(t, 12, got.Processed)
	assert.Equal(t, []string{"record x: no timestamp"}, got.Errors)
}

func TestSaveRunUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := sampleSummary()
	summary.State = models.RunClassifying
	require.NoError(t, store.SaveRun(ctx, summary))

	summary.State = models.RunComplete
	summary.Processed = 20
	require.NoError(t, store.SaveRun(ctx, summary))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, got.State)
	assert.Equal(t, 20, got.Processed)

	runs, err := store.ListRuns(ctx, "acme/widgets", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJudgmentsUpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, sampleSummary()))

	j := models.RubricJudgment{
		UnitID: "c1",
		Categories: map[models.RubricCategory]models.CategoryJudgment{
			models.CategoryAdvance:     {Present: true, Rationale: "novel approach"},
			models.CategoryUncertainty: {Present: false},
			models.CategorySystematic:  {Present: false},
		},
		Confidence: 55,
		PassageIDs: []string{"advance_1"},
	}
	require.NoError(t, store.SaveJudgments(ctx, "run-1", []models.RubricJudgment{j}))

	// Saving the same unit again overwrites, never duplicates.
	j.Confidence = 60
	require.NoError(t, store.SaveJudgments(ctx, "run-1", []models.RubricJudgment{j}))

	got, err := store.GetJudgments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0].Confidence)
	assert.True(t, got[0].Satisfies(models.CategoryAdvance))
	assert.Equal(t, []string{"advance_1"}, got[0].PassageIDs)
}

func TestActivitiesReplacedPerRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, sampleSummary()))

	first := models.Activity{
		ID:    "act-1",
		Title: "Adaptive indexing research",
		Window: models.TimeWindow{
			Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		UnitIDs:    []string{"c1", "c2"},
		Rationales: map[models.RubricCategory]string{models.CategorySystematic: "iterative benchmarks"},
		Confidence: 72,
		Included:   true,
	}
	require.NoError(t, store.SaveActivities(ctx, "run-1", []models.Activity{first}))

	second := first
	second.ID = "act-2"
	second.Confidence = 80
	require.NoError(t, store.SaveActivities(ctx, "run-1", []models.Activity{second}))

	got, err := store.GetActivities(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "act-2", got[0].ID)
	assert.Equal(t, []string{"c1", "c2"}, got[0].UnitIDs)
	assert.Equal(t, "iterative benchmarks", got[0].Rationales[models.CategorySystematic])
}
