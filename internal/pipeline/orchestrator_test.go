package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdscope/rdscope-go/internal/aggregate"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
	"github.com/rdscope/rdscope-go/internal/normalize"
)

type fakeCollector struct {
	records []models.RawRecord
	err     error
}

func (f *fakeCollector) Collect(_ context.Context, _ string, _ time.Time) ([]models.RawRecord, error) {
	return f.records, f.err
}

// fakeClassifier marks every unit's advance test present with a fixed
// confidence, optionally failing some units a set number of times first.
type fakeClassifier struct {
	mu         sync.Mutex
	calls      map[string]int
	failuresBy map[string]int // unit ID -> transient failures before success
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{calls: map[string]int{}, failuresBy: map[string]int{}}
}

func (f *fakeClassifier) Classify(_ context.Context, unit models.EvidenceUnit) (models.RubricJudgment, error) {
	f.mu.Lock()
	f.calls[unit.ID]++
	remaining := f.failuresBy[unit.ID]
	if remaining > 0 {
		f.failuresBy[unit.ID]--
	}
	f.mu.Unlock()

	if remaining > 0 {
		return models.RubricJudgment{}, rderrors.ClassificationUnavailable(context.DeadlineExceeded, "quota exhausted")
	}

	categories := map[models.RubricCategory]models.CategoryJudgment{}
	for _, cat := range models.Categories() {
		categories[cat] = models.CategoryJudgment{Present: cat == models.CategoryAdvance, Rationale: "ok"}
	}
	return models.RubricJudgment{UnitID: unit.ID, Categories: categories, Confidence: 70}, nil
}

func record(id string, ts time.Time, files ...string) models.RawRecord {
	return models.RawRecord{
		ID:        id,
		Kind:      models.RecordKindCommit,
		Title:     "change " + id,
		Timestamp: ts,
		Files:     files,
	}
}

func newOrchestrator(c Collector, cl Classifier) *Orchestrator {
	return New(
		c,
		normalize.New(4000),
		cl,
		aggregate.New(14, 5, 50, 0),
		Options{Workers: 2, RetryAttempts: 3, RetryBase: time.Millisecond},
	)
}

func TestRunHappyPath(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	collector := &fakeCollector{records: []models.RawRecord{
		record("c1", ts, "engine.go"),
		record("c2", ts.AddDate(0, 0, 2), "engine.go"),
	}}

	o := newOrchestrator(collector, newFakeClassifier())
	result, err := o.Run(context.Background(), "acme/engine", ts.AddDate(0, -1, 0))
	require.NoError(t, err)

	assert.Equal(t, models.RunComplete, result.Summary.State)
	assert.Equal(t, 2, result.Summary.Processed)
	assert.Equal(t, 0, result.Summary.Skipped)
	assert.Equal(t, 0, result.Summary.FailedUnits)
	assert.Len(t, result.Judgments, 2)
	require.Len(t, result.Activities, 1)
	assert.Equal(t, 1, result.Summary.Included)
}

func TestRunJudgmentCountMatchesUnits(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	var records []models.RawRecord
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		records = append(records, record(id, ts, id+".go"))
	}

	o := newOrchestrator(&fakeCollector{records: records}, newFakeClassifier())
	result, err := o.Run(context.Background(), "acme/engine", ts)
	require.NoError(t, err)

	// One judgment per normalized unit, no more, no less.
	assert.Len(t, result.Judgments, len(result.Units))
	seen := map[string]bool{}
	for _, j := range result.Judgments {
		assert.False(t, seen[j.UnitID], "duplicate judgment for %s", j.UnitID)
		seen[j.UnitID] = true
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	bad := record("", ts, "x.go") // no identifier
	collector := &fakeCollector{records: []models.RawRecord{
		record("good", ts, "x.go"),
		bad,
	}}

	o := newOrchestrator(collector, newFakeClassifier())
	result, err := o.Run(context.Background(), "acme/engine", ts)
	require.NoError(t, err)

	assert.Equal(t, models.RunComplete, result.Summary.State)
	assert.Equal(t, 1, result.Summary.Skipped)
	assert.Equal(t, 1, result.Summary.Processed)
	assert.NotEmpty(t, result.Summary.Errors)
}

func TestRunDuplicateIdentifiersIdempotent(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	first := record("dup", ts, "old.go")
	second := record("dup", ts.AddDate(0, 0, 1), "new.go")
	collector := &fakeCollector{records: []models.RawRecord{first, second}}

	o := newOrchestrator(collector, newFakeClassifier())
	result, err := o.Run(context.Background(), "acme/engine", ts)
	require.NoError(t, err)

	// Second ingestion overwrites, never duplicates.
	assert.Len(t, result.Units, 1)
	assert.Len(t, result.Judgments, 1)
	assert.Equal(t, []string{"new.go"}, result.Units["dup"].Files)
}

func TestRunRetriesTransientUnavailability(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	classifier := newFakeClassifier()
	classifier.failuresBy["c1"] = 2 // succeeds on third attempt

	o := newOrchestrator(&fakeCollector{records: []models.RawRecord{record("c1", ts, "x.go")}}, classifier)
	result, err := o.Run(context.Background(), "acme/engine", ts)
	require.NoError(t, err)

	assert.Equal(t, 3, classifier.calls["c1"])
	assert.Equal(t, 0, result.Summary.FailedUnits)
	assert.False(t, result.Judgments[0].Failed)
}

func TestRunExhaustedRetriesMarkUnitFailed(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	classifier := newFakeClassifier()
	classifier.failuresBy["c1"] = 10 // never recovers within 3 attempts

	collector := &fakeCollector{records: []models.RawRecord{
		record("c1", ts, "x.go"),
		record("c2", ts, "y.go"),
	}}

	o := newOrchestrator(collector, classifier)
	result, err := o.Run(context.Background(), "acme/engine", ts)
	require.NoError(t, err, "per-unit failures never fail the batch")

	assert.Equal(t, models.RunComplete, result.Summary.State)
	assert.Equal(t, 3, classifier.calls["c1"])
	assert.Equal(t, 1, result.Summary.FailedUnits)
	assert.NotEmpty(t, result.Summary.Errors)

	// The failed unit is still recorded for audit.
	var failed *models.RubricJudgment
	for i := range result.Judgments {
		if result.Judgments[i].UnitID == "c1" {
			failed = &result.Judgments[i]
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.Failed)
	assert.Equal(t, 0, failed.Confidence)

	// And excluded from activities.
	for _, a := range result.Activities {
		assert.NotContains(t, a.UnitIDs, "c1")
	}
}

func TestRunCollectionFailureIsTerminal(t *testing.T) {
	o := newOrchestrator(&fakeCollector{err: context.DeadlineExceeded}, newFakeClassifier())

	_, err := o.Run(context.Background(), "acme/engine", time.Now())
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, o.summary.State)
}

func TestRunCancellation(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	classifier := newFakeClassifier()
	classifier.failuresBy["c1"] = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(&fakeCollector{records: []models.RawRecord{record("c1", ts, "x.go")}}, classifier)
	_, err := o.Run(ctx, "acme/engine", ts)
	require.Error(t, err)
}
