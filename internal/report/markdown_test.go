package report

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/rdscope/rdscope-go/internal/models"
)

func testActivities() []models.Activity {
	window := models.TimeWindow{
		Start: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC),
	}
	return []models.Activity{
		{
			ID:      "act-1",
			Title:   "Adaptive query planner research",
			Window:  window,
			UnitIDs: []string{"c1", "c2"},
			Rationales: map[models.RubricCategory]string{
				models.CategoryAdvance:    "novel cost model",
				models.CategorySystematic: "benchmark-driven iteration",
			},
			Confidence: 80,
			Included:   true,
		},
		{
			ID:         "act-2",
			Title:      "Routine dependency bumps",
			Window:     window,
			UnitIDs:    []string{"c3"},
			Rationales: map[models.RubricCategory]string{},
			Confidence: 20,
			Included:   false,
		},
	}
}

func testSummary() models.RunSummary {
	return models.RunSummary{
		RunID:     "run-1",
		Repo:      "acme/db",
		State:     models.RunComplete,
		Processed: 10,
		Skipped:   1,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestGenerateFiltersExcludedActivities(t *testing.T) {
	g := NewGenerator("Acme Ltd", quietLogger())

	out := g.Generate(testSummary(), testActivities(), false)

	assert.Contains(t, out, "Adaptive query planner research")
	assert.NotContains(t, out, "Routine dependency bumps")
	assert.Contains(t, out, "**Company:** Acme Ltd")
	assert.Contains(t, out, "Technical Advance")
	assert.Contains(t, out, "novel cost model")
	assert.Contains(t, out, "c1, c2")
}

func TestGenerateDiagnosticSurfacesAll(t *testing.T) {
	g := NewGenerator("", quietLogger())

	out := g.Generate(testSummary(), testActivities(), true)

	assert.Contains(t, out, "Routine dependency bumps")
	assert.Contains(t, out, "below inclusion threshold")
}

func TestGenerateEmptyRun(t *testing.T) {
	g := NewGenerator("", quietLogger())

	out := g.Generate(testSummary(), nil, false)
	assert.Contains(t, out, "No qualifying activities were identified")
}

func TestGenerateOrdersByConfidence(t *testing.T) {
	g := NewGenerator("", quietLogger())

	out := g.Generate(testSummary(), testActivities(), true)
	first := strings.Index(out, "Adaptive query planner research")
	second := strings.Index(out, "Routine dependency bumps")
	assert.Less(t, first, second)
}

func TestGenerateIncludesProcessingNotes(t *testing.T) {
	summary := testSummary()
	summary.Errors = []string{"record z: no timestamp"}

	out := NewGenerator("", quietLogger()).Generate(summary, nil, false)
	assert.Contains(t, out, "Processing Notes")
	assert.Contains(t, out, "record z: no timestamp")
}
