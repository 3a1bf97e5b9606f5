package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdscope/rdscope-go/internal/criteria"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

// staticEmbedder maps known texts to fixed vectors so retrieval is
// deterministic without network access.
type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	lower := strings.ToLower(text)
	return []float64{
		float64(strings.Count(lower, "advance")),
		float64(strings.Count(lower, "uncertainty")),
		float64(strings.Count(lower, "systematic")),
		1, // shared component so no vector is zero
	}, nil
}

// scriptedClient replays canned responses and records prompts.
type scriptedClient struct {
	responses []string
	err       error
	prompts   []string
}

func (c *scriptedClient) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	c.prompts = append(c.prompts, userPrompt)
	if c.err != nil {
		return "", c.err
	}
	i := len(c.prompts) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

const validResponse = `{
	"advance": {"present": true, "rationale": "novel indexing approach"},
	"uncertainty": {"present": true, "rationale": "feasibility unknown"},
	"systematic": {"present": false, "rationale": "no structured experiments"},
	"confidence": 72
}`

func testStore(t *testing.T) *criteria.Store {
	t.Helper()
	corpus := []models.CriteriaPassage{
		{ID: "a1", Category: models.CategoryAdvance, Text: "seeks an advance in technology"},
		{ID: "u1", Category: models.CategoryUncertainty, Text: "technological uncertainty existed"},
		{ID: "s1", Category: models.CategorySystematic, Text: "systematic investigation of the problem"},
	}
	store, err := criteria.Build(context.Background(), staticEmbedder{}, corpus, "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testUnit() models.EvidenceUnit {
	return models.EvidenceUnit{
		ID:        "u-1",
		Kind:      models.RecordKindCommit,
		Text:      "resolved uncertainty with a systematic advance in indexing",
		Timestamp: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Files:     []string{"optimizer.py"},
	}
}

func TestClassifyValidResponse(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	c := New(testStore(t), client, 3)

	judgment, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)

	assert.Equal(t, "u-1", judgment.UnitID)
	assert.True(t, judgment.Satisfies(models.CategoryAdvance))
	assert.True(t, judgment.Satisfies(models.CategoryUncertainty))
	assert.False(t, judgment.Satisfies(models.CategorySystematic))
	assert.Equal(t, 72, judgment.Confidence)
	assert.False(t, judgment.Failed)
	assert.Len(t, client.prompts, 1)

	// Retrieved grounding is recorded on the judgment.
	assert.ElementsMatch(t, []string{"a1", "u1", "s1"}, judgment.PassageIDs)
}

func TestClassifyPromptGroundedInRetrievedPassages(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	c := New(testStore(t), client, 3)

	_, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "resolved uncertainty with a systematic advance")
	assert.Contains(t, prompt, "ADVANCE:")
	assert.Contains(t, prompt, "UNCERTAINTY:")
	assert.Contains(t, prompt, "SYSTEMATIC:")
	assert.Contains(t, prompt, "seeks an advance in technology")
}

func TestClassifyClampsConfidence(t *testing.T) {
	tests := []struct {
		name     string
		reported string
		want     int
	}{
		{"above range", "150", 100},
		{"below range", "-5", 0},
		{"in range", "88", 88},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := strings.Replace(validResponse, "72", tt.reported, 1)
			client := &scriptedClient{responses: []string{resp}}
			c := New(testStore(t), client, 3)

			judgment, err := c.Classify(context.Background(), testUnit())
			require.NoError(t, err)
			assert.Equal(t, tt.want, judgment.Confidence)
		})
	}
}

func TestClassifyRecoversAfterOneSchemaFailure(t *testing.T) {
	client := &scriptedClient{responses: []string{"not json at all", validResponse}}
	c := New(testStore(t), client, 3)

	judgment, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)

	assert.False(t, judgment.Failed)
	assert.Equal(t, 72, judgment.Confidence)
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "did not match the required JSON schema")
}

func TestClassifyDoubleSchemaFailureYieldsZeroConfidence(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"confidence": 50}`, // missing category keys
		`{"advance": {"rationale": "no present flag"}}`,
	}}
	c := New(testStore(t), client, 3)

	judgment, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err, "a double schema failure degrades, never errors")

	assert.True(t, judgment.Failed)
	assert.Equal(t, 0, judgment.Confidence)
	assert.Equal(t, 0, judgment.SatisfiedCount())
	assert.NotEmpty(t, judgment.FailureReason)
}

func TestClassifyTransportErrorIsRetryable(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	c := New(testStore(t), client, 3)

	_, err := c.Classify(context.Background(), testUnit())
	require.Error(t, err)
	assert.True(t, rderrors.IsType(err, rderrors.ErrorTypeClassificationUnavailable))
}

func TestClassifyRepeatYieldsSameBooleans(t *testing.T) {
	client := &scriptedClient{responses: []string{validResponse}}
	c := New(testStore(t), client, 3)

	first, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)

	for _, cat := range models.Categories() {
		assert.Equal(t, first.Satisfies(cat), second.Satisfies(cat))
	}
	assert.Equal(t, first.PassageIDs, second.PassageIDs)
}

func TestClassifyAcceptsFencedJSON(t *testing.T) {
	client := &scriptedClient{responses: []string{"```json\n" + validResponse + "\n```"}}
	c := New(testStore(t), client, 3)

	judgment, err := c.Classify(context.Background(), testUnit())
	require.NoError(t, err)
	assert.Equal(t, 72, judgment.Confidence)
}
