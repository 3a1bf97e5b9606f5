// Package classify produces rubric judgments for evidence units by grounding
// an LLM prompt in retrieved criteria passages.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rdscope/rdscope-go/internal/criteria"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/llm"
	"github.com/rdscope/rdscope-go/internal/models"
)

const systemPrompt = `You are an expert in HMRC R&D tax relief criteria.
Analyze code changes to determine if they qualify as R&D work.
Be rigorous but fair in your assessment. Always respond with a single JSON object.`

const correctiveInstruction = `

Your previous response did not match the required JSON schema. Respond again
with ONLY a JSON object containing exactly these keys: "advance",
"uncertainty", "systematic" (each an object with boolean "present" and string
"rationale") and integer "confidence" between 0 and 100.`

// Classifier judges one evidence unit at a time. Safe for concurrent use:
// the store is read-only after build and the client serializes rate limiting
// internally.
type Classifier struct {
	store  *criteria.Store
	client llm.CompletionClient
	topK   int
	logger *slog.Logger
}

// New creates a classifier. topK <= 0 selects the default of 5 retrieved
// passages.
func New(store *criteria.Store, client llm.CompletionClient, topK int) *Classifier {
	if topK <= 0 {
		topK = 5
	}
	return &Classifier{
		store:  store,
		client: client,
		topK:   topK,
		logger: slog.Default().With("component", "classify"),
	}
}

// Classify produces a rubric judgment for the unit. Transport failures
// (embedding or completion) surface as retryable errors; schema failures get
// one corrective retry, then degrade to a zero-confidence failed judgment so
// the unit is auditable but excluded from activities.
func (c *Classifier) Classify(ctx context.Context, unit models.EvidenceUnit) (models.RubricJudgment, error) {
	passages, err := c.store.Query(ctx, unit.Text, c.topK)
	if err != nil {
		return models.RubricJudgment{}, rderrors.ClassificationUnavailable(err, "criteria retrieval failed for unit "+unit.ID)
	}

	prompt := buildPrompt(unit, passages)

	raw, err := c.client.CompleteJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return models.RubricJudgment{}, rderrors.ClassificationUnavailable(err, "completion failed for unit "+unit.ID)
	}

	judgment, parseErr := parseResponse(unit.ID, raw, passages)
	if parseErr == nil {
		return judgment, nil
	}

	c.logger.Warn("schema validation failed, retrying with corrective instruction",
		"unit", unit.ID, "error", parseErr)

	raw, err = c.client.CompleteJSON(ctx, systemPrompt, prompt+correctiveInstruction)
	if err != nil {
		return models.RubricJudgment{}, rderrors.ClassificationUnavailable(err, "corrective completion failed for unit "+unit.ID)
	}

	judgment, parseErr = parseResponse(unit.ID, raw, passages)
	if parseErr == nil {
		return judgment, nil
	}

	c.logger.Error("classification failed twice, recording zero-confidence judgment",
		"unit", unit.ID, "error", parseErr)

	return failedJudgment(unit.ID, parseErr), nil
}

// buildPrompt assembles the classification prompt: unit text, retrieved
// passages grouped by rubric category, and the response schema.
func buildPrompt(unit models.EvidenceUnit, passages []criteria.ScoredPassage) string {
	var b strings.Builder

	b.WriteString("Analyze this code change for R&D tax eligibility according to HMRC criteria.\n\n")
	b.WriteString("CODE CHANGE:\n")
	b.WriteString(unit.Text)
	b.WriteString("\n")

	if len(passages) > 0 {
		byCategory := map[models.RubricCategory][]criteria.ScoredPassage{}
		for _, p := range passages {
			byCategory[p.Passage.Category] = append(byCategory[p.Passage.Category], p)
		}

		b.WriteString("\nRELEVANT HMRC CRITERIA:\n")
		for _, cat := range models.Categories() {
			group := byCategory[cat]
			if len(group) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(string(cat)))
			for _, p := range group {
				fmt.Fprintf(&b, "- %s\n", p.Passage.Text)
			}
		}
	}

	b.WriteString(`
Assess the change against the three HMRC R&D tests:
1. ADVANCE: does it seek an advance in the field of science or technology, not just for this company?
2. UNCERTAINTY: was there technological uncertainty a competent professional could not readily resolve?
3. SYSTEMATIC: was a systematic investigation used to resolve the uncertainty?

Respond in JSON format with:
{
    "advance": {"present": boolean, "rationale": "What advance was sought?"},
    "uncertainty": {"present": boolean, "rationale": "What uncertainty existed?"},
    "systematic": {"present": boolean, "rationale": "How was it investigated?"},
    "confidence": 0-100
}
`)

	return b.String()
}

type categoryResponse struct {
	Present   *bool  `json:"present"`
	Rationale string `json:"rationale"`
}

type llmResponse struct {
	Advance     *categoryResponse `json:"advance"`
	Uncertainty *categoryResponse `json:"uncertainty"`
	Systematic  *categoryResponse `json:"systematic"`
	Confidence  *int              `json:"confidence"`
}

// parseResponse validates the model output against the judgment schema.
// Every category key and the confidence must be present.
func parseResponse(unitID, raw string, passages []criteria.ScoredPassage) (models.RubricJudgment, error) {
	cleaned := stripFences(raw)

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return models.RubricJudgment{}, rderrors.SchemaValidation(err, "response is not valid JSON")
	}

	fields := map[models.RubricCategory]*categoryResponse{
		models.CategoryAdvance:     resp.Advance,
		models.CategoryUncertainty: resp.Uncertainty,
		models.CategorySystematic:  resp.Systematic,
	}
	for cat, field := range fields {
		if field == nil || field.Present == nil {
			return models.RubricJudgment{}, rderrors.SchemaValidation(
				fmt.Errorf("missing %q judgment", cat), "response missing required keys")
		}
	}
	if resp.Confidence == nil {
		return models.RubricJudgment{}, rderrors.SchemaValidation(
			fmt.Errorf("missing confidence score"), "response missing required keys")
	}

	confidence := *resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	categories := make(map[models.RubricCategory]models.CategoryJudgment, len(fields))
	for cat, field := range fields {
		categories[cat] = models.CategoryJudgment{
			Present:   *field.Present,
			Rationale: field.Rationale,
		}
	}

	passageIDs := make([]string, 0, len(passages))
	for _, p := range passages {
		passageIDs = append(passageIDs, p.Passage.ID)
	}

	return models.RubricJudgment{
		UnitID:     unitID,
		Categories: categories,
		Confidence: confidence,
		PassageIDs: passageIDs,
	}, nil
}

// failedJudgment records a unit whose classification never produced a valid
// response. All categories absent, confidence zero, retained for audit.
func failedJudgment(unitID string, cause error) models.RubricJudgment {
	categories := make(map[models.RubricCategory]models.CategoryJudgment, 3)
	for _, cat := range models.Categories() {
		categories[cat] = models.CategoryJudgment{
			Present:   false,
			Rationale: "classification failed: no schema-valid response",
		}
	}
	return models.RubricJudgment{
		UnitID:        unitID,
		Categories:    categories,
		Confidence:    0,
		Failed:        true,
		FailureReason: cause.Error(),
	}
}

// stripFences removes a markdown code fence wrapper some models emit despite
// JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
