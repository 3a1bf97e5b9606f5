package models

import (
	"time"
)

// RubricCategory is one of the three HMRC qualification tests a change is
// assessed against.
type RubricCategory string

const (
	CategoryAdvance     RubricCategory = "advance"
	CategoryUncertainty RubricCategory = "uncertainty"
	CategorySystematic  RubricCategory = "systematic"
)

// Categories returns all rubric categories in a stable order.
func Categories() []RubricCategory {
	return []RubricCategory{CategoryAdvance, CategoryUncertainty, CategorySystematic}
}

// CriteriaPassage is one embedded excerpt of the HMRC guidance corpus.
// Passages are created once at store build time and never mutated.
type CriteriaPassage struct {
	ID        string         `json:"id" yaml:"id"`
	Category  RubricCategory `json:"category" yaml:"category"`
	Text      string         `json:"text" yaml:"text"`
	Section   string         `json:"section" yaml:"section"`
	Embedding []float64      `json:"-" yaml:"-"`
}

// RecordKind distinguishes the two kinds of change records we collect.
type RecordKind string

const (
	RecordKindCommit      RecordKind = "commit"
	RecordKindPullRequest RecordKind = "pr"
)

// RawRecord is a change record as delivered by the collector, before any
// validation. Downstream components never touch RawRecords directly; the
// normalizer converts them into EvidenceUnits.
type RawRecord struct {
	ID          string     `json:"id"`
	Kind        RecordKind `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	DiffExcerpt string     `json:"diff_excerpt"`
	Author      string     `json:"author"`
	Timestamp   time.Time  `json:"timestamp"`
	Files       []string   `json:"files"`
	ParentIDs   []string   `json:"parent_ids,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// EvidenceUnit is the canonical representation of one commit or pull request,
// bounded in size and safe to embed and prompt with. Immutable once built.
type EvidenceUnit struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	Text      string     `json:"text"`
	Author    string     `json:"author"`
	Timestamp time.Time  `json:"timestamp"`
	Files     []string   `json:"files"`
	ParentIDs []string   `json:"parent_ids,omitempty"`
	Truncated bool       `json:"truncated"`
}

// CategoryJudgment is the boolean-with-rationale verdict for one rubric
// category.
type CategoryJudgment struct {
	Present   bool   `json:"present"`
	Rationale string `json:"rationale"`
}

// RubricJudgment is the output of classifying one evidence unit. Confidence is
// the model's self-reported estimate clamped to [0,100]; the engine never
// recomputes it. Failed judgments carry zero confidence and are kept for audit
// but excluded from activities.
type RubricJudgment struct {
	UnitID        string                              `json:"unit_id"`
	Categories    map[RubricCategory]CategoryJudgment `json:"categories"`
	Confidence    int                                 `json:"confidence"`
	PassageIDs    []string                            `json:"passage_ids"`
	Failed        bool                                `json:"failed,omitempty"`
	FailureReason string                              `json:"failure_reason,omitempty"`
}

// SatisfiedCount returns how many rubric categories are marked present.
func (j RubricJudgment) SatisfiedCount() int {
	n := 0
	for _, c := range j.Categories {
		if c.Present {
			n++
		}
	}
	return n
}

// Satisfies reports whether the judgment marks the given category present.
func (j RubricJudgment) Satisfies(cat RubricCategory) bool {
	return j.Categories[cat].Present
}

// TimeWindow is the inclusive time span an activity covers.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Activity is a clustered, evidence-backed claim spanning one or more
// evidence units. Mutated only by the aggregation pass that creates it.
type Activity struct {
	ID         string                    `json:"id"`
	Title      string                    `json:"title"`
	Window     TimeWindow                `json:"window"`
	UnitIDs    []string                  `json:"unit_ids"`
	Rationales map[RubricCategory]string `json:"rationales"`
	Confidence int                       `json:"confidence"`
	Included   bool                      `json:"included"`
}

// RunState tracks the orchestrator's per-batch state machine.
type RunState string

const (
	RunPending     RunState = "pending"
	RunCollecting  RunState = "collecting"
	RunClassifying RunState = "classifying"
	RunAggregating RunState = "aggregating"
	RunComplete    RunState = "complete"
	RunFailed      RunState = "failed"
)

// RunSummary is the run-level report handed to the report generator alongside
// the activity list.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Repo        string    `json:"repo"`
	State       RunState  `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	FailedUnits int       `json:"failed_units"`
	Included    int       `json:"included"`
	Errors      []string  `json:"errors,omitempty"`
}
