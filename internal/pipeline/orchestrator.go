// Package pipeline sequences collection, normalization, classification, and
// aggregation over one batch run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rdscope/rdscope-go/internal/aggregate"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
	"github.com/rdscope/rdscope-go/internal/normalize"
)

// Collector supplies raw change records for a repository and time window.
type Collector interface {
	Collect(ctx context.Context, repo string, since time.Time) ([]models.RawRecord, error)
}

// Classifier judges a single evidence unit.
type Classifier interface {
	Classify(ctx context.Context, unit models.EvidenceUnit) (models.RubricJudgment, error)
}

// Options bound the orchestrator's concurrency and retry behavior.
type Options struct {
	Workers       int           // concurrent classifications, default 4
	RetryAttempts int           // attempts per unit on unavailability, default 3
	RetryBase     time.Duration // backoff base delay, default 1s
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	return o
}

// Result is the complete output of one run.
type Result struct {
	Summary    models.RunSummary
	Units      map[string]models.EvidenceUnit
	Judgments  []models.RubricJudgment
	Activities []models.Activity
}

// Orchestrator drives one batch through the run state machine. Per-unit
// failures accumulate in the run error log; only collection or setup failures
// fail the batch.
type Orchestrator struct {
	collector  Collector
	normalizer *normalize.Normalizer
	classifier Classifier
	aggregator *aggregate.Aggregator
	opts       Options
	logger     *slog.Logger

	mu      sync.Mutex
	summary models.RunSummary
}

// New creates an orchestrator over the supplied stages.
func New(collector Collector, normalizer *normalize.Normalizer, classifier Classifier, aggregator *aggregate.Aggregator, opts Options) *Orchestrator {
	return &Orchestrator{
		collector:  collector,
		normalizer: normalizer,
		classifier: classifier,
		aggregator: aggregator,
		opts:       opts.withDefaults(),
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Run executes one batch for the repository. The returned Result is valid
// whenever err is nil, even if individual units were skipped or failed.
func (o *Orchestrator) Run(ctx context.Context, repo string, since time.Time) (*Result, error) {
	o.summary = models.RunSummary{
		RunID:     uuid.NewString(),
		Repo:      repo,
		State:     models.RunPending,
		StartedAt: time.Now().UTC(),
	}

	o.transition(models.RunCollecting)
	records, err := o.collector.Collect(ctx, repo, since)
	if err != nil {
		return nil, o.fail(fmt.Errorf("collection failed: %w", err))
	}
	o.logger.Info("records collected", "run", o.summary.RunID, "count", len(records))

	o.transition(models.RunClassifying)
	units := o.normalizeAll(records)

	judgments, err := o.classifyAll(ctx, units)
	if err != nil {
		return nil, o.fail(err)
	}

	o.transition(models.RunAggregating)
	activities := o.aggregator.Aggregate(judgments, units)

	o.transition(models.RunComplete)
	o.summary.FinishedAt = time.Now().UTC()
	o.summary.Processed = len(judgments)
	for _, a := range activities {
		if a.Included {
			o.summary.Included++
		}
	}

	return &Result{
		Summary:    o.summary,
		Units:      units,
		Judgments:  judgments,
		Activities: activities,
	}, nil
}

// normalizeAll validates every record into a unit. Malformed records are
// skipped and logged; duplicate identifiers are idempotent with the last
// occurrence winning.
func (o *Orchestrator) normalizeAll(records []models.RawRecord) map[string]models.EvidenceUnit {
	units := make(map[string]models.EvidenceUnit, len(records))
	for _, rec := range records {
		unit, err := o.normalizer.Normalize(rec)
		if err != nil {
			o.summary.Skipped++
			o.summary.Errors = append(o.summary.Errors, err.Error())
			o.logger.Warn("skipping malformed record", "record", rec.ID, "error", err)
			continue
		}
		units[unit.ID] = unit
	}
	return units
}

// classifyAll runs classification concurrently up to the worker bound. The
// aggregator never sees a partial batch: this returns only once every unit
// has either a judgment or a recorded failure.
func (o *Orchestrator) classifyAll(ctx context.Context, units map[string]models.EvidenceUnit) ([]models.RubricJudgment, error) {
	ordered := make([]models.EvidenceUnit, 0, len(units))
	for _, u := range units {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	judgments := make([]models.RubricJudgment, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for i, unit := range ordered {
		g.Go(func() error {
			judgment, err := o.classifyWithRetry(gctx, unit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Retries exhausted: record a failed judgment so the unit
				// stays auditable, and keep the batch going.
				o.recordError(fmt.Sprintf("unit %s: %v", unit.ID, err))
				judgment = models.RubricJudgment{
					UnitID:        unit.ID,
					Categories:    emptyCategories(),
					Failed:        true,
					FailureReason: err.Error(),
				}
			}
			if judgment.Failed {
				o.countFailed()
			}
			judgments[i] = judgment
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return judgments, nil
}

// classifyWithRetry retries unavailability errors with exponential backoff.
// Schema failures are handled inside the classifier and never reach here.
func (o *Orchestrator) classifyWithRetry(ctx context.Context, unit models.EvidenceUnit) (models.RubricJudgment, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.RetryAttempts; attempt++ {
		judgment, err := o.classifier.Classify(ctx, unit)
		if err == nil {
			return judgment, nil
		}
		if !rderrors.IsType(err, rderrors.ErrorTypeClassificationUnavailable) {
			return models.RubricJudgment{}, err
		}
		lastErr = err

		if attempt == o.opts.RetryAttempts {
			break
		}
		delay := o.opts.RetryBase << (attempt - 1)
		o.logger.Warn("classification unavailable, backing off",
			"unit", unit.ID, "attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.RubricJudgment{}, ctx.Err()
		}
	}
	return models.RubricJudgment{}, lastErr
}

func (o *Orchestrator) transition(next models.RunState) {
	o.logger.Info("run state transition", "run", o.summary.RunID, "from", o.summary.State, "to", next)
	o.summary.State = next
}

// fail moves the run to the terminal Failed state.
func (o *Orchestrator) fail(err error) error {
	o.transition(models.RunFailed)
	o.summary.FinishedAt = time.Now().UTC()
	o.summary.Errors = append(o.summary.Errors, err.Error())
	return err
}

func (o *Orchestrator) recordError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.Errors = append(o.summary.Errors, msg)
}

func (o *Orchestrator) countFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.FailedUnits++
}

func emptyCategories() map[models.RubricCategory]models.CategoryJudgment {
	categories := make(map[models.RubricCategory]models.CategoryJudgment, 3)
	for _, cat := range models.Categories() {
		categories[cat] = models.CategoryJudgment{Present: false, Rationale: "classification unavailable"}
	}
	return categories
}
