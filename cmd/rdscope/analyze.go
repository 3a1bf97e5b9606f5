package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdscope/rdscope-go/internal/aggregate"
	"github.com/rdscope/rdscope-go/internal/classify"
	"github.com/rdscope/rdscope-go/internal/collector"
	"github.com/rdscope/rdscope-go/internal/criteria"
	"github.com/rdscope/rdscope-go/internal/embed"
	"github.com/rdscope/rdscope-go/internal/llm"
	"github.com/rdscope/rdscope-go/internal/models"
	"github.com/rdscope/rdscope-go/internal/normalize"
	"github.com/rdscope/rdscope-go/internal/pipeline"
	"github.com/rdscope/rdscope-go/internal/report"
	"github.com/rdscope/rdscope-go/internal/storage"
)

var (
	analyzeMonths        int
	analyzeMinConfidence int
	analyzeOutput        string
	analyzeCompany       string
	analyzeTest          bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <owner/repo>",
	Short: "Analyze a repository's change history for qualifying R&D activities",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeMonths, "months", 0, "months of history to analyze (default from config)")
	analyzeCmd.Flags().IntVar(&analyzeMinConfidence, "min-confidence", -1, "activity inclusion threshold 0-100 (default from config)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "report output path (default rd_report_<repo>.md)")
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "company name for the report header")
	analyzeCmd.Flags().BoolVar(&analyzeTest, "test", false, "diagnostic mode: surface excluded activities too")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo := args[0]

	if analyzeMonths > 0 {
		cfg.Analysis.MonthsBack = analyzeMonths
	}
	if analyzeMinConfidence >= 0 {
		cfg.Analysis.MinConfidence = analyzeMinConfidence
	}
	if analyzeCompany != "" {
		cfg.Company = analyzeCompany
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	since := time.Now().AddDate(0, -cfg.Analysis.MonthsBack, 0)
	logger.WithField("repo", repo).WithField("since", since.Format("2006-01-02")).
		Info("Starting analysis")

	embedder, err := embed.NewOpenAIEmbedder(cfg.API.OpenAIKey, cfg.API.EmbeddingModel)
	if err != nil {
		return err
	}

	corpus, err := criteria.LoadCorpus(cfg.Criteria.CorpusPath)
	if err != nil {
		return err
	}

	store, err := criteria.Build(ctx, embedder, corpus, cfg.Criteria.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	llmClient, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return err
	}

	orchestrator := pipeline.New(
		collector.New(cfg.GitHub.Token, cfg.GitHub.RateLimit, logger),
		normalize.New(cfg.Analysis.DiffBudget),
		classify.New(store, llmClient, cfg.Analysis.TopK),
		aggregate.New(cfg.Analysis.WindowDays, cfg.Analysis.CorroborationBonus, cfg.Analysis.MinConfidence, cfg.Analysis.ConfidenceFloor),
		pipeline.Options{
			Workers:       cfg.Analysis.Workers,
			RetryAttempts: cfg.Analysis.RetryAttempts,
			RetryBase:     cfg.Analysis.RetryBaseDelay,
		},
	)

	result, err := orchestrator.Run(ctx, repo, since)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if err := persistRun(cmd, result); err != nil {
		// Audit persistence failing should not discard the finished run.
		logger.WithError(err).Warn("Failed to persist run audit trail")
	}

	outputPath := analyzeOutput
	if outputPath == "" {
		outputPath = fmt.Sprintf("rd_report_%s.md", sanitizeRepoName(repo))
	}

	gen := report.NewGenerator(cfg.Company, logger)
	if err := gen.WriteFile(outputPath, result.Summary, result.Activities, analyzeTest); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Analyzed %d records (%d skipped, %d failed): %d qualifying activities\n",
		result.Summary.Processed, result.Summary.Skipped, result.Summary.FailedUnits, result.Summary.Included)
	fmt.Fprintf(os.Stdout, "Report written to %s\n", outputPath)
	return nil
}

func persistRun(cmd *cobra.Command, result *pipeline.Result) error {
	audit, err := storage.NewStore(cfg, logger)
	if err != nil {
		return err
	}
	defer audit.Close()

	ctx := cmd.Context()
	reportConfidenceDrift(ctx, audit, result)

	if err := audit.SaveRun(ctx, &result.Summary); err != nil {
		return err
	}
	if err := audit.SaveJudgments(ctx, result.Summary.RunID, result.Judgments); err != nil {
		return err
	}
	return audit.SaveActivities(ctx, result.Summary.RunID, result.Activities)
}

// reportConfidenceDrift compares this run's judgments against the most recent
// stored run for the same repository. Matching units should agree on category
// booleans, and confidence should move by no more than the configured
// tolerance; anything beyond that is logged for review.
func reportConfidenceDrift(ctx context.Context, audit storage.Store, result *pipeline.Result) {
	prior, err := audit.ListRuns(ctx, result.Summary.Repo, 1)
	if err != nil || len(prior) == 0 {
		return
	}
	previous, err := audit.GetJudgments(ctx, prior[0].RunID)
	if err != nil {
		return
	}

	byUnit := make(map[string]models.RubricJudgment, len(previous))
	for _, j := range previous {
		byUnit[j.UnitID] = j
	}

	tolerance := cfg.Analysis.ConfidenceTolerance
	for _, j := range result.Judgments {
		prev, ok := byUnit[j.UnitID]
		if !ok || prev.Failed || j.Failed {
			continue
		}
		drift := j.Confidence - prev.Confidence
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			logger.WithFields(map[string]interface{}{
				"unit":     j.UnitID,
				"previous": prev.Confidence,
				"current":  j.Confidence,
			}).Warn("Judgment confidence drifted beyond tolerance since last run")
		}
		for cat, cj := range j.Categories {
			if prevCat, ok := prev.Categories[cat]; ok && prevCat.Present != cj.Present {
				logger.WithFields(map[string]interface{}{
					"unit":     j.UnitID,
					"category": string(cat),
				}).Warn("Category judgment flipped since last run")
			}
		}
	}
}

func sanitizeRepoName(repo string) string {
	out := make([]rune, 0, len(repo))
	for _, r := range repo {
		if r == '/' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
