// Package report renders run results as a Markdown claim report.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rdscope/rdscope-go/internal/models"
)

var categoryHeadings = map[models.RubricCategory]string{
	models.CategoryAdvance:     "Technical Advance",
	models.CategoryUncertainty: "Technological Uncertainty",
	models.CategorySystematic:  "Systematic Investigation",
}

// Generator renders Markdown reports for completed runs.
type Generator struct {
	company string
	log     *logrus.Logger
}

// NewGenerator creates a report generator. company appears on the report
// header when non-empty.
func NewGenerator(company string, log *logrus.Logger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{company: company, log: log}
}

// Generate renders the report. includeAll surfaces excluded activities too
// (the diagnostic path); otherwise only included activities appear.
func (g *Generator) Generate(summary models.RunSummary, activities []models.Activity, includeAll bool) string {
	var b strings.Builder

	b.WriteString("# R&D Tax Relief Technical Report\n\n")
	if g.company != "" {
		fmt.Fprintf(&b, "**Company:** %s\n\n", g.company)
	}
	fmt.Fprintf(&b, "**Repository:** %s\n\n", summary.Repo)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", time.Now().UTC().Format("2 January 2006"))

	surfaced := make([]models.Activity, 0, len(activities))
	for _, a := range activities {
		if a.Included || includeAll {
			surfaced = append(surfaced, a)
		}
	}
	sort.SliceStable(surfaced, func(i, j int) bool {
		return surfaced[i].Confidence > surfaced[j].Confidence
	})

	g.writeSummary(&b, summary, surfaced)
	g.writeActivities(&b, surfaced)

	if len(summary.Errors) > 0 {
		b.WriteString("## Processing Notes\n\n")
		for _, e := range summary.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteFile renders the report and writes it to path.
func (g *Generator) WriteFile(path string, summary models.RunSummary, activities []models.Activity, includeAll bool) error {
	content := g.Generate(summary, activities, includeAll)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	g.log.WithFields(logrus.Fields{
		"path":       path,
		"activities": len(activities),
	}).Info("report written")
	return nil
}

func (g *Generator) writeSummary(b *strings.Builder, summary models.RunSummary, surfaced []models.Activity) {
	b.WriteString("## Executive Summary\n\n")

	highConfidence := 0
	totalConfidence := 0
	for _, a := range surfaced {
		totalConfidence += a.Confidence
		if a.Confidence >= 75 {
			highConfidence++
		}
	}

	fmt.Fprintf(b, "Analysis of %d development records identified %d candidate R&D activities.\n",
		summary.Processed, len(surfaced))
	if len(surfaced) > 0 {
		fmt.Fprintf(b, "%d demonstrate high confidence (75%% or above) in meeting the HMRC criteria, with an average confidence of %.1f%%.\n",
			highConfidence, float64(totalConfidence)/float64(len(surfaced)))
	}
	if summary.Skipped > 0 || summary.FailedUnits > 0 {
		fmt.Fprintf(b, "\n%d records were skipped as malformed and %d could not be classified; see Processing Notes.\n",
			summary.Skipped, summary.FailedUnits)
	}
	b.WriteString("\n")
}

func (g *Generator) writeActivities(b *strings.Builder, activities []models.Activity) {
	b.WriteString("## Qualifying Activities\n\n")
	if len(activities) == 0 {
		b.WriteString("No qualifying activities were identified in the analyzed period.\n\n")
		return
	}

	for i, a := range activities {
		fmt.Fprintf(b, "### %d. %s\n\n", i+1, a.Title)
		fmt.Fprintf(b, "**Confidence:** %d%%", a.Confidence)
		if !a.Included {
			b.WriteString(" (below inclusion threshold)")
		}
		b.WriteString("\n\n")
		fmt.Fprintf(b, "**Period:** %s to %s\n\n",
			a.Window.Start.Format("2 Jan 2006"), a.Window.End.Format("2 Jan 2006"))

		for _, cat := range models.Categories() {
			rationale, ok := a.Rationales[cat]
			if !ok || rationale == "" {
				continue
			}
			fmt.Fprintf(b, "**%s:** %s\n\n", categoryHeadings[cat], rationale)
		}

		fmt.Fprintf(b, "**Evidence:** %s\n\n", strings.Join(a.UnitIDs, ", "))
	}
}
