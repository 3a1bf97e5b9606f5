// Package storage persists run audit trails: every judgment and activity a
// run produces, including failed and excluded ones.
package storage

import (
	"context"
	"errors"

	"github.com/rdscope/rdscope-go/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Store defines the audit storage interface
type Store interface {
	// Run operations
	SaveRun(ctx context.Context, summary *models.RunSummary) error
	GetRun(ctx context.Context, runID string) (*models.RunSummary, error)
	ListRuns(ctx context.Context, repo string, limit int) ([]*models.RunSummary, error)

	// Judgment operations. Saving the same unit twice within a run
	// overwrites, never duplicates.
	SaveJudgments(ctx context.Context, runID string, judgments []models.RubricJudgment) error
	GetJudgments(ctx context.Context, runID string) ([]models.RubricJudgment, error)

	// Activity operations
	SaveActivities(ctx context.Context, runID string, activities []models.Activity) error
	GetActivities(ctx context.Context, runID string) ([]models.Activity, error)

	// Close connection
	Close() error
}
