package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

// PostgresStore implements audit storage using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, rderrors.StorageError(err, "connect to postgres")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		return nil, rderrors.StorageError(err, "init schema")
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		processed INTEGER,
		skipped INTEGER,
		failed_units INTEGER,
		included INTEGER,
		errors JSONB
	);

	CREATE TABLE IF NOT EXISTS judgments (
		run_id TEXT NOT NULL REFERENCES runs(id),
		unit_id TEXT NOT NULL,
		categories JSONB NOT NULL,
		confidence INTEGER NOT NULL,
		passage_ids JSONB,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		failure_reason TEXT,
		PRIMARY KEY (run_id, unit_id)
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		title TEXT,
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		unit_ids JSONB,
		rationales JSONB,
		confidence INTEGER,
		included BOOLEAN
	);

	CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, started_at);
	CREATE INDEX IF NOT EXISTS idx_activities_run ON activities(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or updates a run summary
func (s *PostgresStore) SaveRun(ctx context.Context, summary *models.RunSummary) error {
	errs, err := json.Marshal(summary.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, repo, state, started_at, finished_at, processed, skipped, failed_units, included, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			processed = EXCLUDED.processed,
			skipped = EXCLUDED.skipped,
			failed_units = EXCLUDED.failed_units,
			included = EXCLUDED.included,
			errors = EXCLUDED.errors`,
		summary.RunID, summary.Repo, summary.State, summary.StartedAt, summary.FinishedAt,
		summary.Processed, summary.Skipped, summary.FailedUnits, summary.Included, string(errs))
	if err != nil {
		return rderrors.StorageError(err, "save run")
	}
	return nil
}

// GetRun retrieves a run summary by ID
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = $1`, runID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, rderrors.StorageError(err, "get run")
	}
	return row.toSummary()
}

// ListRuns retrieves recent runs for a repository, newest first
func (s *PostgresStore) ListRuns(ctx context.Context, repo string, limit int) ([]*models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM runs WHERE repo = $1 ORDER BY started_at DESC LIMIT $2`, repo, limit)
	if err != nil {
		return nil, rderrors.StorageError(err, "list runs")
	}

	summaries := make([]*models.RunSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := row.toSummary()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// SaveJudgments upserts the run's judgments in one transaction
func (s *PostgresStore) SaveJudgments(ctx context.Context, runID string, judgments []models.RubricJudgment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, j := range judgments {
		categories, err := json.Marshal(j.Categories)
		if err != nil {
			return fmt.Errorf("marshal categories: %w", err)
		}
		passageIDs, err := json.Marshal(j.PassageIDs)
		if err != nil {
			return fmt.Errorf("marshal passage ids: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO judgments (run_id, unit_id, categories, confidence, passage_ids, failed, failure_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (run_id, unit_id) DO UPDATE SET
				categories = EXCLUDED.categories,
				confidence = EXCLUDED.confidence,
				passage_ids = EXCLUDED.passage_ids,
				failed = EXCLUDED.failed,
				failure_reason = EXCLUDED.failure_reason`,
			runID, j.UnitID, string(categories), j.Confidence, string(passageIDs), j.Failed, j.FailureReason)
		if err != nil {
			return rderrors.StorageError(err, fmt.Sprintf("save judgment %s", j.UnitID))
		}
	}

	return tx.Commit()
}

// GetJudgments retrieves all judgments for a run
func (s *PostgresStore) GetJudgments(ctx context.Context, runID string) ([]models.RubricJudgment, error) {
	var rows []judgmentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM judgments WHERE run_id = $1 ORDER BY unit_id`, runID)
	if err != nil {
		return nil, rderrors.StorageError(err, "get judgments")
	}

	judgments := make([]models.RubricJudgment, 0, len(rows))
	for _, row := range rows {
		j := models.RubricJudgment{
			UnitID:        row.UnitID,
			Confidence:    row.Confidence,
			Failed:        row.Failed,
			FailureReason: row.FailureReason,
		}
		if err := json.Unmarshal([]byte(row.Categories), &j.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal categories: %w", err)
		}
		if row.PassageIDs != "" {
			if err := json.Unmarshal([]byte(row.PassageIDs), &j.PassageIDs); err != nil {
				return nil, fmt.Errorf("unmarshal passage ids: %w", err)
			}
		}
		judgments = append(judgments, j)
	}
	return judgments, nil
}

// SaveActivities replaces the run's activities
func (s *PostgresStore) SaveActivities(ctx context.Context, runID string, activities []models.Activity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE run_id = $1`, runID); err != nil {
		return rderrors.StorageError(err, "clear activities")
	}

	for _, a := range activities {
		unitIDs, err := json.Marshal(a.UnitIDs)
		if err != nil {
			return fmt.Errorf("marshal unit ids: %w", err)
		}
		rationales, err := json.Marshal(a.Rationales)
		if err != nil {
			return fmt.Errorf("marshal rationales: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO activities (id, run_id, title, window_start, window_end, unit_ids, rationales, confidence, included)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, runID, a.Title, a.Window.Start, a.Window.End, string(unitIDs), string(rationales), a.Confidence, a.Included)
		if err != nil {
			return rderrors.StorageError(err, fmt.Sprintf("save activity %s", a.ID))
		}
	}

	return tx.Commit()
}

// GetActivities retrieves all activities for a run, earliest window first
func (s *PostgresStore) GetActivities(ctx context.Context, runID string) ([]models.Activity, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM activities WHERE run_id = $1 ORDER BY window_start`, runID)
	if err != nil {
		return nil, rderrors.StorageError(err, "get activities")
	}

	activities := make([]models.Activity, 0, len(rows))
	for _, row := range rows {
		a := models.Activity{
			ID:         row.ID,
			Title:      row.Title,
			Window:     models.TimeWindow{Start: row.WindowStart, End: row.WindowEnd},
			Confidence: row.Confidence,
			Included:   row.Included,
		}
		if err := json.Unmarshal([]byte(row.UnitIDs), &a.UnitIDs); err != nil {
			return nil, fmt.Errorf("unmarshal unit ids: %w", err)
		}
		if row.Rationales != "" {
			if err := json.Unmarshal([]byte(row.Rationales), &a.Rationales); err != nil {
				return nil, fmt.Errorf("unmarshal rationales: %w", err)
			}
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
