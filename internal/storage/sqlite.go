package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

// SQLiteStore implements audit storage using SQLite (for local use)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite audit store
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, rderrors.StorageError(err, "create database directory")
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, rderrors.StorageError(err, "connect to sqlite")
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		return nil, rderrors.StorageError(err, "init schema")
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		processed INTEGER,
		skipped INTEGER,
		failed_units INTEGER,
		included INTEGER,
		errors TEXT
	);

	CREATE TABLE IF NOT EXISTS judgments (
		run_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		categories TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		passage_ids TEXT,
		failed INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		PRIMARY KEY (run_id, unit_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		title TEXT,
		window_start DATETIME,
		window_end DATETIME,
		unit_ids TEXT,
		rationales TEXT,
		confidence INTEGER,
		included INTEGER,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, started_at);
	CREATE INDEX IF NOT EXISTS idx_activities_run ON activities(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or updates a run summary
func (s *SQLiteStore) SaveRun(ctx context.Context, summary *models.RunSummary) error {
	errs, err := json.Marshal(summary.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, repo, state, started_at, finished_at, processed, skipped, failed_units, included, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			finished_at = excluded.finished_at,
			processed = excluded.processed,
			skipped = excluded.skipped,
			failed_units = excluded.failed_units,
			included = excluded.included,
			errors = excluded.errors`,
		summary.RunID, summary.Repo, summary.State, summary.StartedAt, summary.FinishedAt,
		summary.Processed, summary.Skipped, summary.FailedUnits, summary.Included, string(errs))
	if err != nil {
		return rderrors.StorageError(err, "save run")
	}
	return nil
}

type runRow struct {
	ID          string    `db:"id"`
	Repo        string    `db:"repo"`
	State       string    `db:"state"`
	StartedAt   time.Time `db:"started_at"`
	FinishedAt  time.Time `db:"finished_at"`
	Processed   int       `db:"processed"`
	Skipped     int       `db:"skipped"`
	FailedUnits int       `db:"failed_units"`
	Included    int       `db:"included"`
	Errors      string    `db:"errors"`
}

func (r runRow) toSummary() (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:       r.ID,
		Repo:        r.Repo,
		State:       models.RunState(r.State),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Processed:   r.Processed,
		Skipped:     r.Skipped,
		FailedUnits: r.FailedUnits,
		Included:    r.Included,
	}
	if r.Errors != "" {
		if err := json.Unmarshal([]byte(r.Errors), &summary.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return summary, nil
}

// GetRun retrieves a run summary by ID
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, runID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, rderrors.StorageError(err, "get run")
	}
	return row.toSummary()
}

// ListRuns retrieves recent runs for a repository, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, repo string, limit int) ([]*models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM runs WHERE repo = ? ORDER BY started_at DESC LIMIT ?`, repo, limit)
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
func (s *SQLiteStore) SaveJudgments(ctx context.Context, runID string, judgments []models.RubricJudgment) error {
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
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, unit_id) DO UPDATE SET
				categories = excluded.categories,
				confidence = excluded.confidence,
				passage_ids = excluded.passage_ids,
				failed = excluded.failed,
				failure_reason = excluded.failure_reason`,
			runID, j.UnitID, string(categories), j.Confidence, string(passageIDs), j.Failed, j.FailureReason)
		if err != nil {
			return rderrors.StorageError(err, fmt.Sprintf("save judgment %s", j.UnitID))
		}
	}

	return tx.Commit()
}

type judgmentRow struct {
	RunID         string `db:"run_id"`
	UnitID        string `db:"unit_id"`
	Categories    string `db:"categories"`
	Confidence    int    `db:"confidence"`
	PassageIDs    string `db:"passage_ids"`
	Failed        bool   `db:"failed"`
	FailureReason string `db:"failure_reason"`
}

// GetJudgments retrieves all judgments for a run
func (s *SQLiteStore) GetJudgments(ctx context.Context, runID string) ([]models.RubricJudgment, error) {
	var rows []judgmentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM judgments WHERE run_id = ? ORDER BY unit_id`, runID)
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
func (s *SQLiteStore) SaveActivities(ctx context.Context, runID string, activities []models.Activity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// A re-run of aggregation replaces the previous activity set wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE run_id = ?`, runID); err != nil {
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
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, runID, a.Title, a.Window.Start, a.Window.End, string(unitIDs), string(rationales), a.Confidence, a.Included)
		if err != nil {
			return rderrors.StorageError(err, fmt.Sprintf("save activity %s", a.ID))
		}
	}

	return tx.Commit()
}

type activityRow struct {
	ID          string    `db:"id"`
	RunID       string    `db:"run_id"`
	Title       string    `db:"title"`
	WindowStart time.Time `db:"window_start"`
	WindowEnd   time.Time `db:"window_end"`
	UnitIDs     string    `db:"unit_ids"`
	Rationales  string    `db:"rationales"`
	Confidence  int       `db:"confidence"`
	Included    bool      `db:"included"`
}

// GetActivities retrieves all activities for a run, earliest window first
func (s *SQLiteStore) GetActivities(ctx context.Context, runID string) ([]models.Activity, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM activities WHERE run_id = ? ORDER BY window_start`, runID)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
