package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"rankpool/models"
)

// SQLiteStore holds local operational state: operator commands, a mirror of
// the crawl log, and the latest per-category outcome.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT NOT NULL,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS job_runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		job_name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		metadata JSON
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_name, id);

	CREATE TABLE IF NOT EXISTS category_stats (
		source TEXT NOT NULL,
		category_code TEXT NOT NULL,
		run_date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		saved INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		updated_at DATETIME,
		PRIMARY KEY (source, category_code)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, err
		}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO commands (command, params) VALUES (?, ?)`, string(cmd), nullableJSON(raw))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, fmt.Errorf("command %d params: %w", cmd.ID, err)
	}
	return &params, nil
}

// =============================================================================
// Job Runs
// =============================================================================

func (s *SQLiteStore) AppendJobRun(ctx context.Context, run *models.JobRun) error {
	meta, err := json.Marshal(run.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_runs (run_id, job_name, status, started_at, finished_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.JobName, string(run.Status), run.StartedAt, run.FinishedAt, string(meta))
	return err
}

// LastJobRun returns the newest entry for jobName, or nil when there is none.
func (s *SQLiteStore) LastJobRun(ctx context.Context, jobName string) (*models.JobRun, error) {
	var (
		run      models.JobRun
		runID    string
		status   string
		started  sql.NullTime
		finished sql.NullTime
		meta     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, job_name, status, started_at, finished_at, metadata
		FROM job_runs WHERE job_name = ? ORDER BY id DESC LIMIT 1`, jobName).
		Scan(&runID, &run.JobName, &status, &started, &finished, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("job run metadata: %w", err)
		}
	}
	_ = run.ID.UnmarshalText([]byte(runID))
	return &run, nil
}

// =============================================================================
// Category Stats
// =============================================================================

func (s *SQLiteStore) UpsertCategoryStats(ctx context.Context, st models.CategoryStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO category_stats (source, category_code, run_date, outcome, saved, errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, category_code) DO UPDATE SET
			run_date = excluded.run_date,
			outcome = excluded.outcome,
			saved = excluded.saved,
			errors = excluded.errors,
			updated_at = excluded.updated_at`,
		st.Source, st.CategoryCode, st.RunDate, st.Outcome, st.Saved, st.Errors, st.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetCategoryStats(ctx context.Context, source string) ([]models.CategoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, category_code, run_date, outcome, saved, errors, updated_at
		FROM category_stats WHERE source = ? ORDER BY category_code`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.CategoryStats
	for rows.Next() {
		var st models.CategoryStats
		if err := rows.Scan(&st.Source, &st.CategoryCode, &st.RunDate, &st.Outcome, &st.Saved, &st.Errors, &st.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
