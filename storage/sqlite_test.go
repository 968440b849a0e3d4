package storage

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/models"
)

func newMockedSQLite(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteStore{db: db}, mock
}

func TestSQLiteStore_GetPendingCommands(t *testing.T) {
	s, mock := newMockedSQLite(t)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "command", "params", "created_at", "processed_at"}).
		AddRow(1, "scrape_source", `{"source":"ably"}`, created, nil).
		AddRow(2, "pause", nil, created, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM commands WHERE processed_at IS NULL")).WillReturnRows(rows)

	cmds, err := s.GetPendingCommands(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, models.CmdScrapeSource, cmds[0].Command)

	params, err := ParseCommandParams(&cmds[0])
	require.NoError(t, err)
	assert.Equal(t, "ably", params.Source)

	params, err = ParseCommandParams(&cmds[1])
	require.NoError(t, err)
	assert.Empty(t, params.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_EnqueueAndMarkProcessed(t *testing.T) {
	s, mock := newMockedSQLite(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commands (command, params)")).
		WithArgs("scrape_source", `{"source":"ssg"}`).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE commands SET processed_at")).
		WithArgs(sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	id, err := s.EnqueueCommand(ctx, models.CmdScrapeSource, &models.CommandParams{Source: "ssg"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	require.NoError(t, s.MarkCommandProcessed(ctx, id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_AppendAndReadJobRun(t *testing.T) {
	s, mock := newMockedSQLite(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := models.NewJobRun("ssg_ranking_crawl", started)
	done := run.Terminal(models.RunStatusCompleted, started.Add(time.Minute), map[string]any{"saved": 120, "attempts": 1})

	meta, _ := json.Marshal(done.Metadata)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_runs")).
		WithArgs(run.ID.String(), "ssg_ranking_crawl", "completed", done.StartedAt, done.FinishedAt, string(meta)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.AppendJobRun(context.Background(), done))

	rows := sqlmock.NewRows([]string{"run_id", "job_name", "status", "started_at", "finished_at", "metadata"}).
		AddRow(run.ID.String(), "ssg_ranking_crawl", "completed", started, started.Add(time.Minute), string(meta))
	mock.ExpectQuery(regexp.QuoteMeta("FROM job_runs WHERE job_name = ?")).
		WithArgs("ssg_ranking_crawl").
		WillReturnRows(rows)

	got, err := s.LastJobRun(context.Background(), "ssg_ranking_crawl")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, float64(120), got.Metadata["saved"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpsertCategoryStats(t *testing.T) {
	s, mock := newMockedSQLite(t)
	st := models.CategoryStats{Source: "ably", CategoryCode: "WOMEN", RunDate: "2026-03-01", Outcome: "saved", Saved: 48, UpdatedAt: time.Now()}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO category_stats")).
		WithArgs("ably", "WOMEN", "2026-03-01", "saved", 48, 0, st.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.UpsertCategoryStats(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetCategoryStats(t *testing.T) {
	s, mock := newMockedSQLite(t)
	updated := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"source", "category_code", "run_date", "outcome", "saved", "errors", "updated_at"}).
		AddRow("ably", "BAG", "2026-03-01", "empty", 0, 1, updated).
		AddRow("ably", "WOMEN", "2026-03-01", "saved", 48, 0, updated)
	mock.ExpectQuery(regexp.QuoteMeta("FROM category_stats WHERE source = ?")).
		WithArgs("ably").
		WillReturnRows(rows)

	stats, err := s.GetCategoryStats(context.Background(), "ably")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "empty", stats[0].Outcome)
	assert.Equal(t, 48, stats[1].Saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}
