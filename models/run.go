package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// JobRun is one append-only entry of the crawl log. A run writes one
// running entry when it starts and one terminal entry when it ends.
type JobRun struct {
	ID         uuid.UUID      `json:"-" db:"run_id"`
	JobName    string         `json:"job_name" db:"job_name"`
	Status     RunStatus      `json:"status" db:"status"`
	StartedAt  *time.Time     `json:"started_at" db:"started_at"`
	FinishedAt *time.Time     `json:"finished_at" db:"finished_at"`
	Metadata   map[string]any `json:"metadata_json" db:"metadata_json"`
}

func NewJobRun(jobName string, startedAt time.Time) *JobRun {
	return &JobRun{
		ID:        uuid.New(),
		JobName:   jobName,
		Status:    RunStatusRunning,
		StartedAt: &startedAt,
		Metadata:  map[string]any{},
	}
}

// Terminal returns the closing entry for the run.
func (r *JobRun) Terminal(status RunStatus, finishedAt time.Time, metadata map[string]any) *JobRun {
	return &JobRun{
		ID:         r.ID,
		JobName:    r.JobName,
		Status:     status,
		StartedAt:  r.StartedAt,
		FinishedAt: &finishedAt,
		Metadata:   metadata,
	}
}

// CategoryStats is the per-category outcome of the latest run, kept in the
// operational store.
type CategoryStats struct {
	Source       string    `json:"source" db:"source"`
	CategoryCode string    `json:"category_code" db:"category_code"`
	RunDate      string    `json:"run_date" db:"run_date"`
	Outcome      string    `json:"outcome" db:"outcome"`
	Saved        int       `json:"saved" db:"saved"`
	Errors       int       `json:"errors" db:"errors"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
