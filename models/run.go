package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// SourceRun is one source's row in the run log.
type SourceRun struct {
	ID            int64      `json:"id" db:"id"`
	RunID         string     `json:"run_id" db:"run_id"`
	Source        Source     `json:"source" db:"source"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	Rejected      int        `json:"rejected" db:"rejected"`
	Ambiguous     int        `json:"ambiguous" db:"ambiguous"`
	ErrorMessage  string     `json:"error_message" db:"error_message"`
}
