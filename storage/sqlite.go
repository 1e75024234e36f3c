package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"audubon_monitor/models"
)

// SQLiteStore is the local run log: one row per source per run, plus every
// per-source log line.
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
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		source TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		ambiguous INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_source ON scrape_runs(source, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_run ON scrape_runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.SourceRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (run_id, source, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.Source, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

func (s *SQLiteStore) UpdateRun(run *models.SourceRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, listings_found = ?,
			listings_new = ?, rejected = ?, ambiguous = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.ListingsFound, run.ListingsNew,
		run.Rejected, run.Ambiguous, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID string, level models.LogLevel, message string, source models.Source) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

// RunsForRun returns the source rows of one run ordered by source.
func (s *SQLiteStore) RunsForRun(runID string) ([]models.SourceRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, source, started_at, finished_at, status, listings_found,
			listings_new, rejected, ambiguous, COALESCE(error_message, '')
		FROM scrape_runs WHERE run_id = ? ORDER BY source`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SourceRun
	for rows.Next() {
		var r models.SourceRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.Source, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.ListingsFound, &r.ListingsNew, &r.Rejected, &r.Ambiguous, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LogsForRun returns the log lines of one run in insertion order.
func (s *SQLiteStore) LogsForRun(runID string) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source
		FROM scrape_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Source); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetLastSuccess returns when a source last completed, or the zero time.
func (s *SQLiteStore) GetLastSuccess(source models.Source) (time.Time, error) {
	var last time.Time
	err := s.db.QueryRow(`
		SELECT started_at FROM scrape_runs
		WHERE source = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, source, models.RunStatusCompleted).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return last, err
}

// PruneBefore deletes runs and logs older than cutoff.
func (s *SQLiteStore) PruneBefore(cutoff time.Time) error {
	for _, q := range []string{
		`DELETE FROM scrape_logs WHERE timestamp < ?`,
		`DELETE FROM scrape_runs WHERE started_at < ?`,
	} {
		if _, err := s.db.Exec(q, cutoff); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	return nil
}
