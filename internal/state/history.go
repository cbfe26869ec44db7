package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// HistoryFile is the sqlite database name inside the data directory
const HistoryFile = "history.db"

// RunStatus is the outcome of one reconciliation run
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunPartial RunStatus = "partial"
)

func (s RunStatus) valid() bool {
	return s == RunSuccess || s == RunFailed || s == RunPartial
}

// RunRecord is one reconciliation of one sync pair
type RunRecord struct {
	ID        int64
	SyncID    string
	Trigger   string // "startup", "manual"
	StartTime time.Time
	EndTime   time.Time
	Status    RunStatus
	Files     int
	Bytes     int64
	Conflicts int
	Error     string
}

// Duration returns how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// History keeps reconciliation runs in sqlite
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the run history under dataDir
func OpenHistory(dataDir string) (*History, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, HistoryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single connection avoids "database is locked" between watcher and poller goroutines
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_id TEXT NOT NULL,
		trigger_name TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		conflicts INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_sync_time ON runs(sync_id, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record stores one run
func (h *History) Record(r RunRecord) error {
	if !r.Status.valid() {
		return fmt.Errorf("invalid status: %s (must be 'success', 'failed', or 'partial')", r.Status)
	}
	if r.SyncID == "" {
		return fmt.Errorf("sync id cannot be empty")
	}

	_, err := h.db.Exec(`
		INSERT INTO runs (sync_id, trigger_name, start_time, end_time, status, files, bytes, conflicts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SyncID, r.Trigger, r.StartTime, r.EndTime, string(r.Status), r.Files, r.Bytes, r.Conflicts, r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

const selectRuns = `SELECT id, sync_id, trigger_name, start_time, end_time, status, files, bytes, conflicts, error FROM runs`

// Recent returns the newest runs of one sync pair, newest first
func (h *History) Recent(syncID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := h.db.Query(selectRuns+` WHERE sync_id = ? ORDER BY start_time DESC LIMIT ?`, syncID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRuns(rows)
}

// All returns the newest runs across all pairs
func (h *History) All(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := h.db.Query(selectRuns+` ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRuns(rows)
}

// LastSuccess returns the newest successful run, or nil when there is none
func (h *History) LastSuccess(syncID string) (*RunRecord, error) {
	rows, err := h.db.Query(selectRuns+` WHERE sync_id = ? AND status = 'success' ORDER BY start_time DESC LIMIT 1`, syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	records, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Purge removes all runs of one sync pair
func (h *History) Purge(syncID string) error {
	if _, err := h.db.Exec(`DELETE FROM runs WHERE sync_id = ?`, syncID); err != nil {
		return fmt.Errorf("failed to purge history: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			r      RunRecord
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SyncID, &r.Trigger, &r.StartTime, &r.EndTime, &status, &r.Files, &r.Bytes, &r.Conflicts, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Status = RunStatus(status)
		r.Error = errMsg.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
