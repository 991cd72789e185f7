// Package journal records run history in a local SQLite database. Every
// run gets a row in the runs table and an append-only stream of rows in
// the events table, so a run can be reconstructed after the fact even if
// the process died mid-protocol.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pipetbot-go/pkg/log"
)

// Run outcome values stored in runs.status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// ErrNoRun reports journal calls made outside BeginRun/Finish.
var ErrNoRun = errors.New("journal: no run in progress")

// Journal is a SQLite-backed run recorder. One run is open at a time,
// matching the single-run host model. Event writes after BeginRun never
// fail the run: a storage hiccup mid-protocol is logged and dropped
// rather than aborting liquid handling.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *log.Logger
	runID  int64
	seq    int64
}

// Open creates or opens the journal database at path, creating parent
// directories as needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("journal: create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		protocol TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		detail TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create runs table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		run_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		PRIMARY KEY (run_id, seq)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create events table: %w", err)
	}
	return &Journal{db: db, logger: log.GetLogger("journal")}, nil
}

// BeginRun opens a new run for the named protocol and returns its id.
func (j *Journal) BeginRun(protocol string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	res, err := j.db.Exec(
		`INSERT INTO runs (protocol, started_at, status) VALUES (?, ?, ?)`,
		protocol, time.Now().UTC().Format(time.RFC3339), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("journal: begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: begin run: %w", err)
	}
	j.runID = id
	j.seq = 0
	return id, nil
}

// Event appends one event to the open run. The payload is stored as
// JSON; a nil payload stores NULL. Write failures are logged, not
// returned, so a full disk cannot strand liquid in a tip.
func (j *Journal) Event(kind string, payload any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runID == 0 {
		j.logger.Warn("event %q outside a run, dropped", kind)
		return
	}
	var blob any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			j.logger.Error("event %q payload: %v", kind, err)
			return
		}
		blob = string(data)
	}
	j.seq++
	_, err := j.db.Exec(
		`INSERT INTO events (run_id, seq, at, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		j.runID, j.seq, time.Now().UTC().Format(time.RFC3339), kind, blob)
	if err != nil {
		j.logger.Error("event %q write: %v", kind, err)
	}
}

// Finish closes the open run with the given status. The detail string
// carries the failure message for failed or aborted runs.
func (j *Journal) Finish(status, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runID == 0 {
		return ErrNoRun
	}
	_, err := j.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, detail, j.runID)
	j.runID = 0
	j.seq = 0
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Close closes the database. An unfinished run is marked aborted first.
func (j *Journal) Close() error {
	j.mu.Lock()
	runID := j.runID
	j.mu.Unlock()
	if runID != 0 {
		if err := j.Finish(StatusAborted, "host shutdown"); err != nil {
			j.logger.Error("abort open run: %v", err)
		}
	}
	return j.db.Close()
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         int64
	Protocol   string
	StartedAt  string
	FinishedAt string
	Status     string
	Detail     string
}

// EventRecord is one row of the events table.
type EventRecord struct {
	Seq     int64
	At      string
	Kind    string
	Payload string
}

// Runs lists recorded runs, most recent first.
func (j *Journal) Runs() ([]RunRecord, error) {
	rows, err := j.db.Query(
		`SELECT id, protocol, started_at, COALESCE(finished_at, ''), status, COALESCE(detail, '')
		 FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Protocol, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events lists the events of one run in order.
func (j *Journal) Events(runID int64) ([]EventRecord, error) {
	rows, err := j.db.Query(
		`SELECT seq, at, kind, COALESCE(payload, '') FROM events WHERE run_id = ? ORDER BY seq`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.Seq, &e.At, &e.Kind, &e.Payload); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
