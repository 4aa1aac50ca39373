// Package runlog persists engine runs and their event streams to SQLite,
// so converged and failed runs can be inspected after the fact.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/loopwise/converge"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	recorded_at  TIMESTAMP NOT NULL,
	iterations   INTEGER NOT NULL,
	final_score  REAL NOT NULL,
	converged    BOOLEAN NOT NULL,
	reason       TEXT NOT NULL,
	total_cost   REAL NOT NULL,
	elapsed_ms   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	type        TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	emitted_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);
`

// Recorder writes run summaries and events to a SQLite database.
type Recorder struct {
	db  *sql.DB
	log converge.Logger
}

// Open creates or opens a run log database at path. WAL mode keeps
// concurrent readers from blocking the recording writer.
func Open(path string, log converge.Logger) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if log == nil {
		log = converge.NewSlogLogger(nil)
	}
	return &Recorder{db: db, log: log}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Listener returns an event listener that persists every event it sees.
// Insert failures are logged, not raised: a broken run log must not stop
// the run it is recording.
func (r *Recorder) Listener() converge.Listener {
	return func(e converge.Event) {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			payload = []byte(`{}`)
		}
		_, err = r.db.Exec(
			`INSERT INTO events (run_id, type, iteration, payload, emitted_at) VALUES (?, ?, ?, ?, ?)`,
			e.RunID, string(e.Type), e.Iteration, string(payload), e.Time.UTC(),
		)
		if err != nil {
			r.log.Errorf("runlog: failed to record %s event for run %s: %v", e.Type, e.RunID, err)
		}
	}
}

// Record persists the summary of a finished run.
func Record[R, A any](ctx context.Context, r *Recorder, res *converge.Result[R, A]) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, recorded_at, iterations, final_score, converged, reason, total_cost, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, time.Now().UTC(), res.Iterations, res.FinalScore, res.Converged,
		string(res.Reason), res.TotalCost, res.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", res.RunID, err)
	}
	return nil
}

// RunSummary is a stored run row.
type RunSummary struct {
	RunID      string                     `json:"runId"`
	RecordedAt time.Time                  `json:"recordedAt"`
	Iterations int                        `json:"iterations"`
	FinalScore float64                    `json:"finalScore"`
	Converged  bool                       `json:"converged"`
	Reason     converge.TerminationReason `json:"reason"`
	TotalCost  float64                    `json:"totalCost"`
	Elapsed    time.Duration              `json:"elapsed"`
}

// StoredEvent is a stored event row with its raw payload.
type StoredEvent struct {
	Type      converge.EventType `json:"type"`
	RunID     string             `json:"runId"`
	Iteration int                `json:"iteration"`
	Payload   json.RawMessage    `json:"payload"`
	EmittedAt time.Time          `json:"emittedAt"`
}

// Runs returns stored run summaries, most recent first.
func (r *Recorder) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, recorded_at, iterations, final_score, converged, reason, total_cost, elapsed_ms
		 FROM runs ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		var reason string
		var elapsedMS int64
		if err := rows.Scan(&s.RunID, &s.RecordedAt, &s.Iterations, &s.FinalScore,
			&s.Converged, &reason, &s.TotalCost, &elapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.Reason = converge.TerminationReason(reason)
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// Events returns the event stream of one run in emission order.
func (r *Recorder) Events(ctx context.Context, runID string) ([]StoredEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, run_id, iteration, payload, emitted_at
		 FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var typ, payload string
		if err := rows.Scan(&typ, &e.RunID, &e.Iteration, &payload, &e.EmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = converge.EventType(typ)
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}
