// Package stats persists per-request accounting in a local SQLite file.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    ts                INTEGER NOT NULL,
    account           TEXT    NOT NULL,
    model             TEXT    NOT NULL,
    endpoint          TEXT    NOT NULL,
    status            TEXT    NOT NULL,
    duration_ms       INTEGER NOT NULL,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests(ts);
CREATE INDEX IF NOT EXISTS idx_requests_account ON requests(account);
`

// Entry is one completed (or failed) proxied request
type Entry struct {
	Account          string
	Model            string
	Endpoint         string
	Status           string // "ok" or an error class such as "blocked", "rate_limited"
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
}

// AccountTotals aggregates one account's rows
type AccountTotals struct {
	Account          string `json:"account"`
	Requests         int64  `json:"requests"`
	Errors           int64  `json:"errors"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// Summary is the aggregate view served by the stats endpoint
type Summary struct {
	TotalRequests    int64           `json:"total_requests"`
	TotalErrors      int64           `json:"total_errors"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	AvgDurationMs    float64         `json:"avg_duration_ms"`
	ByAccount        []AccountTotals `json:"by_account"`
}

// Recorder writes request rows to SQLite. A nil Recorder is a no-op so
// callers need no guard when stats are disabled.
type Recorder struct {
	db *sql.DB
}

// Open creates (or opens) the stats database at path
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("stats dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Record inserts one request row. Failures are logged, not returned:
// accounting must never fail a proxied request.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	_, err := r.db.Exec(
		`INSERT INTO requests (ts, account, model, endpoint, status, duration_ms, prompt_tokens, completion_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), e.Account, e.Model, e.Endpoint, e.Status,
		e.Duration.Milliseconds(), e.PromptTokens, e.CompletionTokens,
	)
	if err != nil {
		utils.Warn("[Stats] Insert failed: %v", err)
	}
}

// Summarize aggregates all recorded rows
func (r *Recorder) Summarize() (*Summary, error) {
	if r == nil {
		return &Summary{ByAccount: []AccountTotals{}}, nil
	}

	s := &Summary{ByAccount: []AccountTotals{}}
	row := r.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(AVG(duration_ms), 0)
		 FROM requests`)
	if err := row.Scan(&s.TotalRequests, &s.TotalErrors, &s.PromptTokens, &s.CompletionTokens, &s.AvgDurationMs); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		`SELECT account,
		        COUNT(*),
		        COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0)
		 FROM requests GROUP BY account ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t AccountTotals
		if err := rows.Scan(&t.Account, &t.Requests, &t.Errors, &t.PromptTokens, &t.CompletionTokens); err != nil {
			return nil, err
		}
		s.ByAccount = append(s.ByAccount, t)
	}
	return s, rows.Err()
}

// Close releases the database handle
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}
