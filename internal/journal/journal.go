// Package journal persists agent file events in a local sqlite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Hara602/fanwatch/internal/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pid INTEGER NOT NULL,
	proc TEXT,
	path TEXT,
	mask INTEGER NOT NULL,
	operation TEXT,
	decision TEXT,
	risk TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS file_events_ts ON file_events(ts);
`

type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends ev.
func (j *Journal) Record(ctx context.Context, ev model.FileEvent) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO file_events(pid, proc, path, mask, operation, decision, risk, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		ev.PID, ev.ProcName, ev.FilePath, int64(ev.Mask), ev.Operation, ev.Decision, ev.Risk, ev.TimeStamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]model.FileEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT pid, proc, path, mask, operation, decision, risk, ts FROM file_events ORDER BY ts DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.FileEvent
	for rows.Next() {
		var (
			ev   model.FileEvent
			mask int64
			ts   int64
		)
		if err := rows.Scan(&ev.PID, &ev.ProcName, &ev.FilePath, &mask, &ev.Operation, &ev.Decision, &ev.Risk, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Mask = uint64(mask)
		ev.TimeStamp = time.Unix(0, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
