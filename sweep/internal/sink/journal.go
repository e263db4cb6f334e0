// CLAUDE:SUMMARY SQLite progress journal: appends every event to sweep_events, reads a run back for display, prunes by age.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/feedsweep/dbopen"
	"github.com/hazyhaar/feedsweep/sweep/event"
)

// JournalSchema creates the event table.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS sweep_events (
	run_id     TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	campaign   TEXT    NOT NULL DEFAULT '',
	pass       INTEGER NOT NULL DEFAULT 0,
	identity   TEXT    NOT NULL DEFAULT '',
	outcome    TEXT    NOT NULL DEFAULT '',
	state      TEXT    NOT NULL DEFAULT '',
	detail     TEXT    NOT NULL DEFAULT '',
	text       TEXT    NOT NULL DEFAULT '',
	counters   TEXT    NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sweep_events_created ON sweep_events(created_at);
`

// Journal records events in SQLite. It is a log for humans: nothing in
// the engine reads it back.
type Journal struct {
	db     *sql.DB
	ownsDB bool
}

// NewJournal wraps an open database and ensures the schema exists.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	if _, err := db.ExecContext(ctx, JournalSchema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(JournalSchema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db, ownsDB: true}, nil
}

func (j *Journal) Send(ctx context.Context, ev event.Event) error {
	counters, err := json.Marshal(ev.Counters)
	if err != nil {
		return fmt.Errorf("journal: counters: %w", err)
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err = dbopen.Exec(ctx, j.db, `
		INSERT OR REPLACE INTO sweep_events (
			run_id, seq, kind, campaign, pass, identity, outcome, state,
			detail, text, counters, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.RunID, ev.Seq, string(ev.Kind), ev.Campaign, ev.Pass, ev.Identity, ev.Outcome, ev.State,
		ev.Detail, ev.Text, string(counters), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Events returns the events of a run in sequence order. limit <= 0 means all.
func (j *Journal) Events(ctx context.Context, runID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, campaign, pass, identity, outcome, state, detail, text, counters, created_at
		FROM sweep_events WHERE run_id = ? ORDER BY seq LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		ev := event.Event{RunID: runID}
		var kind, counters string
		var at int64
		if err := rows.Scan(&ev.Seq, &kind, &ev.Campaign, &ev.Pass, &ev.Identity, &ev.Outcome,
			&ev.State, &ev.Detail, &ev.Text, &counters, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Kind = event.Kind(kind)
		ev.Time = time.UnixMilli(at)
		if err := json.Unmarshal([]byte(counters), &ev.Counters); err != nil {
			return nil, fmt.Errorf("journal: counters: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than age.
func (j *Journal) Prune(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	res, err := dbopen.Exec(ctx, j.db, `DELETE FROM sweep_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database when the journal opened it.
func (j *Journal) Close() error {
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}
