package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Retries is the number of attempts Exec makes on a busy database.
const Retries = 3

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a statement, retrying busy errors with a linear backoff
// (100, 200 ms).
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := range Retries {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil || !IsBusy(err) {
			return res, err
		}
		lastErr = err
		if i == Retries-1 {
			break
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dbopen: retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("dbopen: still busy after %d attempts: %w", Retries, lastErr)
}
