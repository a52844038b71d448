package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Attempts bounds Retry.
const Attempts = 3

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-busy error, or
// Attempts is reached. Waits grow by 100ms per attempt.
func Retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for i := 1; i <= Attempts; i++ {
		if err = fn(ctx); err == nil || !IsBusy(err) {
			return err
		}
		if i == Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: retry: %w", ctx.Err())
		case <-time.After(time.Duration(i) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("dbopen: still busy after %d attempts: %w", Attempts, err)
}

// Exec runs a statement under Retry. Operators edit guard_pages while the
// guard reads it, so short lock contention is expected.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := Retry(ctx, func(ctx context.Context) error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}
