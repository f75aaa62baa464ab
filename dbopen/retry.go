package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Busy retry schedule: attempts and the first backoff, doubled each time.
const (
	busyAttempts = 4
	busyBackoff  = 50 * time.Millisecond
)

// IsBusy reports whether err means another connection holds the lock
// (SQLITE_BUSY or SQLITE_LOCKED, extended codes included). Errors that lost
// their driver type are matched on the driver's message.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "is locked")
}

// onBusy calls fn until it succeeds, fails with a non-busy error, or the
// attempts run out. Backoff waits honour ctx.
func onBusy(ctx context.Context, fn func() error) error {
	wait := busyBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !IsBusy(err) || attempt == busyAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: gave up on busy database: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// RunTx runs fn in a transaction and commits it, replaying the whole
// transaction when the database is busy. fn must only touch tx.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return onBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec is db.ExecContext with the same busy replay as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (res sql.Result, err error) {
	err = onBusy(ctx, func() error {
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}
