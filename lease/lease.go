// Package lease implements a named, expiring mutual-exclusion lease backed by
// SQLite.
//
// A lease is one row. Acquiring it succeeds when the row is absent, expired,
// or already held by the same holder. A holder that crashes simply stops
// extending; its lease expires after the TTL and another process can take it.
// lander uses one lease ("engine_cycle") so at most one decision cycle is in
// flight across all processes sharing the database.
//
// Expected schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS leases (
//	    name        TEXT PRIMARY KEY,
//	    holder      TEXT NOT NULL,
//	    acquired_at INTEGER NOT NULL,  -- milliseconds since epoch
//	    expires_at  INTEGER NOT NULL   -- milliseconds since epoch
//	);
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/lander/dbopen"
)

// Schema creates the leases table.
const Schema = `
CREATE TABLE IF NOT EXISTS leases (
	name        TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);`

// ErrHeld is returned by Run when another holder owns a live lease.
var ErrHeld = errors.New("lease: held by another holder")

// ErrNotHeld is returned by Extend when the caller no longer owns the lease.
var ErrNotHeld = errors.New("lease: not held")

// Options configures a Lease.
type Options struct {
	// TTL is how long an acquisition or extension lasts. Default: 2m.
	TTL time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Lease is a handle on one named lease row.
type Lease struct {
	db   *sql.DB
	name string
	opts Options
	now  func() time.Time
}

// New creates a handle. Call EnsureTable once at startup.
func New(db *sql.DB, name string, opts Options) *Lease {
	opts.defaults()
	return &Lease{db: db, name: name, opts: opts, now: time.Now}
}

// EnsureTable creates the leases table if it does not exist.
func (l *Lease) EnsureTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, Schema)
	return err
}

// TryAcquire takes the lease for holder if it is free, expired, or already
// held by holder. It reports whether holder now owns it.
func (l *Lease) TryAcquire(ctx context.Context, holder string) (bool, error) {
	now := l.now()
	res, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO leases (name, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE leases.expires_at <= ? OR leases.holder = excluded.holder`,
		l.name, holder, now.UnixMilli(), now.Add(l.opts.TTL).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", l.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", l.name, err)
	}
	return n == 1, nil
}

// Extend pushes the expiry of a lease holder owns one TTL into the future.
func (l *Lease) Extend(ctx context.Context, holder string) error {
	res, err := dbopen.Exec(ctx, l.db,
		`UPDATE leases SET expires_at = ? WHERE name = ? AND holder = ?`,
		l.now().Add(l.opts.TTL).UnixMilli(), l.name, holder,
	)
	if err != nil {
		return fmt.Errorf("lease: extend %s: %w", l.name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release gives the lease up. Releasing a lease holder does not own is a no-op.
func (l *Lease) Release(ctx context.Context, holder string) error {
	_, err := dbopen.Exec(ctx, l.db, `DELETE FROM leases WHERE name = ? AND holder = ?`, l.name, holder)
	if err != nil {
		return fmt.Errorf("lease: release %s: %w", l.name, err)
	}
	return nil
}

// Holder returns the current holder and expiry. An empty holder means the
// lease is free; an expired row is reported as free.
func (l *Lease) Holder(ctx context.Context) (string, time.Time, error) {
	var holder string
	var exp int64
	err := l.db.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM leases WHERE name = ?`, l.name,
	).Scan(&holder, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("lease: holder %s: %w", l.name, err)
	}
	expires := time.UnixMilli(exp)
	if !expires.After(l.now()) {
		return "", time.Time{}, nil
	}
	return holder, expires, nil
}

// Run acquires the lease for holder, runs fn while extending the lease every
// TTL/2, then releases it. Returns ErrHeld without calling fn when another
// holder owns the lease. fn's context is cancelled if an extension finds
// the lease lost.
func (l *Lease) Run(ctx context.Context, holder string, fn func(ctx context.Context) error) error {
	ok, err := l.TryAcquire(ctx, holder)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHeld
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(runCtx, cancel, holder)
	}()

	err = fn(runCtx)
	cancel()
	<-done

	// Release even when ctx is already cancelled.
	relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer relCancel()
	if rerr := l.Release(relCtx, holder); rerr != nil {
		l.opts.Logger.Warn("lease: release failed", "lease", l.name, "holder", holder, "error", rerr)
	}
	return err
}

func (l *Lease) keepAlive(ctx context.Context, cancel context.CancelFunc, holder string) {
	tick := time.NewTicker(l.opts.TTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := l.Extend(ctx, holder); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.opts.Logger.Error("lease: lost", "lease", l.name, "holder", holder, "error", err)
				cancel()
				return
			}
		}
	}
}
