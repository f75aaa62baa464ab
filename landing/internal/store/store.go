// Package store is the SQLite persistence layer for experiments, variants and
// the engine's event log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/lander/dbopen"
	"github.com/hazyhaar/lander/idgen"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrRunningExists is returned when starting an experiment while another
	// one is running.
	ErrRunningExists = errors.New("store: an experiment is already running")
	// ErrConflict is returned when a conditional update matched no row
	// because the variant changed state underneath the caller.
	ErrConflict = errors.New("store: variant state changed")
)

// Store is the lander database handle.
type Store struct {
	DB  *sql.DB
	now func() time.Time
	gen idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides the UUIDv7 generator. Record prefixes are still
// prepended.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Store) { s.gen = gen } }

// New wraps an open database that already carries Schema.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, now: time.Now, gen: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens (or creates) the lander database at path and applies Schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) nowMS() int64 {
	return s.now().UnixMilli()
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// execOne runs a conditional update inside tx and fails with ErrConflict
// unless exactly one row changed.
func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w (%d rows)", ErrConflict, n)
	}
	return nil
}
