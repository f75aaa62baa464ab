package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/lander/dbopen"
	"github.com/hazyhaar/lander/idgen"
)

// Experiment statuses.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Experiment is one testing campaign over a page element.
type Experiment struct {
	ID        string `json:"id"`
	Element   string `json:"element"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	StoppedAt *int64 `json:"stopped_at,omitempty"`
}

// Running reports whether the experiment is the live one.
func (e *Experiment) Running() bool {
	return e.Status == StatusRunning
}

const experimentCols = `id, element, status, created_at, stopped_at`

func scanExperiment(row interface{ Scan(...any) error }) (*Experiment, error) {
	e := &Experiment{}
	var stopped sql.NullInt64
	if err := row.Scan(&e.ID, &e.Element, &e.Status, &e.CreatedAt, &stopped); err != nil {
		return nil, err
	}
	e.StoppedAt = intPtr(stopped)
	return e, nil
}

// CreateExperiment starts a running experiment over element with champion as
// its only variant, and records a started event. Fails with ErrRunningExists
// when another experiment is running.
func (s *Store) CreateExperiment(ctx context.Context, element string, champion *Variant) (*Experiment, error) {
	now := s.nowMS()
	exp := &Experiment{
		ID:        idgen.Experiment.From(s.gen),
		Element:   element,
		Status:    StatusRunning,
		CreatedAt: now,
	}
	champion.ExperimentID = exp.ID
	champion.Slot = SlotChampion
	s.fillVariant(champion, now)

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM experiments WHERE status = 'running'`).Scan(&running); err != nil {
			return err
		}
		if running > 0 {
			return ErrRunningExists
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO experiments (id, element, status, created_at) VALUES (?, ?, ?, ?)`,
			exp.ID, exp.Element, exp.Status, exp.CreatedAt,
		); err != nil {
			return err
		}
		if err := insertVariant(ctx, tx, champion); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, &Event{
			ExperimentID: exp.ID,
			VariantID:    champion.ID,
			Type:         EventStarted,
			Details:      map[string]any{"element": element},
		})
	})
	if err != nil {
		if errors.Is(err, ErrRunningExists) {
			return nil, err
		}
		return nil, fmt.Errorf("store: create experiment: %w", err)
	}
	return exp, nil
}

// RunningExperiment returns the running experiment, or nil, nil when none is.
func (s *Store) RunningExperiment(ctx context.Context) (*Experiment, error) {
	e, err := scanExperiment(s.DB.QueryRowContext(ctx,
		`SELECT `+experimentCols+` FROM experiments WHERE status = 'running'`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: running experiment: %w", err)
	}
	return e, nil
}

// GetExperiment returns an experiment by id, or ErrNotFound.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	e, err := scanExperiment(s.DB.QueryRowContext(ctx,
		`SELECT `+experimentCols+` FROM experiments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get experiment: %w", err)
	}
	return e, nil
}

// StopExperiment moves a running experiment to stopped and records a stopped
// event. Stopping a non-running experiment fails with ErrConflict.
func (s *Store) StopExperiment(ctx context.Context, id string) error {
	now := s.nowMS()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := execOne(ctx, tx,
			`UPDATE experiments SET status = 'stopped', stopped_at = ? WHERE id = ? AND status = 'running'`,
			now, id,
		); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, &Event{ExperimentID: id, Type: EventStopped})
	})
	if err != nil {
		return fmt.Errorf("store: stop experiment %s: %w", id, err)
	}
	return nil
}
