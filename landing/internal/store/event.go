package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/lander/dbopen"
	"github.com/hazyhaar/lander/idgen"
)

// EventType names an engine action.
type EventType string

const (
	EventStarted   EventType = "started"
	EventPromoted  EventType = "promoted"
	EventKilled    EventType = "killed"
	EventGenerated EventType = "generated"
	EventStopped   EventType = "stopped"
)

// Event is an immutable audit record.
type Event struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id,omitempty"`
	Type         EventType      `json:"type"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, e *Event) error {
	if e.ID == "" {
		e.ID = idgen.Event.From(s.gen)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = s.nowMS()
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("event details: %w", err)
		}
	}
	var variantID sql.NullString
	if e.VariantID != "" {
		variantID = sql.NullString{String: e.VariantID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, experiment_id, variant_id, type, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExperimentID, variantID, string(e.Type), string(details), e.CreatedAt,
	)
	return err
}

// AppendEvent records a standalone event.
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return s.appendEvent(ctx, tx, e)
	})
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first. An empty experimentID lists every
// experiment; limit <= 0 means 100.
func (s *Store) ListEvents(ctx context.Context, experimentID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, experiment_id, variant_id, type, details, created_at FROM events`
	args := []any{}
	if experimentID != "" {
		q += ` WHERE experiment_id = ?`
		args = append(args, experimentID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var variantID sql.NullString
		var details string
		if err := rows.Scan(&e.ID, &e.ExperimentID, &variantID, &e.Type, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list events: %w", err)
		}
		e.VariantID = variantID.String
		if details != "" && details != "{}" {
			json.Unmarshal([]byte(details), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
