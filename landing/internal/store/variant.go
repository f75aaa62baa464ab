package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/lander/dbopen"
	"github.com/hazyhaar/lander/idgen"
	"github.com/hazyhaar/lander/landing/internal/content"
)

// Slot is the role of a variant in its experiment.
type Slot string

const (
	SlotChampion   Slot = "champion"
	SlotChallenger Slot = "challenger"
	SlotExplorer   Slot = "explorer"
)

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	switch s {
	case SlotChampion, SlotChallenger, SlotExplorer:
		return true
	}
	return false
}

// Rank orders slots champion, challenger, explorer.
func (s Slot) Rank() int {
	switch s {
	case SlotChampion:
		return 0
	case SlotChallenger:
		return 1
	case SlotExplorer:
		return 2
	}
	return 3
}

// Variant is one candidate rendering of the experiment's element.
type Variant struct {
	ID           string          `json:"id"`
	ExperimentID string          `json:"experiment_id"`
	Slot         Slot            `json:"slot"`
	Weight       int             `json:"weight"`
	Content      content.Content `json:"content"`
	Impressions  int64           `json:"impressions"`
	Conversions  int64           `json:"conversions"`
	Confidence   *float64        `json:"confidence"`
	PromotedAt   *int64          `json:"promoted_at,omitempty"`
	KilledAt     *int64          `json:"killed_at,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// Rate is conversions / impressions, 0 when there are no impressions.
func (v *Variant) Rate() float64 {
	if v.Impressions <= 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Impressions)
}

// Killed reports whether the variant has been retired.
func (v *Variant) Killed() bool {
	return v.KilledAt != nil
}

const variantCols = `id, experiment_id, slot, weight, content, impressions, conversions,
	confidence, promoted_at, killed_at, created_at`

func scanVariant(row interface{ Scan(...any) error }) (*Variant, error) {
	v := &Variant{}
	var body string
	var conf sql.NullFloat64
	var promoted, killed sql.NullInt64
	if err := row.Scan(&v.ID, &v.ExperimentID, &v.Slot, &v.Weight, &body, &v.Impressions, &v.Conversions,
		&conf, &promoted, &killed, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), &v.Content); err != nil {
		return nil, fmt.Errorf("variant %s: %w", v.ID, err)
	}
	v.Confidence = floatPtr(conf)
	v.PromotedAt = intPtr(promoted)
	v.KilledAt = intPtr(killed)
	return v, nil
}

func (s *Store) fillVariant(v *Variant, now int64) {
	if v.ID == "" {
		v.ID = idgen.Variant.From(s.gen)
	}
	if v.CreatedAt == 0 {
		v.CreatedAt = now
	}
}

func insertVariant(ctx context.Context, tx *sql.Tx, v *Variant) error {
	if !v.Slot.Valid() {
		return fmt.Errorf("invalid slot %q", v.Slot)
	}
	body, err := json.Marshal(v.Content)
	if err != nil {
		return err
	}
	var conf sql.NullFloat64
	if v.Confidence != nil {
		conf = sql.NullFloat64{Float64: *v.Confidence, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO variants (`+variantCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ExperimentID, string(v.Slot), v.Weight, string(body), v.Impressions, v.Conversions,
		conf, nullInt(v.PromotedAt), nullInt(v.KilledAt), v.CreatedAt,
	)
	return err
}

// InsertVariant stores a new variant, generating its id and creation time
// when unset. When ev is non-nil it is appended in the same transaction with
// the variant's ids filled in.
func (s *Store) InsertVariant(ctx context.Context, v *Variant, ev *Event) error {
	s.fillVariant(v, s.nowMS())
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := insertVariant(ctx, tx, v); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		ev.ExperimentID = v.ExperimentID
		ev.VariantID = v.ID
		return s.appendEvent(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("store: insert variant: %w", err)
	}
	return nil
}

// GetVariant returns a variant by id, or ErrNotFound.
func (s *Store) GetVariant(ctx context.Context, id string) (*Variant, error) {
	v, err := scanVariant(s.DB.QueryRowContext(ctx,
		`SELECT `+variantCols+` FROM variants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get variant: %w", err)
	}
	return v, nil
}

// ActiveVariants returns the non-killed variants of an experiment.
func (s *Store) ActiveVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	return s.ListVariants(ctx, experimentID, false)
}

// ListVariants returns an experiment's variants ordered champion,
// challenger, explorer, then by creation. Killed variants are included only
// when includeKilled is set.
func (s *Store) ListVariants(ctx context.Context, experimentID string, includeKilled bool) ([]*Variant, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + variantCols + ` FROM variants WHERE experiment_id = ?`)
	if !includeKilled {
		q.WriteString(` AND killed_at IS NULL`)
	}
	q.WriteString(` ORDER BY CASE slot WHEN 'champion' THEN 0 WHEN 'challenger' THEN 1 ELSE 2 END, created_at, id`)

	rows, err := s.DB.QueryContext(ctx, q.String(), experimentID)
	if err != nil {
		return nil, fmt.Errorf("store: list variants: %w", err)
	}
	defer rows.Close()

	var out []*Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list variants: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetConfidence stores (or clears, with nil) a live variant's confidence.
func (s *Store) SetConfidence(ctx context.Context, id string, confidence *float64) error {
	var conf sql.NullFloat64
	if confidence != nil {
		conf = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE variants SET confidence = ? WHERE id = ? AND killed_at IS NULL`, conf, id)
	if err != nil {
		return fmt.Errorf("store: set confidence %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set confidence %s: %w", id, ErrConflict)
	}
	return nil
}

// PromoteParams describes one champion swap.
type PromoteParams struct {
	ExperimentID   string
	WinnerID       string
	ChampionID     string
	ChampionWeight int
	DemotedWeight  int
	Details        map[string]any
}

// Promote swaps champion and winner in one transaction: the current
// champion becomes a challenger at DemotedWeight with its confidence
// cleared, the winner becomes champion at ChampionWeight with promoted_at
// stamped, and a promoted event is appended. Fails with ErrConflict when
// either variant is no longer in the expected state.
func (s *Store) Promote(ctx context.Context, p PromoteParams) error {
	now := s.nowMS()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := execOne(ctx, tx, `
			UPDATE variants SET slot = 'challenger', weight = ?, confidence = NULL
			WHERE id = ? AND experiment_id = ? AND slot = 'champion' AND killed_at IS NULL`,
			p.DemotedWeight, p.ChampionID, p.ExperimentID,
		); err != nil {
			return fmt.Errorf("demote %s: %w", p.ChampionID, err)
		}
		if err := execOne(ctx, tx, `
			UPDATE variants SET slot = 'champion', weight = ?, confidence = NULL, promoted_at = ?
			WHERE id = ? AND experiment_id = ? AND slot != 'champion' AND killed_at IS NULL`,
			p.ChampionWeight, now, p.WinnerID, p.ExperimentID,
		); err != nil {
			return fmt.Errorf("promote %s: %w", p.WinnerID, err)
		}
		return s.appendEvent(ctx, tx, &Event{
			ExperimentID: p.ExperimentID,
			VariantID:    p.WinnerID,
			Type:         EventPromoted,
			Details:      p.Details,
		})
	})
	if err != nil {
		return fmt.Errorf("store: promote: %w", err)
	}
	return nil
}

// Kill retires a live non-champion variant and appends a killed event. It
// reports false without error when the variant was already killed.
func (s *Store) Kill(ctx context.Context, id string, details map[string]any) (bool, error) {
	now := s.nowMS()
	killed := false
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		killed = false
		var expID string
		var slot Slot
		var killedAt sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT experiment_id, slot, killed_at FROM variants WHERE id = ?`, id,
		).Scan(&expID, &slot, &killedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if killedAt.Valid {
			return nil
		}
		if slot == SlotChampion {
			return fmt.Errorf("%w: champion cannot be killed", ErrConflict)
		}
		if err := execOne(ctx, tx,
			`UPDATE variants SET killed_at = ? WHERE id = ? AND killed_at IS NULL`, now, id,
		); err != nil {
			return err
		}
		killed = true
		return s.appendEvent(ctx, tx, &Event{
			ExperimentID: expID,
			VariantID:    id,
			Type:         EventKilled,
			Details:      details,
		})
	})
	if err != nil {
		return false, fmt.Errorf("store: kill %s: %w", id, err)
	}
	return killed, nil
}
