package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/lander/dbopen"
	"github.com/hazyhaar/lander/tracking"
)

// IncrementCounters applies a batch of impression/conversion deltas in one
// transaction. Conversions are capped at the new impression count; unknown
// and killed variants are skipped. Store satisfies tracking.Sink.
func (s *Store) IncrementCounters(ctx context.Context, deltas map[string]tracking.Delta) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE variants SET
				impressions = impressions + ?,
				conversions = MIN(conversions + ?, impressions + ?)
			WHERE id = ? AND killed_at IS NULL`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, d := range deltas {
			imp := max(d.Impressions, 0)
			conv := max(d.Conversions, 0)
			if imp == 0 && conv == 0 {
				continue
			}
			if _, err := stmt.ExecContext(ctx, imp, conv, imp, id); err != nil {
				return fmt.Errorf("variant %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: increment counters: %w", err)
	}
	return nil
}

// IncrementImpressions adds n impressions to one variant.
func (s *Store) IncrementImpressions(ctx context.Context, id string, n int64) error {
	return s.IncrementCounters(ctx, map[string]tracking.Delta{id: {Impressions: n}})
}

// IncrementConversions adds n conversions to one variant, capped at its
// impressions.
func (s *Store) IncrementConversions(ctx context.Context, id string, n int64) error {
	return s.IncrementCounters(ctx, map[string]tracking.Delta{id: {Conversions: n}})
}
