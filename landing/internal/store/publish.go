package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Publish is one row of the publish log.
type Publish struct {
	Seq          int64  `json:"seq"`
	ExperimentID string `json:"experiment_id"`
	Active       bool   `json:"active"`
	Variants     int    `json:"variants"`
	PublishedAt  int64  `json:"published_at"`
}

// RecordPublish appends a publish and returns its sequence number.
func (s *Store) RecordPublish(ctx context.Context, experimentID string, active bool, variants int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO publishes (experiment_id, active, variants, published_at)
		VALUES (?, ?, ?, ?)`,
		experimentID, active, variants, s.nowMS(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: record publish: %w", err)
	}
	return res.LastInsertId()
}

// PublishSeq returns the latest publish sequence number, 0 when nothing was
// ever published.
func (s *Store) PublishSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM publishes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("store: publish seq: %w", err)
	}
	return seq, nil
}

// LastPublish returns the most recent publish, or ErrNotFound.
func (s *Store) LastPublish(ctx context.Context) (*Publish, error) {
	p := &Publish{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT seq, experiment_id, active, variants, published_at
		FROM publishes ORDER BY seq DESC LIMIT 1`,
	).Scan(&p.Seq, &p.ExperimentID, &p.Active, &p.Variants, &p.PublishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: last publish: %w", err)
	}
	return p, nil
}
