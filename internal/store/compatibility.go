package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// UpsertCompatibility stores a joint result snapshot under one owner.
// Repeated writes for the same (owner, pair) overwrite.
func (s *Store) UpsertCompatibility(ctx context.Context, ownerID string, c model.CompatibilityResult) error {
	payload, err := marshalString(c)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO compatibility_results (owner_id, pair_id, first_result_id, second_result_id, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, pair_id) DO UPDATE SET
		   first_result_id = excluded.first_result_id, second_result_id = excluded.second_result_id,
		   payload = excluded.payload, updated_at = excluded.updated_at`,
		normalizeEmail(ownerID), c.PairID, c.FirstResultID, c.SecondResultID, payload, now,
	)
	return err
}

// GetCompatibility returns the snapshot of a pair for an owner, or nil.
func (s *Store) GetCompatibility(ctx context.Context, ownerID, pairID string) (*model.CompatibilityResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM compatibility_results WHERE owner_id = ? AND pair_id = ?`,
		normalizeEmail(ownerID), pairID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCompatibility(payload)
}

// CompatibilityForResult finds any snapshot that includes the given result.
func (s *Store) CompatibilityForResult(ctx context.Context, resultID string) (*model.CompatibilityResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM compatibility_results
		 WHERE first_result_id = ? OR second_result_id = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		resultID, resultID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCompatibility(payload)
}

// ListCompatibility returns one snapshot per pair.
func (s *Store) ListCompatibility(ctx context.Context) ([]model.CompatibilityResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM compatibility_results c
		 WHERE owner_id = (SELECT MIN(owner_id) FROM compatibility_results WHERE pair_id = c.pair_id)
		 ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CompatibilityResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		c, err := decodeCompatibility(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func decodeCompatibility(payload string) (*model.CompatibilityResult, error) {
	var c model.CompatibilityResult
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode compatibility result: %w", err)
	}
	return &c, nil
}
