package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

const resultColumns = `id, test_id, owner_id, display_name, locale, categories, answers, payload, response_times, completed_at`

// SaveResult upserts a result record. Re-saving the same id overwrites.
func (s *Store) SaveResult(ctx context.Context, r model.ResultRecord) error {
	categories, answers, payload, times, err := encodeResult(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET answers = excluded.answers, payload = excluded.payload,
		   response_times = excluded.response_times, completed_at = excluded.completed_at`,
		r.ID, r.TestID, model.OwnerOrAnonymous(r.OwnerID), r.DisplayName, r.Locale,
		categories, answers, payload, times, r.CompletedAt,
	)
	return err
}

// GetResult returns a result by id, or nil if it does not exist.
func (s *Store) GetResult(ctx context.Context, id string) (*model.ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// LatestResultForOwner returns the newest result of owner for a test, or nil.
func (s *Store) LatestResultForOwner(ctx context.Context, testID, ownerID string) (*model.ResultRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE test_id = ? AND owner_id = ?
		 ORDER BY completed_at DESC LIMIT 1`,
		testID, ownerID,
	)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteResult removes a result. Deleting a missing result is not an error.
func (s *Store) DeleteResult(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id)
	return err
}

// ListResults returns all results, newest first. An empty testID lists all tests.
func (s *Store) ListResults(ctx context.Context, testID string) ([]model.ResultRecord, error) {
	query := `SELECT ` + resultColumns + ` FROM results`
	var args []any
	if testID != "" {
		query += ` WHERE test_id = ?`
		args = append(args, testID)
	}
	query += ` ORDER BY completed_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ResultRecord
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*model.ResultRecord, error) {
	var r model.ResultRecord
	var categories, answers, payload, times string
	if err := sc.Scan(&r.ID, &r.TestID, &r.OwnerID, &r.DisplayName, &r.Locale,
		&categories, &answers, &payload, &times, &r.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
		return nil, fmt.Errorf("decode categories of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(times), &r.ResponseTimes); err != nil {
		return nil, fmt.Errorf("decode response times of %s: %w", r.ID, err)
	}
	return &r, nil
}

func encodeResult(r model.ResultRecord) (categories, answers, payload, times string, err error) {
	cats := r.Categories
	if cats == nil {
		cats = []string{}
	}
	if categories, err = marshalString(cats); err != nil {
		return
	}
	if answers, err = marshalString(r.Answers); err != nil {
		return
	}
	if payload, err = marshalString(r.Payload); err != nil {
		return
	}
	rt := r.ResponseTimes
	if rt == nil {
		rt = map[string]float64{}
	}
	times, err = marshalString(rt)
	return
}

func marshalString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(b), nil
}
