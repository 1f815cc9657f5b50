package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

const invitationColumns = `id, result_id, test_id, inviter_email, partner_email, partner_name, categories, locale,
	created_at, status, partner_result_id, status_updated_at`

// CreateInvitation inserts the inviter's part of an invitation. The origin
// columns are written once; an existing id is left untouched.
func (s *Store) CreateInvitation(ctx context.Context, inv model.InvitationRecord) error {
	cats := inv.Origin.Categories
	if cats == nil {
		cats = []string{}
	}
	categories, err := marshalString(cats)
	if err != nil {
		return err
	}
	status := inv.Completion.Status
	if status == "" {
		status = model.InvitationPending
	}
	updated := inv.Completion.UpdatedAt
	if updated.IsZero() {
		updated = inv.Origin.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invitations (`+invitationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		inv.ID, inv.Origin.ResultID, inv.Origin.TestID,
		normalizeEmail(inv.Origin.InviterEmail), normalizeEmail(inv.Origin.PartnerEmail),
		inv.Origin.PartnerName, categories, inv.Origin.Locale, inv.Origin.CreatedAt,
		status, inv.Completion.PartnerResultID, updated,
	)
	return err
}

// UpdateInvitationCompletion overwrites only the partner-owned status
// columns. Last writer wins.
func (s *Store) UpdateInvitationCompletion(ctx context.Context, id string, c model.InvitationCompletion) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = ?, partner_result_id = ?, status_updated_at = ? WHERE id = ?`,
		c.Status, c.PartnerResultID, c.UpdatedAt, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("invitation %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// GetInvitation returns an invitation by id, or nil if it does not exist.
func (s *Store) GetInvitation(ctx context.Context, id string) (*model.InvitationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

// InvitationsForResult lists invitations created from a result, oldest first.
func (s *Store) InvitationsForResult(ctx context.Context, resultID string) ([]model.InvitationRecord, error) {
	return s.queryInvitations(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE result_id = ? ORDER BY created_at`, resultID)
}

// ListInvitations returns all invitations, oldest first.
func (s *Store) ListInvitations(ctx context.Context) ([]model.InvitationRecord, error) {
	return s.queryInvitations(ctx, `SELECT `+invitationColumns+` FROM invitations ORDER BY created_at`)
}

func (s *Store) queryInvitations(ctx context.Context, query string, args ...any) ([]model.InvitationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.InvitationRecord
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func scanInvitation(sc scanner) (*model.InvitationRecord, error) {
	var inv model.InvitationRecord
	var categories string
	err := sc.Scan(&inv.ID, &inv.Origin.ResultID, &inv.Origin.TestID, &inv.Origin.InviterEmail,
		&inv.Origin.PartnerEmail, &inv.Origin.PartnerName, &categories, &inv.Origin.Locale,
		&inv.Origin.CreatedAt, &inv.Completion.Status, &inv.Completion.PartnerResultID,
		&inv.Completion.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(categories), &inv.Origin.Categories); err != nil {
		return nil, fmt.Errorf("decode categories of invitation %s: %w", inv.ID, err)
	}
	return &inv, nil
}
