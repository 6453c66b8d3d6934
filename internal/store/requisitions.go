package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

// InsertRequisition records a newly created linking session.
func (s *Store) InsertRequisition(ctx context.Context, r domain.Requisition) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requisitions (requisition_id, user_id, institution_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.RequisitionID, r.UserID, r.InstitutionID, r.Status, fmtTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert requisition %s: %w", r.RequisitionID, err)
	}
	return nil
}

// UpdateRequisitionStatus sets the status of an existing requisition.
func (s *Store) UpdateRequisitionStatus(ctx context.Context, requisitionID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE requisitions SET status = ? WHERE requisition_id = ?",
		status, requisitionID)
	if err != nil {
		return fmt.Errorf("update requisition %s: %w", requisitionID, err)
	}
	return nil
}

// LatestRequisitionByUser returns the most recently created requisition for
// a user, or ErrNotFound. The linking callback only carries the user
// reference, so the latest session is the one being completed.
func (s *Store) LatestRequisitionByUser(ctx context.Context, userID string) (domain.Requisition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT requisition_id, user_id, institution_id, status, created_at
		FROM requisitions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT 1`, userID)

	r, err := scanRequisition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Requisition{}, ErrNotFound
	}
	if err != nil {
		return domain.Requisition{}, fmt.Errorf("latest requisition for user %s: %w", userID, err)
	}
	return r, nil
}

func scanRequisition(r rowScanner) (domain.Requisition, error) {
	var req domain.Requisition
	var createdAt string
	err := r.Scan(&req.RequisitionID, &req.UserID, &req.InstitutionID, &req.Status, &createdAt)
	if err != nil {
		return domain.Requisition{}, err
	}
	req.CreatedAt = parseTime(createdAt)
	return req, nil
}
