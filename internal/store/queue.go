package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

// EnqueueAccount upserts a pending queue entry for the account. Re-enqueuing
// an already queued or already processed account resets it to pending with a
// fresh attempt counter.
func (s *Store) EnqueueAccount(ctx context.Context, accountID, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_queue (account_id, user_id, status, attempts, next_attempt_at, processed_at, created_at)
		VALUES (?, ?, 'pending', 0, ?, NULL, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			status          = 'pending',
			attempts        = 0,
			next_attempt_at = excluded.next_attempt_at,
			processed_at    = NULL`,
		accountID, userID, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("enqueue account %s: %w", accountID, err)
	}
	return nil
}

// DuePendingEntries returns up to limit pending entries whose next attempt
// time has passed, oldest first.
func (s *Store) DuePendingEntries(ctx context.Context, limit int, now time.Time) ([]domain.AccountQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, user_id, status, attempts, next_attempt_at, processed_at, created_at
		FROM account_queue
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at
		LIMIT ?`, fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AccountQueueEntry
	for rows.Next() {
		var e domain.AccountQueueEntry
		var status, nextAttempt, createdAt string
		var processedAt sql.NullString
		err := rows.Scan(&e.AccountID, &e.UserID, &status, &e.Attempts, &nextAttempt, &processedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Status = domain.QueueStatus(status)
		e.NextAttemptAt = parseTime(nextAttempt)
		if processedAt.Valid {
			t := parseTime(processedAt.String)
			e.ProcessedAt = &t
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryProcessed transitions a queue entry to processed. The transition
// is one-way; processed entries are only reset by an explicit re-enqueue.
func (s *Store) MarkEntryProcessed(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE account_queue SET status = 'processed', processed_at = ?
		WHERE account_id = ?`, fmtTime(at), accountID)
	if err != nil {
		return fmt.Errorf("mark entry processed %s: %w", accountID, err)
	}
	return nil
}

// RecordEntryFailure keeps the entry pending, bumps its attempt counter and
// defers the next attempt.
func (s *Store) RecordEntryFailure(ctx context.Context, accountID string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE account_queue SET attempts = attempts + 1, next_attempt_at = ?
		WHERE account_id = ?`, fmtTime(nextAttemptAt), accountID)
	if err != nil {
		return fmt.Errorf("record entry failure %s: %w", accountID, err)
	}
	return nil
}
