package store

import (
	"context"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

// AppendFetchLog appends one entry to the fetch ledger. Entries are never
// mutated afterwards.
func (s *Store) AppendFetchLog(ctx context.Context, e domain.FetchLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO fetch_log (account_id, scope, fetched_at) VALUES (?, ?, ?)",
		e.AccountID, string(e.Scope), fmtTime(e.FetchedAt))
	if err != nil {
		return fmt.Errorf("append fetch log (%s, %s): %w", e.AccountID, e.Scope, err)
	}
	return nil
}

// CountFetchesSince counts ledger entries for (account, scope) with a
// timestamp at or after since.
func (s *Store) CountFetchesSince(ctx context.Context, accountID string, scope domain.FetchScope, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fetch_log
		WHERE account_id = ? AND scope = ? AND fetched_at >= ?`,
		accountID, string(scope), fmtTime(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fetches (%s, %s): %w", accountID, scope, err)
	}
	return n, nil
}
