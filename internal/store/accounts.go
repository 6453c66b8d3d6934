package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtNullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(t), Valid: true}
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

// UpsertAccount inserts the account or, on conflict by account_id, updates
// its non-identity fields. user_id is never overwritten.
func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			account_id, user_id, institution_id, iban, bban,
			owner_name, display_name, status, currency, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			institution_id = excluded.institution_id,
			iban           = excluded.iban,
			bban           = excluded.bban,
			owner_name     = excluded.owner_name,
			display_name   = excluded.display_name,
			status         = excluded.status,
			currency       = excluded.currency`,
		a.AccountID, a.UserID, a.InstitutionID, a.IBAN, a.BBAN,
		a.OwnerName, a.DisplayName, a.Status, a.Currency, fmtTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.AccountID, err)
	}
	return nil
}

// GetAccount returns the account with the given id, or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, user_id, institution_id, iban, bban,
		       owner_name, display_name, status, currency, created_at
		FROM accounts WHERE account_id = ?`, accountID)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return a, nil
}

// ListAccountsByUser returns all accounts linked to a user.
func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, user_id, institution_id, iban, bban,
		       owner_name, display_name, status, currency, created_at
		FROM accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (domain.Account, error) {
	var a domain.Account
	var createdAt string
	err := r.Scan(
		&a.AccountID, &a.UserID, &a.InstitutionID, &a.IBAN, &a.BBAN,
		&a.OwnerName, &a.DisplayName, &a.Status, &a.Currency, &createdAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}
