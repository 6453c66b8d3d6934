package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

// InsertTransaction writes a transaction keyed by transaction_id. It reports
// whether a new row was inserted; an existing row is left untouched, so a
// re-fetch of the same feed is a no-op rather than an overwrite.
func (s *Store) InsertTransaction(ctx context.Context, t domain.Transaction) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var category sql.NullString
	if t.Category != "" {
		category = sql.NullString{String: string(t.Category), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			transaction_id, account_id, amount, currency,
			booking_date, value_date, merchant_description,
			proprietary_code, movement_kind, category,
			entry_reference, internal_transaction_id, additional_information,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING`,
		t.TransactionID, t.AccountID, t.Amount, t.Currency,
		fmtNullTime(t.BookingDate), fmtNullTime(t.ValueDate), t.MerchantDescription,
		t.ProprietaryCode, string(t.MovementKind), category,
		t.EntryReference, t.InternalTransactionID, t.AdditionalInformation,
		fmtTime(t.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", t.TransactionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: rows affected: %w", t.TransactionID, err)
	}
	return n > 0, nil
}

// ExistingTransactionIDs returns the set of stored transaction ids for an
// account, as a single batched lookup for dedup during ingestion.
func (s *Store) ExistingTransactionIDs(ctx context.Context, accountID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT transaction_id FROM transactions WHERE account_id = ?", accountID)
	if err != nil {
		return nil, fmt.Errorf("list transaction ids for account %s: %w", accountID, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// GetTransactionCategory returns the cached category for a transaction, or
// ErrNotFound when the transaction does not exist. An empty category means
// classification is still pending.
func (s *Store) GetTransactionCategory(ctx context.Context, transactionID string) (domain.Category, error) {
	var category sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT category FROM transactions WHERE transaction_id = ?", transactionID,
	).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get category for %s: %w", transactionID, err)
	}
	if !category.Valid {
		return "", nil
	}
	return domain.Category(category.String), nil
}

// SetTransactionCategory caches the classified category for a transaction.
func (s *Store) SetTransactionCategory(ctx context.Context, transactionID string, category domain.Category) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET category = ? WHERE transaction_id = ?",
		string(category), transactionID)
	if err != nil {
		return fmt.Errorf("set category for %s: %w", transactionID, err)
	}
	return nil
}

// ListTransactionsByAccount returns all stored transactions for an account,
// newest booking date first.
func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ? ORDER BY booking_date DESC`, accountID)
}

// ListTransactionsByUser returns all stored transactions across every
// account linked to the user.
func (s *Store) ListTransactionsByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.listTransactions(ctx, `
		SELECT `+txColumnsQualified+` FROM transactions t
		JOIN accounts a ON a.account_id = t.account_id
		WHERE a.user_id = ? ORDER BY t.booking_date DESC`, userID)
}

const txColumns = `transaction_id, account_id, amount, currency,
		booking_date, value_date, merchant_description,
		proprietary_code, movement_kind, category,
		entry_reference, internal_transaction_id, additional_information,
		created_at`

const txColumnsQualified = `t.transaction_id, t.account_id, t.amount, t.currency,
		t.booking_date, t.value_date, t.merchant_description,
		t.proprietary_code, t.movement_kind, t.category,
		t.entry_reference, t.internal_transaction_id, t.additional_information,
		t.created_at`

func (s *Store) listTransactions(ctx context.Context, query string, arg any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var bookingDate, valueDate, category sql.NullString
		var movementKind, createdAt string
		err := rows.Scan(
			&t.TransactionID, &t.AccountID, &t.Amount, &t.Currency,
			&bookingDate, &valueDate, &t.MerchantDescription,
			&t.ProprietaryCode, &movementKind, &category,
			&t.EntryReference, &t.InternalTransactionID, &t.AdditionalInformation,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.BookingDate = parseNullTime(bookingDate)
		t.ValueDate = parseNullTime(valueDate)
		t.MovementKind = domain.MovementKind(movementKind)
		if category.Valid {
			t.Category = domain.Category(category.String)
		}
		t.CreatedAt = parseTime(createdAt)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
