package ingest

import (
	"context"
	"time"

	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/domain"
)

// BankSource is the slice of the provider API the ingestors consume.
type BankSource interface {
	GetRequisition(ctx context.Context, requisitionID string) (bankdata.Requisition, error)
	GetAccountMetadata(ctx context.Context, accountID string) (bankdata.AccountMetadata, error)
	GetAccountDetails(ctx context.Context, accountID string) (bankdata.AccountDetails, error)
	GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo time.Time) (bankdata.TransactionFeed, error)
}

// AccountStore is the slice of the keyed store the account ingestor writes.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	UpsertAccount(ctx context.Context, a domain.Account) error
	EnqueueAccount(ctx context.Context, accountID, userID string, now time.Time) error
}

// TransactionStore is the slice of the keyed store the transaction ingestor
// writes.
type TransactionStore interface {
	ExistingTransactionIDs(ctx context.Context, accountID string) (map[string]bool, error)
	InsertTransaction(ctx context.Context, t domain.Transaction) (bool, error)
}

// FetchLimiter gates calls against the external source.
type FetchLimiter interface {
	CanFetch(ctx context.Context, accountID string, scope domain.FetchScope) (bool, error)
	LogFetch(ctx context.Context, accountID string, scope domain.FetchScope)
}

// Categorizer assigns the semantic spending category.
type Categorizer interface {
	Classify(ctx context.Context, t domain.Transaction) domain.Category
}

// FeedArchiver stores a copy of the raw provider feed. Archiving is
// best-effort and never blocks ingestion.
type FeedArchiver interface {
	ArchiveFeed(ctx context.Context, accountID string, feed bankdata.TransactionFeed, fetchedAt time.Time) error
}
