package domain

import "time"

// Account represents one external bank account known to the system. There is
// at most one record per AccountID; UserID is immutable once set.
type Account struct {
	AccountID     string
	UserID        string
	InstitutionID string
	IBAN          string
	BBAN          string
	OwnerName     string
	DisplayName   string
	Status        string
	Currency      string
	CreatedAt     time.Time
}

// FetchScope is the rate-limited resource category for a given account.
type FetchScope string

const (
	ScopeAccount      FetchScope = "account"
	ScopeDetails      FetchScope = "details"
	ScopeBalances     FetchScope = "balances"
	ScopeTransactions FetchScope = "transactions"
)

// FetchLogEntry records that a fetch for (AccountID, Scope) happened. The
// fetch log is an append-only ledger consulted by the rate limiter.
type FetchLogEntry struct {
	AccountID string
	Scope     FetchScope
	FetchedAt time.Time
}

// Requisition is a consent-flow handle issued by the bank data provider.
// Status follows the provider's codes: "CR" created, "LN" linked.
type Requisition struct {
	RequisitionID string
	UserID        string
	InstitutionID string
	Status        string
	CreatedAt     time.Time
}
