package ingest

import (
	"context"
	"time"

	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/store"
)

// mockSource is a mock implementation of BankSource for testing.
type mockSource struct {
	GetRequisitionFunc         func(ctx context.Context, requisitionID string) (bankdata.Requisition, error)
	GetAccountMetadataFunc     func(ctx context.Context, accountID string) (bankdata.AccountMetadata, error)
	GetAccountDetailsFunc      func(ctx context.Context, accountID string) (bankdata.AccountDetails, error)
	GetAccountTransactionsFunc func(ctx context.Context, accountID string, dateFrom, dateTo time.Time) (bankdata.TransactionFeed, error)

	metadataCalls    int
	detailsCalls     int
	transactionCalls int
}

func (m *mockSource) GetRequisition(ctx context.Context, requisitionID string) (bankdata.Requisition, error) {
	if m.GetRequisitionFunc != nil {
		return m.GetRequisitionFunc(ctx, requisitionID)
	}
	return bankdata.Requisition{}, nil
}

func (m *mockSource) GetAccountMetadata(ctx context.Context, accountID string) (bankdata.AccountMetadata, error) {
	m.metadataCalls++
	if m.GetAccountMetadataFunc != nil {
		return m.GetAccountMetadataFunc(ctx, accountID)
	}
	return bankdata.AccountMetadata{ID: accountID}, nil
}

func (m *mockSource) GetAccountDetails(ctx context.Context, accountID string) (bankdata.AccountDetails, error) {
	m.detailsCalls++
	if m.GetAccountDetailsFunc != nil {
		return m.GetAccountDetailsFunc(ctx, accountID)
	}
	return bankdata.AccountDetails{Currency: "GBP"}, nil
}

func (m *mockSource) GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo time.Time) (bankdata.TransactionFeed, error) {
	m.transactionCalls++
	if m.GetAccountTransactionsFunc != nil {
		return m.GetAccountTransactionsFunc(ctx, accountID, dateFrom, dateTo)
	}
	return bankdata.TransactionFeed{}, nil
}

// memAccountStore is an in-memory AccountStore.
type memAccountStore struct {
	accounts   map[string]domain.Account
	queued     map[string]string
	upsertErr  error
	enqueueErr error
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{
		accounts: make(map[string]domain.Account),
		queued:   make(map[string]string),
	}
}

func (m *memAccountStore) GetAccount(_ context.Context, accountID string) (domain.Account, error) {
	a, ok := m.accounts[accountID]
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memAccountStore) UpsertAccount(_ context.Context, a domain.Account) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.accounts[a.AccountID] = a
	return nil
}

func (m *memAccountStore) EnqueueAccount(_ context.Context, accountID, userID string, _ time.Time) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.queued[accountID] = userID
	return nil
}

// memTxStore is an in-memory TransactionStore.
type memTxStore struct {
	transactions map[string]domain.Transaction
	insertErrFor map[string]error
}

func newMemTxStore() *memTxStore {
	return &memTxStore{
		transactions: make(map[string]domain.Transaction),
		insertErrFor: make(map[string]error),
	}
}

func (m *memTxStore) ExistingTransactionIDs(_ context.Context, accountID string) (map[string]bool, error) {
	ids := make(map[string]bool)
	for id, t := range m.transactions {
		if t.AccountID == accountID {
			ids[id] = true
		}
	}
	return ids, nil
}

func (m *memTxStore) InsertTransaction(_ context.Context, t domain.Transaction) (bool, error) {
	if err := m.insertErrFor[t.TransactionID]; err != nil {
		return false, err
	}
	if _, exists := m.transactions[t.TransactionID]; exists {
		return false, nil
	}
	m.transactions[t.TransactionID] = t
	return true, nil
}

// mockLimiter is a FetchLimiter with scriptable answers.
type mockLimiter struct {
	denied map[domain.FetchScope]bool
	logged []domain.FetchScope
}

func newMockLimiter() *mockLimiter {
	return &mockLimiter{denied: make(map[domain.FetchScope]bool)}
}

func (m *mockLimiter) CanFetch(_ context.Context, _ string, scope domain.FetchScope) (bool, error) {
	return !m.denied[scope], nil
}

func (m *mockLimiter) LogFetch(_ context.Context, _ string, scope domain.FetchScope) {
	m.logged = append(m.logged, scope)
}

// stubCategorizer returns a fixed category per sign, mirroring the real
// classifier's contract of never failing.
type stubCategorizer struct {
	calls int
}

func (s *stubCategorizer) Classify(_ context.Context, t domain.Transaction) domain.Category {
	s.calls++
	if t.Amount > 0 {
		return domain.CategoryIncome
	}
	return domain.CategoryOther
}
