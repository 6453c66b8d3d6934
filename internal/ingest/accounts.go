package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/store"
	"github.com/rs/zerolog"
)

// AccountIngestor resolves the accounts behind a linking session, fetches
// their metadata and details under the fetch quota, upserts account records
// and enqueues each account for transaction import.
type AccountIngestor struct {
	source  BankSource
	store   AccountStore
	limiter FetchLimiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewAccountIngestor wires an account ingestor.
func NewAccountIngestor(source BankSource, st AccountStore, limiter FetchLimiter, log zerolog.Logger) *AccountIngestor {
	return &AccountIngestor{
		source:  source,
		store:   st,
		limiter: limiter,
		log:     log,
		now:     time.Now,
	}
}

// IngestAccounts resolves the linking session and returns every account
// known for it after this pass. Accounts already in the store are returned
// as-is without touching the provider or the quota. New accounts are
// fetched only when the quota allows both the metadata and the details
// call; a denied quota defers the account to a later call and is not an
// error. A failure on one account never aborts the rest of the batch.
func (ai *AccountIngestor) IngestAccounts(ctx context.Context, requisitionID, userID string) ([]domain.Account, error) {
	req, err := ai.source.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("ingest accounts: get requisition %s: %w", requisitionID, err)
	}

	var accounts []domain.Account
	for _, accountID := range req.Accounts {
		existing, err := ai.store.GetAccount(ctx, accountID)
		if err == nil {
			accounts = append(accounts, existing)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			ai.log.Error().Err(err).Str("account_id", accountID).Msg("Account lookup failed, skipping")
			continue
		}

		account, ok := ai.fetchNewAccount(ctx, accountID, req.InstitutionID, userID)
		if !ok {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// fetchNewAccount runs the quota-gated metadata+details fetch for one
// unseen account. The account row is upserted before the fetch log entries
// are written so the ledger's foreign key on accounts always resolves.
func (ai *AccountIngestor) fetchNewAccount(ctx context.Context, accountID, institutionID, userID string) (domain.Account, bool) {
	allowed, err := ai.limiter.CanFetch(ctx, accountID, domain.ScopeAccount)
	if err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Quota check failed, skipping account")
		return domain.Account{}, false
	}
	if !allowed {
		ai.log.Debug().Str("account_id", accountID).Msg("Account fetch quota exhausted, deferring")
		return domain.Account{}, false
	}

	meta, err := ai.source.GetAccountMetadata(ctx, accountID)
	if err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Account metadata fetch failed")
		return domain.Account{}, false
	}

	allowed, err = ai.limiter.CanFetch(ctx, accountID, domain.ScopeDetails)
	if err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Quota check failed, skipping account")
		return domain.Account{}, false
	}
	if !allowed {
		// no partial upsert: without details there is no currency
		ai.log.Debug().Str("account_id", accountID).Msg("Details fetch quota exhausted, deferring")
		return domain.Account{}, false
	}

	details, err := ai.source.GetAccountDetails(ctx, accountID)
	if err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Account details fetch failed")
		return domain.Account{}, false
	}

	account := domain.Account{
		AccountID:     accountID,
		UserID:        userID,
		InstitutionID: meta.InstitutionID,
		IBAN:          meta.IBAN,
		BBAN:          meta.BBAN,
		OwnerName:     meta.OwnerName,
		DisplayName:   meta.Name,
		Status:        meta.Status,
		Currency:      details.Currency,
	}
	if account.InstitutionID == "" {
		account.InstitutionID = institutionID
	}
	if account.OwnerName == "" {
		account.OwnerName = details.OwnerName
	}
	if account.DisplayName == "" {
		account.DisplayName = details.Name
	}

	if err := ai.store.UpsertAccount(ctx, account); err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Account upsert failed")
		return domain.Account{}, false
	}

	ai.limiter.LogFetch(ctx, accountID, domain.ScopeAccount)
	ai.limiter.LogFetch(ctx, accountID, domain.ScopeDetails)

	if err := ai.store.EnqueueAccount(ctx, accountID, userID, ai.now()); err != nil {
		ai.log.Error().Err(err).Str("account_id", accountID).Msg("Account enqueue failed")
	} else {
		ai.log.Info().Str("account_id", accountID).Str("user_id", userID).Msg("Account linked and queued for import")
	}
	return account, true
}
