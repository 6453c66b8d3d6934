package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/domain"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// movementKinds maps the provider's proprietary bank transaction codes to
// the coarse movement classification. The mapping is independent from the
// semantic category.
var movementKinds = map[string]domain.MovementKind{
	"FPO": domain.MovementDebit,
	"BGC": domain.MovementCredit,
	"FPI": domain.MovementCredit,
	"CSH": domain.MovementCash,
	"TFR": domain.MovementTransfer,
}

// TransactionIngestor imports the recent transaction history of one account:
// fetch under quota, dedup against the store, normalize, classify, persist.
type TransactionIngestor struct {
	source     BankSource
	store      TransactionStore
	limiter    FetchLimiter
	classifier Categorizer
	archiver   FeedArchiver
	windowDays int
	log        zerolog.Logger
	now        func() time.Time
}

// NewTransactionIngestor wires a transaction ingestor. archiver may be nil
// to disable raw feed archiving.
func NewTransactionIngestor(
	source BankSource,
	st TransactionStore,
	limiter FetchLimiter,
	classifier Categorizer,
	archiver FeedArchiver,
	windowDays int,
	log zerolog.Logger,
) *TransactionIngestor {
	return &TransactionIngestor{
		source:     source,
		store:      st,
		limiter:    limiter,
		classifier: classifier,
		archiver:   archiver,
		windowDays: windowDays,
		log:        log,
		now:        time.Now,
	}
}

// IngestTransactions fetches the account's feed for the lookback window and
// persists every record not already stored. It returns the number of newly
// inserted transactions.
//
// A denied quota returns 0 with no side effects; a feed fetch error aborts
// with no ledger entry and no inserts. Once the feed is in hand, the fetch
// is logged exactly once and a failure persisting one record skips that
// record only.
func (ti *TransactionIngestor) IngestTransactions(ctx context.Context, accountID string) (int, error) {
	allowed, err := ti.limiter.CanFetch(ctx, accountID, domain.ScopeTransactions)
	if err != nil {
		return 0, fmt.Errorf("ingest transactions: quota check for %s: %w", accountID, err)
	}
	if !allowed {
		ti.log.Debug().Str("account_id", accountID).Msg("Transaction fetch quota exhausted, skipping")
		return 0, nil
	}

	now := ti.now()
	windowStart := now.AddDate(0, 0, -ti.windowDays)

	feed, err := ti.source.GetAccountTransactions(ctx, accountID, windowStart, now)
	if err != nil {
		return 0, fmt.Errorf("ingest transactions: fetch feed for %s: %w", accountID, err)
	}

	// one external call, one ledger entry
	ti.limiter.LogFetch(ctx, accountID, domain.ScopeTransactions)

	if ti.archiver != nil {
		if err := ti.archiver.ArchiveFeed(ctx, accountID, feed, now); err != nil {
			ti.log.Warn().Err(err).Str("account_id", accountID).Msg("Raw feed archive failed")
		}
	}

	existing, err := ti.store.ExistingTransactionIDs(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("ingest transactions: dedup lookup for %s: %w", accountID, err)
	}

	// booked first, then pending: on an (unexpected) duplicate key the
	// first occurrence wins
	raw := make([]bankdata.RawTransaction, 0, len(feed.Booked)+len(feed.Pending))
	raw = append(raw, feed.Booked...)
	raw = append(raw, feed.Pending...)

	inserted := 0
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		if r.TransactionID == "" {
			ti.log.Warn().Str("account_id", accountID).Msg("Feed record without transaction id, skipping")
			continue
		}
		if seen[r.TransactionID] || existing[r.TransactionID] {
			continue
		}
		seen[r.TransactionID] = true

		tx, err := ti.normalize(accountID, r)
		if err != nil {
			ti.log.Warn().Err(err).
				Str("account_id", accountID).
				Str("transaction_id", r.TransactionID).
				Msg("Malformed feed record, skipping")
			continue
		}

		// the provider may return a wider range than requested
		if ed := tx.EffectiveDate(); !ed.IsZero() && ed.Before(windowStart) {
			continue
		}

		tx.Category = ti.classifier.Classify(ctx, tx)

		ok, err := ti.store.InsertTransaction(ctx, tx)
		if err != nil {
			ti.log.Error().Err(err).
				Str("account_id", accountID).
				Str("transaction_id", tx.TransactionID).
				Msg("Transaction insert failed, skipping")
			continue
		}
		if ok {
			inserted++
		}
	}

	ti.log.Info().
		Str("account_id", accountID).
		Int("inserted", inserted).
		Int("feed_records", len(raw)).
		Msg("Transaction import finished")
	return inserted, nil
}

func (ti *TransactionIngestor) normalize(accountID string, r bankdata.RawTransaction) (domain.Transaction, error) {
	amount, err := strconv.ParseFloat(r.TransactionAmount.Amount, 64)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse amount %q: %w", r.TransactionAmount.Amount, err)
	}

	bookingDate, err := parseDate(r.BookingDate)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse booking date %q: %w", r.BookingDate, err)
	}
	valueDate, err := parseDate(r.ValueDate)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse value date %q: %w", r.ValueDate, err)
	}

	kind, ok := movementKinds[r.ProprietaryBankTransactionCode]
	if !ok {
		kind = domain.MovementOther
	}

	return domain.Transaction{
		TransactionID:         r.TransactionID,
		AccountID:             accountID,
		Amount:                amount,
		Currency:              r.TransactionAmount.Currency,
		BookingDate:           bookingDate,
		ValueDate:             valueDate,
		MerchantDescription:   r.RemittanceInformationUnstructured,
		ProprietaryCode:       r.ProprietaryBankTransactionCode,
		MovementKind:          kind,
		EntryReference:        r.EntryReference,
		InternalTransactionID: r.InternalTransactionID,
		AdditionalInformation: r.AdditionalInformation,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
