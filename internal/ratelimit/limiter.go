package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/rs/zerolog"
)

// Defaults for the provider's fetch allowance.
const (
	DefaultQuota  = 4
	DefaultWindow = 24 * time.Hour
)

// Ledger is the append-only fetch log the limiter consults.
type Ledger interface {
	CountFetchesSince(ctx context.Context, accountID string, scope domain.FetchScope, since time.Time) (int, error)
	AppendFetchLog(ctx context.Context, e domain.FetchLogEntry) error
}

// Limiter enforces the per-account, per-scope fetch quota against the
// external data source: at most quota fetches per sliding window.
type Limiter struct {
	ledger Ledger
	quota  int
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a limiter with the default 4-per-24h quota.
func New(ledger Ledger, log zerolog.Logger) *Limiter {
	return &Limiter{
		ledger: ledger,
		quota:  DefaultQuota,
		window: DefaultWindow,
		log:    log,
		now:    time.Now,
	}
}

// CanFetch reports whether a fetch for (accountID, scope) is currently
// allowed. It only reads the ledger; checking never counts as a fetch.
func (l *Limiter) CanFetch(ctx context.Context, accountID string, scope domain.FetchScope) (bool, error) {
	since := l.now().Add(-l.window)
	n, err := l.ledger.CountFetchesSince(ctx, accountID, scope, since)
	if err != nil {
		return false, fmt.Errorf("ratelimit: count fetches: %w", err)
	}
	return n < l.quota, nil
}

// LogFetch appends one ledger entry for a fetch that just succeeded. It must
// be called after, never before, the external call, and once per call.
//
// A ledger-write failure is logged and swallowed: the external call already
// happened and its result is committed, so the limiter fails open rather
// than blocking the caller over a bookkeeping write.
func (l *Limiter) LogFetch(ctx context.Context, accountID string, scope domain.FetchScope) {
	err := l.ledger.AppendFetchLog(ctx, domain.FetchLogEntry{
		AccountID: accountID,
		Scope:     scope,
		FetchedAt: l.now(),
	})
	if err != nil {
		l.log.Error().
			Err(err).
			Str("account_id", accountID).
			Str("scope", string(scope)).
			Msg("Fetch ledger write failed, quota may undercount")
	}
}
