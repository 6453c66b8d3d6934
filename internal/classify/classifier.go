package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/oracle"
	"github.com/referlut/referlut-api/internal/store"
	"github.com/rs/zerolog"
)

// rewardTokens mark positive-amount transactions that are rewards rather
// than income.
var rewardTokens = []string{"cashback", "reward", "interest", "refund"}

// CategoryCache persists the classified category keyed by transaction id.
type CategoryCache interface {
	GetTransactionCategory(ctx context.Context, transactionID string) (domain.Category, error)
	SetTransactionCategory(ctx context.Context, transactionID string, category domain.Category) error
}

// Classifier maps a transaction to one category of the fixed taxonomy.
// Inflows are classified by sign heuristics alone; outflows go to the
// text-classification oracle with the enumerated spend labels. Every
// classification is cached per transaction id: the oracle is consulted at
// most once per transaction for the lifetime of the record.
type Classifier struct {
	oracle oracle.Oracle
	cache  CategoryCache
	log    zerolog.Logger

	mu  sync.Mutex
	mem map[string]domain.Category
}

// New creates a classifier. cache may be nil when no persistent category
// store is available (classification then memoizes in-process only).
func New(o oracle.Oracle, cache CategoryCache, log zerolog.Logger) *Classifier {
	return &Classifier{
		oracle: o,
		cache:  cache,
		log:    log,
		mem:    make(map[string]domain.Category),
	}
}

// Classify returns the category for a transaction. It never fails: any
// oracle error or invalid label degrades to CategoryOther.
func (c *Classifier) Classify(ctx context.Context, t domain.Transaction) domain.Category {
	if cat, ok := c.cached(ctx, t.TransactionID); ok {
		return cat
	}

	cat := c.classify(ctx, t)
	c.remember(ctx, t.TransactionID, cat)
	return cat
}

func (c *Classifier) classify(ctx context.Context, t domain.Transaction) domain.Category {
	// Inflows never reach the oracle.
	if t.Amount > 0 {
		desc := strings.ToLower(t.MerchantDescription)
		for _, token := range rewardTokens {
			if strings.Contains(desc, token) {
				return domain.CategoryRewards
			}
		}
		return domain.CategoryIncome
	}

	raw, err := c.oracle.Classify(ctx, buildPrompt(t), labelStrings())
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("transaction_id", t.TransactionID).
			Msg("Classification oracle failed, defaulting to other")
		return domain.CategoryOther
	}

	label, ok := validateLabel(raw)
	if !ok {
		c.log.Warn().
			Str("transaction_id", t.TransactionID).
			Str("raw_label", raw).
			Msg("Oracle returned an unknown label, defaulting to other")
		return domain.CategoryOther
	}
	return label
}

func (c *Classifier) cached(ctx context.Context, transactionID string) (domain.Category, bool) {
	if transactionID == "" {
		return "", false
	}

	c.mu.Lock()
	cat, ok := c.mem[transactionID]
	c.mu.Unlock()
	if ok {
		return cat, true
	}

	if c.cache == nil {
		return "", false
	}
	cat, err := c.cache.GetTransactionCategory(ctx, transactionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Category cache read failed")
		}
		return "", false
	}
	if cat == "" {
		return "", false
	}

	c.mu.Lock()
	c.mem[transactionID] = cat
	c.mu.Unlock()
	return cat, true
}

func (c *Classifier) remember(ctx context.Context, transactionID string, cat domain.Category) {
	if transactionID == "" {
		return
	}

	c.mu.Lock()
	c.mem[transactionID] = cat
	c.mu.Unlock()

	if c.cache == nil {
		return
	}
	if err := c.cache.SetTransactionCategory(ctx, transactionID, cat); err != nil {
		// the record may not be persisted yet; the ingestor stores the
		// category at insert time in that case
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Category cache write failed")
		}
	}
}

func buildPrompt(t domain.Transaction) string {
	var b strings.Builder
	b.WriteString("You are a bank transaction classifier.\n")
	b.WriteString("Classify the following transaction into a spending category.\n\n")
	fmt.Fprintf(&b, "Description: %s\n", t.MerchantDescription)
	fmt.Fprintf(&b, "Amount: %.2f %s\n", t.Amount, t.Currency)
	if !t.BookingDate.IsZero() {
		fmt.Fprintf(&b, "Booking date: %s\n", t.BookingDate.Format("2006-01-02"))
	}
	if t.AdditionalInformation != "" {
		fmt.Fprintf(&b, "Additional information: %s\n", t.AdditionalInformation)
	}
	return b.String()
}

func labelStrings() []string {
	labels := make([]string, len(domain.SpendCategories))
	for i, c := range domain.SpendCategories {
		labels[i] = string(c)
	}
	return labels
}

// validateLabel normalizes the oracle's raw response and checks it against
// the spend taxonomy.
func validateLabel(raw string) (domain.Category, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range domain.SpendCategories {
		if label == string(c) {
			return c, true
		}
	}
	return "", false
}
