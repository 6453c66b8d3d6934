package stats

import (
	"math"
	"sort"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/rs/zerolog"
)

const (
	monthLayout = "2006-01"
	weekLayout  = "2006-01-02"

	// TopMerchantLimit bounds the merchant ranking.
	TopMerchantLimit = 10
)

// Aggregator folds a transaction set into the derived statistics: signed
// net-flow series per category and per month, a spend-only weekly series,
// a top-merchant ranking and income/spending totals.
type Aggregator struct {
	lookbackMonths int
	log            zerolog.Logger
	now            func() time.Time
}

// New builds an aggregator with the given lookback, expressed in months and
// approximated as 30-day blocks rather than exact calendar boundaries.
func New(lookbackMonths int, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		lookbackMonths: lookbackMonths,
		log:            log,
		now:            time.Now,
	}
}

// Aggregate computes the statistics over all transactions whose effective
// date falls inside the lookback window.
//
// The monthly and category series are signed net flow: income and spend
// offset within a bucket. The weekly series is different on purpose: it
// feeds the spending trend chart and accumulates only outflows, as absolute
// values, with inflows excluded entirely rather than netted. Merchants are
// ranked by absolute cumulative amount, ties kept in first-seen order.
func (a *Aggregator) Aggregate(transactions []domain.Transaction) domain.Statistics {
	cutoff := a.now().AddDate(0, 0, -30*a.lookbackMonths)

	stats := domain.Statistics{
		CategorySpending: make(map[string]float64),
		MonthlySpending:  make(map[string]float64),
		WeeklySpending:   make(map[string]float64),
		TopMerchants:     []domain.MerchantTotal{},
	}

	merchantTotals := make(map[string]float64)
	var merchantOrder []string

	included := 0
	for _, t := range transactions {
		date := t.EffectiveDate()
		if date.Before(cutoff) {
			continue
		}
		included++

		category := string(t.Category)
		if category == "" {
			category = string(domain.CategoryOther)
		}
		stats.CategorySpending[category] += t.Amount
		stats.MonthlySpending[date.Format(monthLayout)] += t.Amount

		if t.Amount < 0 {
			stats.WeeklySpending[weekStart(date).Format(weekLayout)] += math.Abs(t.Amount)
			stats.TotalSpending += math.Abs(t.Amount)
		} else {
			stats.TotalIncome += t.Amount
		}

		if t.MerchantDescription != "" {
			if _, seen := merchantTotals[t.MerchantDescription]; !seen {
				merchantOrder = append(merchantOrder, t.MerchantDescription)
			}
			merchantTotals[t.MerchantDescription] += t.Amount
		}
	}

	stats.TopMerchants = rankMerchants(merchantTotals, merchantOrder)

	a.log.Debug().
		Int("transactions", len(transactions)).
		Int("in_window", included).
		Msg("Statistics aggregated")
	return stats
}

// weekStart returns the Monday-aligned start of date's ISO week.
func weekStart(date time.Time) time.Time {
	day := date.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0, Sunday = 6
	return day.AddDate(0, 0, -offset)
}

func rankMerchants(totals map[string]float64, order []string) []domain.MerchantTotal {
	ranked := make([]domain.MerchantTotal, 0, len(order))
	for _, merchant := range order {
		ranked = append(ranked, domain.MerchantTotal{Merchant: merchant, Amount: totals[merchant]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Amount) > math.Abs(ranked[j].Amount)
	})
	if len(ranked) > TopMerchantLimit {
		ranked = ranked[:TopMerchantLimit]
	}
	return ranked
}
