package domain

import "time"

// Statistics is the aggregate view derived from a set of transactions. The
// category and monthly series are signed net flow; the weekly series is
// spend-only magnitude, used for chart data. Both behaviors are intentional
// and distinct.
type Statistics struct {
	TotalSpending    float64
	TotalIncome      float64
	CategorySpending map[string]float64
	MonthlySpending  map[string]float64
	WeeklySpending   map[string]float64
	TopMerchants     []MerchantTotal
}

// MerchantTotal is one entry of the top-merchant ranking, ordered by
// absolute cumulative amount.
type MerchantTotal struct {
	Merchant string
	Amount   float64
}

// StatsSnapshot is a persisted copy of Statistics for a user. Snapshots are
// recomputable from the transaction store at any time.
type StatsSnapshot struct {
	UserID      string
	Stats       Statistics
	LastUpdated time.Time
}
