package stats

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/rs/zerolog"
)

var statsNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestAggregator(lookbackMonths int) *Aggregator {
	a := New(lookbackMonths, zerolog.Nop())
	a.now = func() time.Time { return statsNow }
	return a
}

func tx(id string, amount float64, category domain.Category, merchant string, date time.Time) domain.Transaction {
	return domain.Transaction{
		TransactionID:       id,
		AccountID:           "acct-1",
		Amount:              amount,
		Currency:            "GBP",
		BookingDate:         date,
		MerchantDescription: merchant,
		Category:            category,
	}
}

func TestAggregateGroceriesScenario(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -45.00, domain.CategoryGroceries, "TESCO STORES", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if got := stats.CategorySpending["groceries"]; got != -45.00 {
		t.Errorf("category_spending[groceries] = %v, want -45.00", got)
	}
	if got := stats.MonthlySpending["2024-03"]; got != -45.00 {
		t.Errorf("monthly_spending[2024-03] = %v, want -45.00", got)
	}
	if stats.TotalSpending != 45.00 {
		t.Errorf("total_spending = %v, want 45.00", stats.TotalSpending)
	}
	if len(stats.TopMerchants) != 1 || stats.TopMerchants[0].Merchant != "TESCO STORES" || stats.TopMerchants[0].Amount != -45.00 {
		t.Errorf("top_merchants = %+v, want [{TESCO STORES -45.00}]", stats.TopMerchants)
	}
}

func TestAggregateSignedSumLaw(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -45.00, domain.CategoryGroceries, "TESCO", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
		tx("t2", -12.30, domain.CategoryDiningOut, "PRET", time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)),
		tx("t3", 2100.00, domain.CategoryIncome, "ACME PAYROLL", time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)),
		tx("t4", 4.10, domain.CategoryRewards, "CASHBACK", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		tx("t5", -88.88, domain.CategoryBills, "EDF ENERGY", time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	var byCategory, byMonth float64
	for _, v := range stats.CategorySpending {
		byCategory += v
	}
	for _, v := range stats.MonthlySpending {
		byMonth += v
	}
	if math.Abs(byCategory-byMonth) > 1e-9 {
		t.Errorf("category sum %v != monthly sum %v, both must equal net flow", byCategory, byMonth)
	}
	wantNet := -45.00 - 12.30 + 2100.00 + 4.10 - 88.88
	if math.Abs(byCategory-wantNet) > 1e-9 {
		t.Errorf("net flow = %v, want %v", byCategory, wantNet)
	}
}

func TestAggregateWeeklyExcludesIncome(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -45.00, domain.CategoryGroceries, "TESCO", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
		tx("t2", 2100.00, domain.CategoryIncome, "ACME PAYROLL", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		tx("t3", -10.00, domain.CategoryShopping, "AMAZON", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	var weeklyTotal float64
	for _, v := range stats.WeeklySpending {
		if v < 0 {
			t.Errorf("weekly bucket holds negative value %v, want absolute spend", v)
		}
		weeklyTotal += v
	}
	// income is excluded entirely, not netted against spend
	if weeklyTotal != 55.00 {
		t.Errorf("weekly total = %v, want 55.00", weeklyTotal)
	}
}

func TestAggregateWeeklyBucketsAlignToMonday(t *testing.T) {
	// 2024-03-04 is a Monday; the 6th and the 10th fall in the same ISO
	// week, the 11th starts the next one
	transactions := []domain.Transaction{
		tx("t1", -10.00, domain.CategoryGroceries, "A", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)),
		tx("t2", -20.00, domain.CategoryGroceries, "B", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
		tx("t3", -5.00, domain.CategoryGroceries, "C", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if got := stats.WeeklySpending["2024-03-04"]; got != 30.00 {
		t.Errorf("week 2024-03-04 = %v, want 30.00", got)
	}
	if got := stats.WeeklySpending["2024-03-11"]; got != 5.00 {
		t.Errorf("week 2024-03-11 = %v, want 5.00", got)
	}
	if len(stats.WeeklySpending) != 2 {
		t.Errorf("weekly buckets = %v, want exactly 2", stats.WeeklySpending)
	}
}

func TestAggregateLookbackFilter(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t-in", -10.00, domain.CategoryGroceries, "TESCO", statsNow.AddDate(0, 0, -20)),
		tx("t-out", -99.00, domain.CategoryGroceries, "TESCO", statsNow.AddDate(0, 0, -40)),
	}

	stats := newTestAggregator(1).Aggregate(transactions)

	if stats.TotalSpending != 10.00 {
		t.Errorf("total_spending = %v, want 10.00 (30-day lookback)", stats.TotalSpending)
	}
	if got := stats.CategorySpending["groceries"]; got != -10.00 {
		t.Errorf("category_spending[groceries] = %v, want -10.00", got)
	}
}

func TestAggregateTopMerchantsBoundAndOrder(t *testing.T) {
	var transactions []domain.Transaction
	for i := 0; i < 15; i++ {
		name := fmt.Sprintf("MERCHANT %02d", i)
		transactions = append(transactions,
			tx(fmt.Sprintf("t%d", i), -float64(i+1), domain.CategoryShopping, name,
				time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if len(stats.TopMerchants) != TopMerchantLimit {
		t.Fatalf("len(top_merchants) = %d, want %d", len(stats.TopMerchants), TopMerchantLimit)
	}
	for i := 1; i < len(stats.TopMerchants); i++ {
		if math.Abs(stats.TopMerchants[i].Amount) > math.Abs(stats.TopMerchants[i-1].Amount) {
			t.Errorf("rank %d (%v) outranks rank %d (%v) by absolute value",
				i, stats.TopMerchants[i], i-1, stats.TopMerchants[i-1])
		}
	}
	// -15 is the largest outflow
	if stats.TopMerchants[0].Merchant != "MERCHANT 14" {
		t.Errorf("top merchant = %q, want MERCHANT 14", stats.TopMerchants[0].Merchant)
	}
}

func TestAggregateTopMerchantsRankByAbsoluteValue(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -30.00, domain.CategoryShopping, "SHOP", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
		tx("t2", 500.00, domain.CategoryIncome, "PAYROLL", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if stats.TopMerchants[0].Merchant != "PAYROLL" {
		t.Errorf("top merchant = %q, want PAYROLL (abs 500 > abs 30)", stats.TopMerchants[0].Merchant)
	}
}

func TestAggregateTopMerchantsTiesKeepFirstSeenOrder(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -10.00, domain.CategoryShopping, "FIRST", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
		tx("t2", -10.00, domain.CategoryShopping, "SECOND", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if stats.TopMerchants[0].Merchant != "FIRST" || stats.TopMerchants[1].Merchant != "SECOND" {
		t.Errorf("tie order = %+v, want first-seen first", stats.TopMerchants)
	}
}

func TestAggregateUncategorizedFallsBackToOther(t *testing.T) {
	transactions := []domain.Transaction{
		tx("t1", -7.00, "", "KIOSK", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)),
	}

	stats := newTestAggregator(12).Aggregate(transactions)

	if got := stats.CategorySpending["other"]; got != -7.00 {
		t.Errorf("category_spending[other] = %v, want -7.00", got)
	}
}
