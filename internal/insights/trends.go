package insights

import (
	"math"
	"sort"
	"time"

	"github.com/referlut/referlut-api/internal/domain"
)

// Trend describes how a category's weekly spend is moving.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendNoData     Trend = "no data"
)

// CategoryTrend is the weekly-average spending analysis for one category.
type CategoryTrend struct {
	Category        domain.Category `json:"category"`
	WeeklyAverage   float64         `json:"weekly_average"`
	Trend           Trend           `json:"trend"`
	Recommendations []string        `json:"recommendations"`
}

// categoryAdvice holds static per-category recommendations added on top of
// the trend-derived ones.
var categoryAdvice = map[domain.Category][]string{
	domain.CategoryGroceries: {
		"Consider meal planning to reduce grocery spending",
		"Look for bulk buying opportunities for non-perishable items",
	},
	domain.CategoryDiningOut: {
		"Try cooking at home more often to save on dining out",
		"Use restaurant loyalty programs for discounts",
	},
	domain.CategoryTransportation: {
		"Consider carpooling or public transport to reduce costs",
		"Look for fuel-saving driving techniques",
	},
}

// AnalyzeCategoryTrends computes, per spend category present in the
// transaction set, the average weekly outflow and whether it is rising.
// Inflows never contribute. The result is sorted by weekly average,
// highest first.
func AnalyzeCategoryTrends(transactions []domain.Transaction) []CategoryTrend {
	byCategory := make(map[domain.Category][]domain.Transaction)
	for _, t := range transactions {
		if t.Category == "" || t.Category == domain.CategoryIncome || t.Category == domain.CategoryRewards {
			continue
		}
		byCategory[t.Category] = append(byCategory[t.Category], t)
	}

	trends := make([]CategoryTrend, 0, len(byCategory))
	for category, txs := range byCategory {
		trends = append(trends, analyzeCategory(category, txs))
	}
	sort.SliceStable(trends, func(i, j int) bool {
		return trends[i].WeeklyAverage > trends[j].WeeklyAverage
	})
	return trends
}

func analyzeCategory(category domain.Category, transactions []domain.Transaction) CategoryTrend {
	weekly := make(map[string]float64)
	for _, t := range transactions {
		if t.Amount >= 0 {
			continue
		}
		date := t.EffectiveDate()
		if date.IsZero() {
			continue
		}
		weekly[weekKey(date)] += math.Abs(t.Amount)
	}

	if len(weekly) == 0 {
		return CategoryTrend{
			Category:        category,
			Trend:           TrendNoData,
			Recommendations: []string{"No spending data available for this category"},
		}
	}

	var total float64
	weeks := make([]string, 0, len(weekly))
	for week, amount := range weekly {
		total += amount
		weeks = append(weeks, week)
	}
	sort.Strings(weeks)

	trend := TrendStable
	if len(weeks) > 1 {
		first, last := weekly[weeks[0]], weekly[weeks[len(weeks)-1]]
		switch {
		case last > first:
			trend = TrendIncreasing
		case last < first:
			trend = TrendDecreasing
		}
	}

	return CategoryTrend{
		Category:        category,
		WeeklyAverage:   total / float64(len(weekly)),
		Trend:           trend,
		Recommendations: recommendationsFor(category, trend),
	}
}

func recommendationsFor(category domain.Category, trend Trend) []string {
	var recs []string
	switch trend {
	case TrendIncreasing:
		recs = append(recs, "Your spending in "+string(category)+" is increasing. Consider setting a budget.")
	case TrendDecreasing:
		recs = append(recs, "Good job! Your spending in "+string(category)+" is decreasing.")
	}
	recs = append(recs, categoryAdvice[category]...)
	return recs
}

func weekKey(date time.Time) string {
	day := date.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset).Format("2006-01-02")
}
