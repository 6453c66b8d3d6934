package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/referlut/referlut-api/internal/domain"
	"github.com/referlut/referlut-api/internal/oracle"
	"github.com/rs/zerolog"
)

// Fallbacks returned when the oracle is unavailable. Insight endpoints
// degrade to these rather than failing the request.
const (
	fallbackInsights = "Spending insights are temporarily unavailable. Your statistics are still up to date."
	fallbackDeals    = "No deal suggestions are available right now. Please try again later."
)

var fallbackTips = []string{
	"Review your recurring subscriptions and cancel the ones you no longer use.",
	"Set a weekly budget per spending category and track it against your statistics.",
	"Move spare income into a savings account at the start of the month, not the end.",
}

// Service turns aggregated statistics into generated text: spending
// insights, expert tips and deal suggestions. Every method degrades to a
// fixed fallback when the oracle fails; callers never see an error.
type Service struct {
	oracle oracle.Oracle
	log    zerolog.Logger
}

// New wires an insights service.
func New(o oracle.Oracle, log zerolog.Logger) *Service {
	return &Service{oracle: o, log: log}
}

// SpendingInsights asks the oracle for a narrative analysis of the user's
// aggregate statistics.
func (s *Service) SpendingInsights(ctx context.Context, stats domain.Statistics) string {
	text, err := s.oracle.Generate(ctx, buildInsightsPrompt(stats))
	if err != nil {
		s.log.Warn().Err(err).Msg("Insight generation failed, serving fallback")
		return fallbackInsights
	}
	return text
}

// ExpertTips asks the oracle for short actionable tips based on the
// per-category totals. The response is expected one tip per line.
func (s *Service) ExpertTips(ctx context.Context, stats domain.Statistics) []string {
	prompt := fmt.Sprintf(
		"Based on this spending by category:\n%s\n\nGive 3 to 5 short, actionable tips to improve this person's finances. Return one tip per line with no numbering.",
		mustJSON(stats.CategorySpending))

	text, err := s.oracle.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Msg("Tip generation failed, serving fallback")
		return fallbackTips
	}

	var tips []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if line != "" {
			tips = append(tips, line)
		}
	}
	if len(tips) == 0 {
		return fallbackTips
	}
	return tips
}

// DealSuggestions asks the oracle for current deals relevant to a query,
// sourced from the usual UK cashback and deal sites.
func (s *Service) DealSuggestions(ctx context.Context, query string) string {
	prompt := fmt.Sprintf(`Scavenge the following websites for the best deals:
- TopCashback
- Quidco
- Rakuten
- hotukdeals
- MoneySavingExpert

Look for the best deals on:
- Online shopping items
- Savings bank accounts
- Mobile contracts
- And any other relevant deals related to: %s

Provide a summary of the best deals found.`, query)

	text, err := s.oracle.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Str("query", query).Msg("Deal generation failed, serving fallback")
		return fallbackDeals
	}
	return text
}

func buildInsightsPrompt(stats domain.Statistics) string {
	merchants := make(map[string]float64, len(stats.TopMerchants))
	for _, m := range stats.TopMerchants {
		merchants[m.Merchant] = m.Amount
	}

	return fmt.Sprintf(`Analyze the following spending data and provide personalized insights and recommendations:

Total Spending: £%.2f
Total Income: £%.2f

Spending by Category:
%s

Monthly Spending Trend:
%s

Top Spending Areas:
%s

Please provide:
1. A summary of spending patterns
2. Areas where spending could be optimized
3. Specific recommendations for saving money
4. Comparison with average spending in these categories
5. Actionable steps to improve financial health`,
		stats.TotalSpending,
		stats.TotalIncome,
		mustJSON(stats.CategorySpending),
		mustJSON(stats.MonthlySpending),
		mustJSON(merchants))
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
