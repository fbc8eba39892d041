// Package advisor turns portfolio holdings and screened covered-call
// candidates into a written recommendation using a Gemini model.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"stockbot/internal/analysis"
	"stockbot/internal/news"
)

// Advisor produces a recommendation for a prepared request. The interface
// exists so commands can be tested with a canned implementation.
type Advisor interface {
	Advise(ctx context.Context, req Request) (string, error)
}

// Holding is one stock position in the request.
type Holding struct {
	Symbol    string
	Quantity  decimal.Decimal
	LastPrice decimal.Decimal
}

// Request carries everything the model needs: current holdings, the ranked
// covered-call evaluations per symbol, and recent headlines where available.
type Request struct {
	Holdings   []Holding
	Candidates map[string][]analysis.Evaluation
	News       map[string][]news.Article

	// RiskTolerance colours the recommendation, e.g. "conservative" or
	// "aggressive". Empty defaults to "moderate".
	RiskTolerance string

	// TopPerSymbol caps how many candidates per symbol reach the prompt.
	// Zero selects the default of 5.
	TopPerSymbol int
}

const defaultTopPerSymbol = 5

// maxNewsPerSymbol caps how many headlines per symbol reach the prompt.
const maxNewsPerSymbol = 5

// BuildPrompt renders the request into the analysis prompt. Deterministic
// output: holdings keep their given order and candidates their ranking.
func BuildPrompt(req Request) string {
	top := req.TopPerSymbol
	if top <= 0 {
		top = defaultTopPerSymbol
	}

	tolerance := req.RiskTolerance
	if tolerance == "" {
		tolerance = "moderate"
	}

	var b strings.Builder
	b.WriteString("You are a covered call advisor for an investor with a ")
	b.WriteString(tolerance)
	b.WriteString(" risk tolerance. ")
	b.WriteString("Recommend which calls, if any, to sell against the holdings below. ")
	b.WriteString("Weigh premium income against assignment risk; prefer liquid contracts. ")
	b.WriteString("For each recommendation state the contract, the income, and the main risk. ")
	b.WriteString("If no contract is worth selling for a holding, say so.\n")

	b.WriteString("\nHoldings:\n")
	for _, h := range req.Holdings {
		fmt.Fprintf(&b, "- %s: %s shares at $%s\n",
			h.Symbol, h.Quantity.StringFixed(0), h.LastPrice.StringFixed(2))
	}

	for _, h := range req.Holdings {
		evals := req.Candidates[h.Symbol]
		if len(evals) == 0 {
			continue
		}
		if len(evals) > top {
			evals = evals[:top]
		}

		fmt.Fprintf(&b, "\n%s call candidates (ranked by annualized return):\n", h.Symbol)
		for _, ev := range evals {
			fmt.Fprintf(&b, "- $%s strike exp %s (%dd): premium $%s/contract, annualized %s%%, moneyness %s%%",
				ev.StrikePrice.StringFixed(2), ev.ExpirationDate, ev.DaysToExpiry,
				ev.PremiumPerContract.StringFixed(2),
				ev.AnnualizedReturn.StringFixed(2),
				ev.Moneyness.StringFixed(2))
			if ev.Delta.Valid {
				fmt.Fprintf(&b, ", delta %s", ev.Delta.Decimal.StringFixed(2))
			}
			fmt.Fprintf(&b, ", OI %d\n", ev.OpenInterest)
		}
	}

	for _, h := range req.Holdings {
		articles := req.News[h.Symbol]
		if len(articles) == 0 {
			continue
		}
		if len(articles) > maxNewsPerSymbol {
			articles = articles[:maxNewsPerSymbol]
		}

		fmt.Fprintf(&b, "\nRecent %s news:\n", h.Symbol)
		for _, art := range articles {
			fmt.Fprintf(&b, "- %s (%s", art.Title, art.Publisher)
			if !art.PublishedAt.IsZero() {
				fmt.Fprintf(&b, ", %s", art.PublishedAt.Format("2006-01-02"))
			}
			b.WriteString(")\n")
		}
	}

	return b.String()
}
