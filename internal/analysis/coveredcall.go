// Package analysis evaluates call contracts as covered-call writing
// candidates. All arithmetic is exact decimal; float rounding on prices is
// not acceptable in anything shown to the user as money.
package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ContractMultiplier is the share count behind one standard option contract.
const ContractMultiplier = 100

// divScale bounds division precision; plenty for percent metrics.
const divScale = 8

var (
	two        = decimal.NewFromInt(2)
	hundred    = decimal.NewFromInt(ContractMultiplier)
	daysInYear = decimal.NewFromInt(365)

	// Strikes down to 5% in the money are still worth writing against.
	itmTolerance = decimal.RequireFromString("0.95")
)

// Candidate is one call contract under consideration.
type Candidate struct {
	Symbol         string
	StrikePrice    decimal.Decimal
	ExpirationDate string // YYYY-MM-DD
	DaysToExpiry   int
	BidPrice       decimal.Decimal
	AskPrice       decimal.Decimal
	Volume         int64
	OpenInterest   int64
	Delta          decimal.NullDecimal
	ImpliedVol     decimal.NullDecimal
}

// Evaluation is a candidate with its covered-call metrics. Percent metrics
// are expressed as percentages, not fractions.
type Evaluation struct {
	Candidate

	MidPrice           decimal.Decimal
	PremiumPerContract decimal.Decimal
	Moneyness          decimal.Decimal // strike distance from spot, percent
	ReturnOnStock      decimal.Decimal // premium over spot, percent
	AnnualizedReturn   decimal.Decimal // percent
}

// DaysUntil returns whole days from now until the YYYY-MM-DD expiration.
func DaysUntil(expiration string, now time.Time) (int, error) {
	exp, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return 0, fmt.Errorf("parsing expiration date %q: %w", expiration, err)
	}
	return int(exp.Sub(now).Hours() / 24), nil
}

// Evaluate computes the covered-call metrics for one candidate against the
// underlying's last price.
func Evaluate(c Candidate, lastPrice decimal.Decimal) (Evaluation, error) {
	if !lastPrice.IsPositive() {
		return Evaluation{}, fmt.Errorf("%s: non-positive underlying price %s", c.Symbol, lastPrice)
	}
	if c.DaysToExpiry <= 0 {
		return Evaluation{}, fmt.Errorf("%s: contract expires in %d days", c.Symbol, c.DaysToExpiry)
	}

	mid := c.BidPrice.Add(c.AskPrice).DivRound(two, divScale)
	days := decimal.NewFromInt(int64(c.DaysToExpiry))

	returnOnStock := mid.DivRound(lastPrice, divScale).Mul(hundred)
	annualized := returnOnStock.Mul(daysInYear).DivRound(days, divScale)
	moneyness := c.StrikePrice.Sub(lastPrice).DivRound(lastPrice, divScale).Mul(hundred)

	return Evaluation{
		Candidate:          c,
		MidPrice:           mid,
		PremiumPerContract: mid.Mul(hundred),
		Moneyness:          moneyness,
		ReturnOnStock:      returnOnStock,
		AnnualizedReturn:   annualized,
	}, nil
}

// EvaluateAll screens candidates and returns evaluations sorted by
// annualized return, best first. Contracts with no bid, deep in-the-money
// strikes, or no time left are dropped rather than failed: a sparse chain is
// normal.
func EvaluateAll(candidates []Candidate, lastPrice decimal.Decimal) ([]Evaluation, error) {
	if !lastPrice.IsPositive() {
		return nil, fmt.Errorf("non-positive underlying price %s", lastPrice)
	}
	floor := lastPrice.Mul(itmTolerance)

	evals := make([]Evaluation, 0, len(candidates))
	for _, c := range candidates {
		if !c.BidPrice.IsPositive() || c.DaysToExpiry <= 0 {
			continue
		}
		if c.StrikePrice.LessThan(floor) {
			continue
		}
		ev, err := Evaluate(c, lastPrice)
		if err != nil {
			return nil, err
		}
		evals = append(evals, ev)
	}

	sort.SliceStable(evals, func(i, j int) bool {
		return evals[i].AnnualizedReturn.GreaterThan(evals[j].AnnualizedReturn)
	})
	return evals, nil
}
