package robinhood

import (
	"time"

	"github.com/shopspring/decimal"
)

// Typed records for the API surface this client consumes. The upstream is
// undocumented and loosely shaped; every numeric arrives as a decimal
// string, so fields parse into decimal.Decimal and required fields are
// validated at the boundary rather than silently defaulted.

// page is one pagination window; Next carries the absolute cursor URL.
type page[T any] struct {
	Results []T    `json:"results"`
	Next    string `json:"next"`
}

// Account identifies a brokerage account.
type Account struct {
	URL           string          `json:"url"`
	AccountNumber string          `json:"account_number"`
	Type          string          `json:"type"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	Cash          decimal.Decimal `json:"cash"`
}

// Portfolio is the account-level value snapshot.
type Portfolio struct {
	Equity              decimal.Decimal     `json:"equity"`
	MarketValue         decimal.Decimal     `json:"market_value"`
	ExtendedHoursEquity decimal.NullDecimal `json:"extended_hours_equity"`
	WithdrawableAmount  decimal.NullDecimal `json:"withdrawable_amount"`
}

// Position is a stock holding.
type Position struct {
	URL             string          `json:"url"`
	Account         string          `json:"account"`
	Instrument      string          `json:"instrument"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
}

// Instrument describes a tradable security.
type Instrument struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Symbol          string `json:"symbol"`
	SimpleName      string `json:"simple_name"`
	TradableChainID string `json:"tradable_chain_id"`
}

// Quote is a current price snapshot for a symbol.
type Quote struct {
	Symbol         string          `json:"symbol"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	BidPrice       decimal.Decimal `json:"bid_price"`
	AskPrice       decimal.Decimal `json:"ask_price"`
	PreviousClose  decimal.Decimal `json:"previous_close"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OptionPosition is an options holding.
type OptionPosition struct {
	ChainSymbol  string          `json:"chain_symbol"`
	Option       string          `json:"option"`
	Type         string          `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

// OptionChain is the options chain metadata for an underlying.
type OptionChain struct {
	ID              string   `json:"id"`
	Symbol          string   `json:"symbol"`
	ExpirationDates []string `json:"expiration_dates"`
}

// OptionInstrument describes a single contract.
type OptionInstrument struct {
	ID             string          `json:"id"`
	URL            string          `json:"url"`
	ChainID        string          `json:"chain_id"`
	ChainSymbol    string          `json:"chain_symbol"`
	Type           string          `json:"type"`
	State          string          `json:"state"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	ExpirationDate string          `json:"expiration_date"`
}

// OptionMarketData carries prices and greeks for a contract. Greeks are
// nullable upstream.
type OptionMarketData struct {
	Instrument        string              `json:"instrument"`
	AdjustedMarkPrice decimal.Decimal     `json:"adjusted_mark_price"`
	BidPrice          decimal.Decimal     `json:"bid_price"`
	AskPrice          decimal.Decimal     `json:"ask_price"`
	Delta             decimal.NullDecimal `json:"delta"`
	Theta             decimal.NullDecimal `json:"theta"`
	ImpliedVolatility decimal.NullDecimal `json:"implied_volatility"`
	OpenInterest      int64               `json:"open_interest"`
	Volume            int64               `json:"volume"`
}
