package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Read-only API operations. Every call goes through Client.Do and therefore
// inherits session management, rate limiting, and retry classification.

// fetchOne performs a GET and decodes a single record.
func fetchOne[T any](ctx context.Context, c *Client, path string, query url.Values) (*T, error) {
	raw, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", path, err)
	}
	return &out, nil
}

// fetchAll follows pagination cursors until the last window. The cursor URLs
// returned in "next" are absolute and already encode the original query.
func fetchAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T
	next := path
	for next != "" {
		raw, err := c.Get(ctx, next, query)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing response from %s: %w", next, err)
		}
		out = append(out, p.Results...)
		next = p.Next
		query = nil
	}
	return out, nil
}

// GetAccount returns the primary brokerage account and remembers its number
// on the session so later calls can reference it without refetching.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	accounts, err := fetchAll[Account](ctx, c, c.endpoints.Accounts(), nil)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no brokerage account on this login")
	}
	acct := accounts[0]
	if acct.AccountNumber == "" {
		return nil, fmt.Errorf("account record missing account_number")
	}
	c.rememberAccount(acct.AccountNumber)
	return &acct, nil
}

// GetPortfolio returns the value snapshot for the primary account.
func (c *Client) GetPortfolio(ctx context.Context) (*Portfolio, error) {
	portfolios, err := fetchAll[Portfolio](ctx, c, c.endpoints.Portfolios(), nil)
	if err != nil {
		return nil, err
	}
	if len(portfolios) == 0 {
		return nil, fmt.Errorf("no portfolio on this login")
	}
	return &portfolios[0], nil
}

// GetPositions returns stock positions. With nonzero set, positions that have
// been fully closed are dropped.
func (c *Client) GetPositions(ctx context.Context, nonzero bool) ([]Position, error) {
	query := url.Values{}
	if nonzero {
		query.Set("nonzero", "true")
	}
	positions, err := fetchAll[Position](ctx, c, c.endpoints.Positions(), query)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Instrument == "" {
			return nil, fmt.Errorf("position record missing instrument")
		}
	}
	return positions, nil
}

// GetQuote returns the current quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	quotes, err := c.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &quotes[0], nil
}

// GetQuotes returns current quotes for up to a batch of symbols in one call.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("symbols", strings.ToUpper(strings.Join(symbols, ",")))

	quotes, err := fetchAll[Quote](ctx, c, c.endpoints.Quotes(), query)
	if err != nil {
		return nil, err
	}
	for _, q := range quotes {
		if q.Symbol == "" {
			return nil, fmt.Errorf("quote record missing symbol")
		}
	}
	return quotes, nil
}

// GetInstrumentBySymbol resolves a ticker symbol to its instrument record.
func (c *Client) GetInstrumentBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))

	instruments, err := fetchAll[Instrument](ctx, c, c.endpoints.Instruments(), query)
	if err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instrument for symbol %s", symbol)
	}
	return &instruments[0], nil
}

// GetInstrument fetches an instrument by its record URL, as referenced from
// position records.
func (c *Client) GetInstrument(ctx context.Context, instrumentURL string) (*Instrument, error) {
	inst, err := fetchOne[Instrument](ctx, c, instrumentURL, nil)
	if err != nil {
		return nil, err
	}
	if inst.Symbol == "" {
		return nil, fmt.Errorf("instrument record missing symbol")
	}
	return inst, nil
}

// GetOptionsPositions returns options positions. With nonzero set, closed
// positions are dropped.
func (c *Client) GetOptionsPositions(ctx context.Context, nonzero bool) ([]OptionPosition, error) {
	query := url.Values{}
	if nonzero {
		query.Set("nonzero", "true")
	}
	return fetchAll[OptionPosition](ctx, c, c.endpoints.OptionsPositions(), query)
}

// GetOptionsChain returns the options chain for an underlying instrument id.
func (c *Client) GetOptionsChain(ctx context.Context, instrumentID string) (*OptionChain, error) {
	query := url.Values{}
	query.Set("equity_instrument_ids", instrumentID)

	chains, err := fetchAll[OptionChain](ctx, c, c.endpoints.OptionsChains(), query)
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no options chain for instrument %s", instrumentID)
	}
	return &chains[0], nil
}

// GetOptionsInstruments lists tradable contracts on a chain, optionally
// narrowed to one expiration date (YYYY-MM-DD) and contract type.
func (c *Client) GetOptionsInstruments(ctx context.Context, chainID, expirationDate, optionType string) ([]OptionInstrument, error) {
	query := url.Values{}
	query.Set("chain_id", chainID)
	query.Set("state", "active")
	if expirationDate != "" {
		query.Set("expiration_dates", expirationDate)
	}
	if optionType != "" {
		query.Set("type", optionType)
	}
	return fetchAll[OptionInstrument](ctx, c, c.endpoints.OptionsInstruments(), query)
}

// optionMarketDataBatch is the largest instruments= batch the endpoint
// accepts in one call.
const optionMarketDataBatch = 40

// GetOptionsMarketData returns prices and greeks for the given contract URLs,
// batching requests to stay within the endpoint's limits.
func (c *Client) GetOptionsMarketData(ctx context.Context, instrumentURLs []string) ([]OptionMarketData, error) {
	var out []OptionMarketData
	for len(instrumentURLs) > 0 {
		batch := instrumentURLs
		if len(batch) > optionMarketDataBatch {
			batch = batch[:optionMarketDataBatch]
		}
		instrumentURLs = instrumentURLs[len(batch):]

		query := url.Values{}
		query.Set("instruments", strings.Join(batch, ","))

		md, err := fetchAll[OptionMarketData](ctx, c, c.endpoints.OptionsMarketData(), query)
		if err != nil {
			return nil, err
		}
		out = append(out, md...)
	}
	return out, nil
}

// rememberAccount records the account number on the session and persists it
// so the next process start does not refetch. A persistence failure only
// degrades the cache.
func (c *Client) rememberAccount(accountNumber string) {
	c.mu.Lock()
	if c.session == nil || c.session.AccountID == accountNumber {
		c.mu.Unlock()
		return
	}
	c.session.AccountID = accountNumber
	snapshot := *c.session
	c.mu.Unlock()

	if err := c.store.Save(&snapshot); err != nil {
		c.log.Warn("failed to persist account id", "error", err)
	}
}
