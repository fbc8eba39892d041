package robinhood

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetAccountRemembersNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"results": []map[string]any{{
				"url":            "https://example.test/accounts/ACC123/",
				"account_number": "ACC123",
				"type":           "margin",
				"buying_power":   "1024.50",
				"cash":           "200.00",
			}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	acct, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acct.AccountNumber != "ACC123" {
		t.Errorf("AccountNumber = %q, want ACC123", acct.AccountNumber)
	}
	if !acct.BuyingPower.Equal(decimal.RequireFromString("1024.50")) {
		t.Errorf("BuyingPower = %s, want 1024.50", acct.BuyingPower)
	}

	if sess := c.Session(); sess.AccountID != "ACC123" {
		t.Errorf("session AccountID = %q, want ACC123", sess.AccountID)
	}
	if persisted := c.Store().Load(); persisted == nil || persisted.AccountID != "ACC123" {
		t.Error("account id not persisted with the session")
	}
}

func TestGetPositionsFollowsPagination(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/positions/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "page2" {
			writeJSON(w, 200, map[string]any{
				"results": []map[string]any{{
					"url":              "p2",
					"account":          "a",
					"instrument":       "https://example.test/instruments/ii/",
					"quantity":         "3.0000",
					"average_buy_price": "10.00",
				}},
				"next": nil,
			})
			return
		}
		if got := r.URL.Query().Get("nonzero"); got != "true" {
			t.Errorf("nonzero = %q, want true", got)
		}
		writeJSON(w, 200, map[string]any{
			"results": []map[string]any{{
				"url":              "p1",
				"account":          "a",
				"instrument":       "https://example.test/instruments/i/",
				"quantity":         "100.0000",
				"average_buy_price": "42.12",
			}},
			"next": srvURL + "/positions/?cursor=page2",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	positions, err := c.GetPositions(context.Background(), true)
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2 across pages", len(positions))
	}
	if !positions[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Quantity = %s, want 100", positions[0].Quantity)
	}
}

func TestGetQuotesValidatesSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "AAPL,MSFT" {
			t.Errorf("symbols = %q, want AAPL,MSFT", got)
		}
		writeJSON(w, 200, map[string]any{
			"results": []map[string]any{
				{"symbol": "AAPL", "last_trade_price": "230.10", "bid_price": "230.00", "ask_price": "230.20", "previous_close": "228.00"},
				{"symbol": "MSFT", "last_trade_price": "512.00", "bid_price": "511.90", "ask_price": "512.10", "previous_close": "509.50"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	quotes, err := c.GetQuotes(context.Background(), []string{"aapl", "msft"})
	if err != nil {
		t.Fatalf("GetQuotes() error = %v", err)
	}
	if len(quotes) != 2 || quotes[0].Symbol != "AAPL" {
		t.Fatalf("GetQuotes() = %+v", quotes)
	}
}

func TestGetQuotesRejectsRecordWithoutSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"results": []map[string]any{{"last_trade_price": "1.00"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	if _, err := c.GetQuotes(context.Background(), []string{"AAPL"}); err == nil {
		t.Error("GetQuotes() error = nil, want validation failure")
	}
}

func TestGetOptionsMarketDataBatches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		n := len(strings.Split(r.URL.Query().Get("instruments"), ","))
		if n > optionMarketDataBatch {
			t.Errorf("batch of %d instruments exceeds limit %d", n, optionMarketDataBatch)
		}
		results := make([]map[string]any, n)
		for i := range results {
			results[i] = map[string]any{
				"instrument":          fmt.Sprintf("inst-%d", i),
				"adjusted_mark_price": "1.25",
				"bid_price":           "1.20",
				"ask_price":           "1.30",
				"delta":               "0.30",
				"open_interest":       150,
				"volume":              40,
			}
		}
		writeJSON(w, 200, map[string]any{"results": results})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	urls := make([]string, 85)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.test/options/instruments/%d/", i)
	}

	md, err := c.GetOptionsMarketData(context.Background(), urls)
	if err != nil {
		t.Fatalf("GetOptionsMarketData() error = %v", err)
	}
	if len(md) != 85 {
		t.Errorf("got %d records, want 85", len(md))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3 batches", got)
	}
	if !md[0].Delta.Valid || !md[0].Delta.Decimal.Equal(decimal.RequireFromString("0.30")) {
		t.Errorf("Delta = %+v, want 0.30", md[0].Delta)
	}
}

func TestGetOptionsChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("equity_instrument_ids"); got != "inst-1" {
			t.Errorf("equity_instrument_ids = %q, want inst-1", got)
		}
		writeJSON(w, 200, map[string]any{
			"results": []map[string]any{{
				"id":               "chain-1",
				"symbol":           "AAPL",
				"expiration_dates": []string{"2026-09-18", "2026-10-16"},
			}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Options{})
	c.SetSession(liveSession())

	chain, err := c.GetOptionsChain(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("GetOptionsChain() error = %v", err)
	}
	if chain.ID != "chain-1" || len(chain.ExpirationDates) != 2 {
		t.Errorf("GetOptionsChain() = %+v", chain)
	}
}
