// Package news fetches recent headlines for stock symbols from the Yahoo
// Finance search API. Headlines give the advisor context on what is moving
// a price; the endpoint needs no authentication.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://query2.finance.yahoo.com"

// userAgent must look like a browser; the endpoint rejects blank agents.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

const maxBodyBytes = 4 << 20

// Article is one news item for a symbol.
type Article struct {
	Title       string
	Publisher   string
	Link        string
	Summary     string
	PublishedAt time.Time
}

// Fetcher retrieves symbol news.
type Fetcher struct {
	hc      *http.Client
	baseURL string
	log     *slog.Logger

	now func() time.Time // swapped in tests
}

// NewFetcher creates a Fetcher. An empty baseURL selects the production
// endpoint; tests point it at a local server.
func NewFetcher(hc *http.Client, baseURL string, log *slog.Logger) *Fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		hc:      hc,
		baseURL: baseURL,
		log:     log.With("component", "news"),
		now:     time.Now,
	}
}

// Fetch returns up to limit articles for symbol published within maxAge.
// Items the feed returns without a publish time are kept; only items known
// to be older than the cutoff are dropped.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, limit int, maxAge time.Duration) ([]Article, error) {
	if limit <= 0 {
		limit = 20
	}

	query := url.Values{}
	query.Set("q", symbol)
	query.Set("quotesCount", "0")
	query.Set("newsCount", strconv.Itoa(limit))
	query.Set("enableFuzzyQuery", "false")
	query.Set("quotesQueryId", "tss_match_phrase_query")
	query.Set("newsQueryId", "news_ss_symbols")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v1/finance/search", nil)
	if err != nil {
		return nil, fmt.Errorf("building news request: %w", err)
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching news for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading news response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news search for %s returned HTTP %d", symbol, resp.StatusCode)
	}

	var body struct {
		News []struct {
			Title               string `json:"title"`
			Publisher           string `json:"publisher"`
			Link                string `json:"link"`
			Summary             string `json:"summary"`
			ProviderPublishTime int64  `json:"providerPublishTime"`
		} `json:"news"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parsing news response: %w", err)
	}

	cutoff := f.now().Add(-maxAge)
	var out []Article
	for _, item := range body.News {
		if item.Title == "" {
			continue
		}
		var published time.Time
		if item.ProviderPublishTime > 0 {
			published = time.Unix(item.ProviderPublishTime, 0).UTC()
			if maxAge > 0 && published.Before(cutoff) {
				continue
			}
		}
		out = append(out, Article{
			Title:       item.Title,
			Publisher:   item.Publisher,
			Link:        item.Link,
			Summary:     item.Summary,
			PublishedAt: published,
		})
	}

	f.log.Debug("news fetched", "symbol", symbol, "articles", len(out))
	return out, nil
}
