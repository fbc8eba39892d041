package robinhood

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// apiVersion mimics the official app. The token endpoint rejects clients it
// does not recognise with "Update Robinhood" errors.
const apiVersion = "1.431.4"

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 4 << 20

func applyDefaultHeaders(h http.Header) {
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=1")
	h.Set("X-Robinhood-API-Version", apiVersion)
	h.Set("User-Agent", "*")
}

// transport performs a single HTTP exchange with the Robinhood-mimicking
// headers applied. It does no retrying or classification; that is the
// dispatcher's job.
type transport struct {
	hc  *http.Client
	log *slog.Logger
}

type reqOpts struct {
	query  url.Values
	form   url.Values
	json   any
	bearer string
}

// do sends the request and returns the status code and raw body. A transport
// or context failure is the only error; HTTP error statuses are returned to
// the caller for classification.
func (t *transport) do(ctx context.Context, method, rawURL string, o reqOpts) (int, []byte, error) {
	var body io.Reader
	contentType := ""
	switch {
	case o.form != nil:
		body = strings.NewReader(o.form.Encode())
		contentType = "application/x-www-form-urlencoded; charset=utf-8"
	case o.json != nil:
		b, err := json.Marshal(o.json)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	if len(o.query) > 0 {
		req.URL.RawQuery = o.query.Encode()
	}
	applyDefaultHeaders(req.Header)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if o.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+o.bearer)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", req.URL.Path, err)
	}

	t.log.Debug("api call", "method", method, "path", req.URL.Path, "status", resp.StatusCode)
	return resp.StatusCode, raw, nil
}

// errorDetail extracts the human-readable rejection message the API puts in
// "detail" or "error", falling back to the HTTP status.
func errorDetail(status int, raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
