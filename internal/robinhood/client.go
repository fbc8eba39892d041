package robinhood

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stockbot/internal/ratelimit"
	"stockbot/internal/util"
)

// Options configures a Client. Zero values select production defaults.
type Options struct {
	Endpoints            Endpoints
	ClientID             string
	SessionPath          string
	ExpiryMargin         time.Duration
	Timeout              time.Duration
	MaxAttempts          int
	RetryBaseDelay       time.Duration
	VerificationAttempts int
	Limiter              *ratelimit.Limiter
	Breaker              *ratelimit.Breaker
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

// Client is the façade every API call goes through. It guarantees a valid
// session before each request, funnels all traffic through the shared rate
// limiter and circuit breaker, and classifies responses into retry, refresh,
// or surfaced error.
type Client struct {
	t         *transport
	endpoints Endpoints
	oauth     *OAuth2Client
	verifier  *VerificationHandler
	store     *SessionStore
	limiter   *ratelimit.Limiter
	breaker   *ratelimit.Breaker

	margin      time.Duration
	maxAttempts int
	baseDelay   time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	session *Session
	sf      singleflight.Group
}

// NewClient assembles a Client and its collaborators from opts.
func NewClient(opts Options) *Client {
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.ExpiryMargin <= 0 {
		opts.ExpiryMargin = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLimiter(30, 1000, 0)
	}
	if opts.Breaker == nil {
		opts.Breaker = ratelimit.NewBreaker(5, time.Minute)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	store := NewSessionStore(opts.SessionPath, opts.Logger)
	oauth := NewOAuth2Client(opts.HTTPClient, opts.Endpoints, opts.ClientID, store, opts.Logger)
	verifier := NewVerificationHandler(opts.HTTPClient, opts.Endpoints, oauth, opts.VerificationAttempts, opts.Logger)

	return &Client{
		t:           &transport{hc: opts.HTTPClient, log: opts.Logger},
		endpoints:   opts.Endpoints,
		oauth:       oauth,
		verifier:    verifier,
		store:       store,
		limiter:     opts.Limiter,
		breaker:     opts.Breaker,
		margin:      opts.ExpiryMargin,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.RetryBaseDelay,
		log:         opts.Logger.With("component", "client"),
	}
}

// Verifier returns the verification workflow handler bound to this client.
func (c *Client) Verifier() *VerificationHandler { return c.verifier }

// Store returns the session store bound to this client.
func (c *Client) Store() *SessionStore { return c.store }

// Session returns a copy of the current in-memory session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// SetSession installs a session obtained out of band, e.g. from a completed
// verification workflow. Persistence already happened when the session was
// issued.
func (c *Client) SetSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// RestoreSession loads the persisted session into memory. It reports whether
// a structurally valid record was found; the record may still be stale and
// will then be refreshed on first use.
func (c *Client) RestoreSession() bool {
	sess := c.store.Load()
	if sess == nil {
		return false
	}
	c.SetSession(sess)
	return true
}

// Login performs a fresh credential login. A Session outcome is installed on
// the client; a Challenge outcome must be driven through the Verifier and
// the resulting session installed with SetSession.
func (c *Client) Login(ctx context.Context, creds Credentials, deviceToken string) (*LoginResult, error) {
	res, err := c.oauth.Login(ctx, creds, deviceToken)
	if err != nil {
		return nil, err
	}
	if res.Session != nil {
		c.SetSession(res.Session)
	}
	return res, nil
}

// Logout revokes and clears the session.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	return c.oauth.Logout(ctx, sess)
}

// Do performs an authenticated request against path (either an API-relative
// path or an absolute URL, as returned in pagination cursors) and returns
// the raw response body.
//
// Classification: 2xx succeeds; a 401 triggers exactly one single-flight
// refresh and retry before failing with ErrAuthenticationFailed; 5xx,
// timeouts, and 429 are retried with jittered exponential backoff; any
// other 4xx surfaces as *APIError without retry. Every attempt, retries
// included, passes limiter admission, and every attempt the breaker admits
// records an outcome against it (any HTTP response other than 429/5xx
// counts as the upstream being healthy). Rate-limit and breaker rejections
// pass through unchanged and are never counted as upstream failures.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	sess, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	rawURL := c.resolve(path)
	refreshed := false
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := util.Jitter(c.baseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w while backing off", ctx.Err())
			case <-time.After(delay):
			}
		}

		// Each attempt is admitted individually so retries count against
		// the same call ceilings as first attempts. The limiter runs before
		// the breaker: once Allow admits a half-open trial, the attempt must
		// reach a recorded outcome.
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}

		status, raw, err := c.t.do(ctx, method, rawURL, reqOpts{query: query, json: body, bearer: sess.AccessToken})
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			continue
		}

		switch {
		case status < 300:
			c.breaker.RecordSuccess()
			return raw, nil

		case status == http.StatusUnauthorized:
			// The upstream answered; the rejection concerns our token, not
			// its health. Recording it keeps a half-open trial from hanging.
			c.breaker.RecordSuccess()
			if refreshed {
				return nil, fmt.Errorf("%w: %s %s still rejected after refresh", ErrAuthenticationFailed, method, path)
			}
			refreshed = true
			ns, err := c.refreshSession(ctx, sess.AccessToken)
			if err != nil {
				return nil, err
			}
			sess = ns
			attempt-- // the refreshed retry is not a transient attempt
			continue

		case status == http.StatusTooManyRequests || status >= 500:
			c.breaker.RecordFailure()
			lastErr = &APIError{StatusCode: status, Detail: errorDetail(status, raw), Body: raw}
			c.log.Warn("transient upstream failure", "method", method, "path", path, "status", status, "attempt", attempt+1)
			continue

		default:
			c.breaker.RecordSuccess()
			return nil, &APIError{StatusCode: status, Detail: errorDetail(status, raw), Body: raw}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// Get performs an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// ensureSession returns a session that is valid now, loading the persisted
// one on first use and refreshing a stale one. Never optimistic: a session
// inside the expiry margin is refreshed before any authenticated call.
func (c *Client) ensureSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.session == nil {
		c.session = c.store.Load()
	}
	cur := c.session
	c.mu.Unlock()

	if cur == nil {
		return nil, ErrNoSession
	}
	if cur.Valid(c.margin, time.Now()) {
		return cur, nil
	}
	return c.refreshSession(ctx, "")
}

// refreshSession funnels all refreshes through a single flight: concurrent
// callers needing one suspend on the in-flight refresh and share its result,
// since duplicate refreshes invalidate each other's tokens. staleToken, when
// non-empty, is the access token the caller saw rejected; if the current
// session already moved past it no new refresh is issued.
func (c *Client) refreshSession(ctx context.Context, staleToken string) (*Session, error) {
	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		c.mu.Lock()
		cur := c.session
		c.mu.Unlock()

		if cur == nil {
			return nil, ErrNoSession
		}
		if staleToken != "" && cur.AccessToken != staleToken {
			return cur, nil
		}
		if staleToken == "" && cur.Valid(c.margin, time.Now()) {
			return cur, nil
		}

		ns, err := c.oauth.Refresh(ctx, cur)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.session = ns
		c.mu.Unlock()
		return ns, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// resolve turns an API-relative path into a full URL, passing absolute
// pagination cursors through untouched.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.endpoints.API + path
}
