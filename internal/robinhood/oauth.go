package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// tokenLifetime is the lifetime requested from the token endpoint, matching
// what the official app asks for.
const tokenLifetime = 86400

// OAuth2Client exchanges credentials and refresh tokens for sessions at the
// token endpoint, and persists each new session through the SessionStore.
type OAuth2Client struct {
	t         *transport
	endpoints Endpoints
	clientID  string
	store     *SessionStore
	log       *slog.Logger

	now func() time.Time // swapped in tests
}

// NewOAuth2Client creates an OAuth2Client. An empty clientID selects the
// official app identifier.
func NewOAuth2Client(hc *http.Client, endpoints Endpoints, clientID string, store *SessionStore, log *slog.Logger) *OAuth2Client {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if log == nil {
		log = slog.Default()
	}
	return &OAuth2Client{
		t:         &transport{hc: hc, log: log},
		endpoints: endpoints,
		clientID:  clientID,
		store:     store,
		log:       log.With("component", "oauth"),
		now:       time.Now,
	}
}

// LoginResult is the tagged outcome of a login attempt: either a usable
// Session, or a VerificationChallenge that must be completed first. Needing
// more steps is normal control flow, not an error.
type LoginResult struct {
	Session   *Session
	Challenge *VerificationChallenge
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Workflow     *struct {
		ID     string `json:"id"`
		Status string `json:"workflow_status"`
	} `json:"verification_workflow"`
}

// Login exchanges credentials plus the device identity for a token pair. A
// verification_workflow marker in the response (Robinhood sends it even
// with a 403 status) yields a Challenge result rather than an error;
// credential rejections yield ErrInvalidCredentials.
func (c *OAuth2Client) Login(ctx context.Context, creds Credentials, deviceToken string) (*LoginResult, error) {
	c.log.Info("logging in", "username", creds.Username)

	status, raw, err := c.t.do(ctx, http.MethodPost, c.endpoints.Token(), reqOpts{
		form: c.loginForm(creds, deviceToken),
	})
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil && status < 400 {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	if tr.Workflow != nil && tr.Workflow.ID != "" {
		c.log.Info("verification required", "workflow_id", tr.Workflow.ID, "status", tr.Workflow.Status)
		return &LoginResult{Challenge: newChallenge(tr.Workflow.ID)}, nil
	}

	if status >= 400 {
		detail := errorDetail(status, raw)
		if status < 500 && strings.Contains(strings.ToLower(detail), "credential") {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, detail)
		}
		return nil, &APIError{StatusCode: status, Detail: detail, Body: raw}
	}

	sess, err := c.sessionFrom(tr, deviceToken, "")
	if err != nil {
		return nil, err
	}
	c.persist(sess)

	c.log.Info("login successful", "expires_at", sess.ExpiresAt)
	return &LoginResult{Session: sess}, nil
}

// Refresh exchanges the refresh token for a new token pair, preserving the
// device identity and account id. A rejected refresh token yields
// ErrSessionExpired: a full login is required.
func (c *OAuth2Client) Refresh(ctx context.Context, old *Session) (*Session, error) {
	if old == nil || old.RefreshToken == "" {
		return nil, ErrNoSession
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", old.RefreshToken)
	form.Set("client_id", c.clientID)
	form.Set("device_token", old.DeviceToken)
	form.Set("scope", "internal")
	form.Set("expires_in", strconv.Itoa(tokenLifetime))

	status, raw, err := c.t.do(ctx, http.MethodPost, c.endpoints.Token(), reqOpts{form: form})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: refresh rejected: %s", ErrSessionExpired, errorDetail(status, raw))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}

	sess, err := c.sessionFrom(tr, old.DeviceToken, old.AccountID)
	if err != nil {
		return nil, err
	}
	c.persist(sess)

	c.log.Debug("session refreshed", "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Logout revokes the token pair upstream on a best-effort basis and always
// clears the locally persisted session, whatever the remote outcome.
func (c *OAuth2Client) Logout(ctx context.Context, sess *Session) error {
	if sess != nil && sess.RefreshToken != "" {
		form := url.Values{}
		form.Set("client_id", c.clientID)
		form.Set("token", sess.RefreshToken)

		status, raw, err := c.t.do(ctx, http.MethodPost, c.endpoints.RevokeToken(), reqOpts{form: form})
		if err != nil {
			c.log.Warn("remote token revocation failed", "error", err)
		} else if status >= 400 {
			c.log.Warn("remote token revocation rejected", "status", status, "detail", errorDetail(status, raw))
		}
	}

	return c.store.Clear()
}

func (c *OAuth2Client) loginForm(creds Credentials, deviceToken string) url.Values {
	// Field set must match the current official app requirements or the
	// endpoint answers with opaque 400s.
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.clientID)
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)
	form.Set("device_token", deviceToken)
	form.Set("scope", "internal")
	form.Set("expires_in", strconv.Itoa(tokenLifetime))
	form.Set("try_passkeys", "false")
	form.Set("token_request_path", "/login")
	form.Set("create_read_only_secondary_token", "true")
	if creds.MFACode != "" {
		form.Set("mfa_code", creds.MFACode)
	}
	return form
}

// sessionFrom builds a Session from a token response, failing closed when
// the response carries no usable token pair or expiry.
func (c *OAuth2Client) sessionFrom(tr tokenResponse, deviceToken, accountID string) (*Session, error) {
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("token endpoint returned no token pair")
	}

	now := c.now()
	var expires time.Time
	switch {
	case tr.ExpiresIn > 0:
		expires = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		expires = expiryFromToken(tr.AccessToken)
	}
	if expires.IsZero() {
		return nil, fmt.Errorf("token endpoint returned no usable expiry")
	}

	return &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		DeviceToken:  deviceToken,
		AccountID:    accountID,
		IssuedAt:     now,
		ExpiresAt:    expires,
	}, nil
}

// persist saves the session; a write failure is logged but does not fail the
// login, since the in-memory session remains usable.
func (c *OAuth2Client) persist(sess *Session) {
	if err := c.store.Save(sess); err != nil {
		c.log.Warn("failed to persist session", "error", err)
	}
}
