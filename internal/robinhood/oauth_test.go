package robinhood

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func testEndpoints(srv *httptest.Server) Endpoints {
	return Endpoints{API: srv.URL, Identity: srv.URL}
}

func newTestOAuth(t *testing.T, srv *httptest.Server) (*OAuth2Client, *SessionStore) {
	t.Helper()
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.json"), nil)
	return NewOAuth2Client(srv.Client(), testEndpoints(srv), "", store, nil), store
}

func TestLoginSuccess(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		gotForm = map[string]string{
			"grant_type":   r.PostForm.Get("grant_type"),
			"username":     r.PostForm.Get("username"),
			"device_token": r.PostForm.Get("device_token"),
			"scope":        r.PostForm.Get("scope"),
		}
		writeJSON(w, 200, map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    86400,
		})
	}))
	defer srv.Close()

	oauth, store := newTestOAuth(t, srv)
	res, err := oauth.Login(context.Background(), Credentials{Username: "user", Password: "pass"}, "dev-token")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Session == nil || res.Challenge != nil {
		t.Fatalf("Login() = %+v, want session outcome", res)
	}

	sess := res.Session
	if sess.AccessToken != "new-access" || sess.RefreshToken != "new-refresh" || sess.DeviceToken != "dev-token" {
		t.Errorf("unexpected session %+v", sess)
	}
	if remaining := time.Until(sess.ExpiresAt); remaining < 23*time.Hour {
		t.Errorf("ExpiresAt only %v away, want about 24h", remaining)
	}

	want := map[string]string{"grant_type": "password", "username": "user", "device_token": "dev-token", "scope": "internal"}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}

	if persisted := store.Load(); persisted == nil || persisted.AccessToken != "new-access" {
		t.Error("login did not persist the session")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"detail": "Unable to log in with provided credentials."})
	}))
	defer srv.Close()

	oauth, _ := newTestOAuth(t, srv)
	_, err := oauth.Login(context.Background(), Credentials{Username: "user", Password: "bad"}, "dev")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginChallengeDespiteErrorStatus(t *testing.T) {
	// Robinhood answers 403 yet still includes the workflow marker; that is a
	// challenge outcome, not a failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 403, map[string]any{
			"verification_workflow": map[string]string{
				"id":              "wf-1",
				"workflow_status": "workflow_status_internal_pending",
			},
		})
	}))
	defer srv.Close()

	oauth, _ := newTestOAuth(t, srv)
	res, err := oauth.Login(context.Background(), Credentials{Username: "user", Password: "pass"}, "dev")
	if err != nil {
		t.Fatalf("Login() error = %v, want challenge outcome", err)
	}
	if res.Challenge == nil || res.Session != nil {
		t.Fatalf("Login() = %+v, want challenge outcome", res)
	}
	if res.Challenge.WorkflowID != "wf-1" {
		t.Errorf("WorkflowID = %q, want wf-1", res.Challenge.WorkflowID)
	}
	if res.Challenge.State != ChallengeInitiated {
		t.Errorf("State = %v, want ChallengeInitiated", res.Challenge.State)
	}
}

func TestRefreshPreservesIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
		writeJSON(w, 200, map[string]any{
			"access_token":  "rotated-access",
			"refresh_token": "rotated-refresh",
			"expires_in":    86400,
		})
	}))
	defer srv.Close()

	oauth, _ := newTestOAuth(t, srv)
	old := &Session{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		DeviceToken:  "dev-token",
		AccountID:    "ACC123",
	}

	sess, err := oauth.Refresh(context.Background(), old)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if sess.AccessToken != "rotated-access" || sess.RefreshToken != "rotated-refresh" {
		t.Errorf("unexpected tokens %+v", sess)
	}
	if sess.DeviceToken != "dev-token" || sess.AccountID != "ACC123" {
		t.Errorf("Refresh() dropped identity: %+v", sess)
	}
}

func TestRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, map[string]any{"error": "invalid_grant"})
	}))
	defer srv.Close()

	oauth, _ := newTestOAuth(t, srv)
	_, err := oauth.Refresh(context.Background(), &Session{RefreshToken: "revoked", DeviceToken: "dev"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Refresh() error = %v, want ErrSessionExpired", err)
	}
}

func TestLogoutClearsDespiteRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"detail": "server error"})
	}))
	defer srv.Close()

	oauth, store := newTestOAuth(t, srv)
	sess := testSession()
	if err := store.Save(sess); err != nil {
		t.Fatal(err)
	}

	if err := oauth.Logout(context.Background(), sess); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if store.Load() != nil {
		t.Error("Logout() left the persisted session behind")
	}
}
