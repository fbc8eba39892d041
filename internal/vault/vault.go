// Package vault is the local device registry. Robinhood ties verification
// approval to the device token presented at login; once a device is approved
// its token must be reused forever or every login re-triggers verification.
// The registry therefore outlives sessions and logouts, in a SQLite database
// next to the session file.
//
// Passwords are never stored here. They come from the environment at login
// time and exist only in memory.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stockbot/internal/robinhood"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	username      TEXT PRIMARY KEY,
	device_token  TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	last_login_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Vault is a SQLite-backed registry of per-user device identities.
type Vault struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (and if needed creates) the registry at path. A DSN such as
// ":memory:" is passed through for tests.
func Open(path string, log *slog.Logger) (*Vault, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating vault directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising vault schema: %w", err)
	}

	return &Vault{db: db, log: log.With("component", "vault")}, nil
}

// Close releases the underlying database.
func (v *Vault) Close() error { return v.db.Close() }

// DeviceToken returns the stable device token for username, minting and
// recording a new one on first use.
func (v *Vault) DeviceToken(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", fmt.Errorf("vault: empty username")
	}

	var token string
	err := v.db.QueryRowContext(ctx,
		`SELECT device_token FROM devices WHERE username = ?`, username).Scan(&token)
	switch {
	case err == nil:
		return token, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("looking up device token: %w", err)
	}

	token = robinhood.GenerateDeviceToken()
	_, err = v.db.ExecContext(ctx,
		`INSERT INTO devices (username, device_token, created_at) VALUES (?, ?, ?)`,
		username, token, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording device token: %w", err)
	}

	v.log.Info("registered new device identity", "username", username)
	return token, nil
}

// RecordLogin stamps the last successful login for username.
func (v *Vault) RecordLogin(ctx context.Context, username string) error {
	_, err := v.db.ExecContext(ctx,
		`UPDATE devices SET last_login_at = ? WHERE username = ?`,
		time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return nil
}

// LastUsername returns the most recently used login name, or "" when none
// was recorded yet.
func (v *Vault) LastUsername(ctx context.Context) (string, error) {
	var username string
	err := v.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'last_username'`).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last username: %w", err)
	}
	return username, nil
}

// SetLastUsername remembers username as the default for the next login.
func (v *Vault) SetLastUsername(ctx context.Context, username string) error {
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('last_username', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, username)
	if err != nil {
		return fmt.Errorf("storing last username: %w", err)
	}
	return nil
}
