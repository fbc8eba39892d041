package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestDeviceTokenStablePerUser(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()

	first, err := v.DeviceToken(ctx, "alice")
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	assert.NoError(t, err, "device token should be a UUID")

	again, err := v.DeviceToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, again, "device token must be stable across logins")

	other, err := v.DeviceToken(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "distinct users must not share a device token")
}

func TestDeviceTokenSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()

	v, err := Open(path, nil)
	require.NoError(t, err)
	first, err := v.DeviceToken(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, v.Close())

	v2, err := Open(path, nil)
	require.NoError(t, err)
	defer v2.Close()

	again, err := v2.DeviceToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, again, "device token must survive process restarts")
}

func TestDeviceTokenEmptyUsername(t *testing.T) {
	v := openTestVault(t)
	_, err := v.DeviceToken(context.Background(), "")
	assert.Error(t, err)
}

func TestLastUsername(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()

	got, err := v.LastUsername(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "empty vault should have no last username")

	require.NoError(t, v.SetLastUsername(ctx, "alice"))
	require.NoError(t, v.SetLastUsername(ctx, "bob"))

	got, err = v.LastUsername(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

func TestRecordLogin(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()

	_, err := v.DeviceToken(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, v.RecordLogin(ctx, "alice"))

	var stamped int
	err = v.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE username = 'alice' AND last_login_at IS NOT NULL`).Scan(&stamped)
	require.NoError(t, err)
	assert.Equal(t, 1, stamped, "last_login_at should be stamped")
}
