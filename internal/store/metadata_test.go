package store

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/olm/olmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount(t *testing.T) {
	ctx := context.Background()
	opts := fileOptions(t)
	s := openStore(t, opts)

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc)

	first := olmtest.NewAccount("v1")
	second := olmtest.NewAccount("v2")
	require.NoError(t, s.SaveAccount(ctx, first))
	require.NoError(t, s.SaveAccount(ctx, first))
	assert.Zero(t, first.Releases())

	require.NoError(t, s.SaveAccount(ctx, second))
	assert.Equal(t, 1, first.Releases())

	acc, err = s.GetAccount(ctx)
	require.NoError(t, err)
	assert.Same(t, second, acc)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, second.Releases())

	s = openStore(t, opts)
	acc, err = s.GetAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "v2", handleOf(t, acc).Payload)
}

func TestAccount_UndecodableIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.repos.Metadata(s.db).SetOlmAccount(ctx, olmtest.CorruptBlob()))

	acc, err := s.GetAccount(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc)
	assert.Error(t, s.SaveAccount(ctx, nil))
}

func TestMetadataSettings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	block, err := s.GlobalBlacklistUnverifiedDevices(ctx)
	require.NoError(t, err)
	assert.False(t, block)

	require.NoError(t, s.SetGlobalBlacklistUnverifiedDevices(ctx, true))
	require.NoError(t, s.SetKeyBackupVersion(ctx, "7"))
	require.NoError(t, s.SetDeviceSyncToken(ctx, "s72594_4483_1934"))
	require.NoError(t, s.SaveBackupRecoveryKey(ctx, "EsTc recovery", "7"))

	block, err = s.GlobalBlacklistUnverifiedDevices(ctx)
	require.NoError(t, err)
	assert.True(t, block)

	version, err := s.KeyBackupVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", version)

	token, err := s.DeviceSyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s72594_4483_1934", token)

	key, keyVersion, err := s.BackupRecoveryKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EsTc recovery", key)
	assert.Equal(t, "7", keyVersion)

	require.NoError(t, s.SetKeyBackupVersion(ctx, ""))
	version, err = s.KeyBackupVersion(ctx)
	require.NoError(t, err)
	assert.Empty(t, version, "backup disabled")
}

func TestPrivateKeySetters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetMasterPrivateKey(ctx, "m"))
	require.NoError(t, s.SetSelfSignedPrivateKey(ctx, "s"))
	require.NoError(t, s.SetUserSigningPrivateKey(ctx, "u"))

	keys, err := s.GetPrivateCrossSigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PrivateKeysInfo{Master: "m", SelfSigned: "s", UserSigning: "u"}, keys)

	require.NoError(t, s.SetPrivateCrossSigningKeys(ctx, models.PrivateKeysInfo{}))
	keys, err = s.GetPrivateCrossSigningKeys(ctx)
	require.NoError(t, err)
	assert.True(t, keys.IsEmpty())
}
