package store

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func xsKey(userID, usage, publicKey string) *models.CrossSigningKey {
	return &models.CrossSigningKey{
		UserID:     userID,
		Usages:     []string{usage},
		PublicKey:  publicKey,
		Signatures: map[string]map[string]string{userID: {"ed25519:" + publicKey: "sig"}},
	}
}

func xsInfo(userID, master, self string) *models.CrossSigningInfo {
	return models.NewCrossSigningInfo(userID,
		xsKey(userID, models.KeyUsageMaster, master),
		xsKey(userID, models.KeyUsageSelfSigning, self),
	)
}

func TestSetCrossSigningInfo(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	info := xsInfo(bob, "M1", "S1")
	info.Keys = append(info.Keys, xsKey(bob, models.KeyUsageUserSigning, "U1"))
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, info))

	got, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "M1", got.MasterKey().PublicKey)
	assert.Equal(t, "S1", got.SelfSigningKey().PublicKey)
	assert.Equal(t, "U1", got.UserSigningKey().PublicKey)
	assert.Equal(t, "sig", got.MasterKey().Signatures[bob]["ed25519:M1"])

	// slots missing from the new info are dropped
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))
	got, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Nil(t, got.UserSigningKey())

	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, nil))
	got, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetCrossSigningInfo_TrustFollowsKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))
	require.NoError(t, s.SetUserTrusted(ctx, bob, true))

	got, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.True(t, got.IsTrusted())

	// same keys again: stored trust is kept
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))
	got, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.True(t, got.IsTrusted())

	// rotated master key: its trust is gone, the unchanged key keeps its own
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M2", "S1")))
	got, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.False(t, got.IsTrusted())
	assert.Nil(t, got.MasterKey().TrustLevel)
	assert.True(t, got.SelfSigningKey().IsVerified())
}

func TestSetCrossSigningInfo_RotatedKeyLosesTrust(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))
	require.NoError(t, s.SetUserTrusted(ctx, bob, true))

	// the fetched info carries the old key's trust into the new key
	info, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	require.True(t, info.IsTrusted())
	info.MasterKey().PublicKey = "M2"
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, info))

	got, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "M2", got.MasterKey().PublicKey)
	assert.Nil(t, got.MasterKey().TrustLevel)
	assert.True(t, got.SelfSigningKey().IsVerified())
	assert.False(t, got.IsTrusted())

	// the same key resent without trust or signatures keeps both
	again := xsInfo(bob, "M2", "S1")
	again.MasterKey().Signatures = nil
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, again))
	got, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "sig", got.MasterKey().Signatures[bob]["ed25519:M1"])
	assert.True(t, got.SelfSigningKey().IsVerified())
}

func TestSetCrossSigningInfo_MergesSignatures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))

	update := xsInfo(bob, "M1", "S1")
	update.MasterKey().Signatures = map[string]map[string]string{
		alice: {"ed25519:ALICEUSK": "alice-sig"},
		bob:   {"ed25519:M1": "sig2"},
	}
	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, update))

	got, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		alice: {"ed25519:ALICEUSK": "alice-sig"},
		bob:   {"ed25519:M1": "sig2"},
	}, got.MasterKey().Signatures)
}

func TestStoreUserCrossSigningKeys_OwnKeyRotation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutUserDevices(ctx, alice, map[string]*models.DeviceInfo{
		aliceDevice: device(alice, aliceDevice),
		"OTHER":     device(alice, "OTHER"),
		"UNKNOWN":   device(alice, "UNKNOWN"),
	}))
	require.NoError(t, s.SetDeviceTrust(ctx, alice, aliceDevice, true, true))
	require.NoError(t, s.SetDeviceTrust(ctx, alice, "OTHER", true, true))

	master := xsKey(alice, models.KeyUsageMaster, "M1")
	self := xsKey(alice, models.KeyUsageSelfSigning, "S1")
	user := xsKey(alice, models.KeyUsageUserSigning, "U1")
	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, alice, master, self, user))

	keys := models.PrivateKeysInfo{Master: "m-priv", SelfSigned: "s-priv", UserSigning: "u-priv"}
	require.NoError(t, s.SetPrivateCrossSigningKeys(ctx, keys))
	require.NoError(t, s.SetUserTrusted(ctx, alice, true))
	require.NoError(t, s.SetDeviceTrust(ctx, alice, aliceDevice, true, true))
	require.NoError(t, s.SetDeviceTrust(ctx, alice, "OTHER", true, true))

	// unchanged keys, no user-signing key in the download
	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, alice, master, self, nil))
	info, err := s.GetMyCrossSigningInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.IsTrusted())
	require.NotNil(t, info.UserSigningKey(), "kept")
	priv, err := s.GetPrivateCrossSigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys, priv)

	// master key rotated
	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, alice, xsKey(alice, models.KeyUsageMaster, "M2"), self, nil))

	priv, err = s.GetPrivateCrossSigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PrivateKeysInfo{SelfSigned: "s-priv", UserSigning: "u-priv"}, priv)

	info, err = s.GetMyCrossSigningInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info.MasterKey().TrustLevel)

	devs, err := s.GetDevicesForUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.NewTrustLevel(false, true), devs[aliceDevice].TrustLevel)
	assert.Equal(t, models.NewTrustLevel(false, false), devs["OTHER"].TrustLevel)
	assert.Nil(t, devs["UNKNOWN"].TrustLevel)
}

func TestStoreUserCrossSigningKeys_OtherUser(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	keys := models.PrivateKeysInfo{Master: "m-priv"}
	require.NoError(t, s.SetPrivateCrossSigningKeys(ctx, keys))

	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, bob,
		xsKey(bob, models.KeyUsageMaster, "M1"), xsKey(bob, models.KeyUsageSelfSigning, "S1"), nil))
	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, bob,
		xsKey(bob, models.KeyUsageMaster, "M2"), xsKey(bob, models.KeyUsageSelfSigning, "S1"), nil))

	priv, err := s.GetPrivateCrossSigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys, priv, "private keys belong to the local user only")

	info, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "M2", info.MasterKey().PublicKey)

	// no master key means no cross-signing identity
	require.NoError(t, s.StoreUserCrossSigningKeys(ctx, bob, nil, xsKey(bob, models.KeyUsageSelfSigning, "S1"), nil))
	info, err = s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestSetMasterKeyLocallyTrusted(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetMasterKeyLocallyTrusted(ctx, true), "no keys yet")

	require.NoError(t, s.SetMyCrossSigningInfo(ctx, xsInfo(alice, "M1", "S1")))
	require.NoError(t, s.SetMasterKeyLocallyTrusted(ctx, true))

	info, err := s.GetMyCrossSigningInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NewTrustLevel(false, true), info.MasterKey().TrustLevel)
	assert.Nil(t, info.SelfSigningKey().TrustLevel)

	require.NoError(t, s.SetUserTrusted(ctx, alice, true))
	require.NoError(t, s.SetMasterKeyLocallyTrusted(ctx, false))
	info, err = s.GetMyCrossSigningInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NewTrustLevel(true, false), info.MasterKey().TrustLevel)
}

func TestClearOtherUsersTrust(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, u := range []string{alice, bob} {
		require.NoError(t, s.SetCrossSigningInfo(ctx, u, xsInfo(u, "M-"+u, "S-"+u)))
		require.NoError(t, s.SetUserTrusted(ctx, u, true))
	}

	require.NoError(t, s.ClearOtherUsersTrust(ctx))

	mine, err := s.GetMyCrossSigningInfo(ctx)
	require.NoError(t, err)
	assert.True(t, mine.IsTrusted())

	theirs, err := s.GetCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	assert.False(t, theirs.IsTrusted())
	assert.Nil(t, theirs.MasterKey().TrustLevel)
}

func TestReconcileTrust(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, u := range []string{alice, bob, carol} {
		require.NoError(t, s.SetCrossSigningInfo(ctx, u, xsInfo(u, "M-"+u, "S-"+u)))
	}
	require.NoError(t, s.SetUserTrusted(ctx, alice, true))
	require.NoError(t, s.SetUserTrusted(ctx, bob, true))

	var asked []string
	require.NoError(t, s.ReconcileTrust(ctx, func(userID string) bool {
		asked = append(asked, userID)
		return userID == carol
	}))
	assert.Equal(t, []string{bob, carol}, asked, "local user skipped")

	trusted := func(userID string) bool {
		info, err := s.GetCrossSigningInfo(ctx, userID)
		require.NoError(t, err)
		return info.IsTrusted()
	}
	assert.True(t, trusted(alice))
	assert.False(t, trusted(bob))
	assert.True(t, trusted(carol))
}

func TestSubscribeToCrossSigningInfo(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	sub, err := s.SubscribeToCrossSigningInfo(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()

	waitFor(t, sub.C, func(info *models.CrossSigningInfo) bool { return info == nil })

	require.NoError(t, s.SetCrossSigningInfo(ctx, bob, xsInfo(bob, "M1", "S1")))
	waitFor(t, sub.C, func(info *models.CrossSigningInfo) bool { return info != nil && !info.IsTrusted() })

	require.NoError(t, s.SetUserTrusted(ctx, bob, true))
	waitFor(t, sub.C, func(info *models.CrossSigningInfo) bool { return info.IsTrusted() })
}
