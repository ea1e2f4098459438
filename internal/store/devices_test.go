package store

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func device(userID, deviceID string) *models.DeviceInfo {
	return &models.DeviceInfo{
		UserID:     userID,
		DeviceID:   deviceID,
		Algorithms: []string{"m.olm.v1.curve25519-aes-sha2", "m.megolm.v1.aes-sha2"},
		Keys: map[string]string{
			"curve25519:" + deviceID: "curve-" + deviceID,
			"ed25519:" + deviceID:    "ed-" + deviceID,
		},
		Unsigned: map[string]any{"device_display_name": deviceID + " phone"},
	}
}

func TestPutUserDevices(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	got, err := s.GetDevicesForUser(ctx, bob)
	require.NoError(t, err)
	assert.Nil(t, got, "unknown user")

	require.NoError(t, s.PutUserDevices(ctx, bob, map[string]*models.DeviceInfo{
		"B1": device(bob, "B1"),
		"B2": device(bob, "B2"),
	}))

	got, err = s.GetDevicesForUser(ctx, bob)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "curve-B1", got["B1"].IdentityKey())
	assert.Equal(t, "B2 phone", got["B2"].DisplayName())
	assert.Equal(t, testNow.UnixMilli(), got["B1"].FirstTimeSeenLocalTs)

	// devices missing from the new list are dropped
	require.NoError(t, s.PutUserDevices(ctx, bob, map[string]*models.DeviceInfo{"B2": device(bob, "B2")}))
	got, err = s.GetDevicesForUser(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "B2")

	d, err := s.GetDeviceByIdentityKey(ctx, "curve-B2")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, bob, d.UserID)
	d, err = s.GetDeviceByIdentityKey(ctx, "curve-B1")
	require.NoError(t, err)
	assert.Nil(t, d)

	// an empty list forgets the user
	require.NoError(t, s.PutUserDevices(ctx, bob, nil))
	got, err = s.GetDevicesForUser(ctx, bob)
	require.NoError(t, err)
	assert.Nil(t, got)

	users, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPutUserDevices_KnownUserWithoutDevices(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetDeviceTrackingStatus(ctx, bob, models.TrackingStatusUpToDate))

	got, err := s.GetDevicesForUser(ctx, bob)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPutDevice_PreservesLocalState(t *testing.T) {
	ctx := context.Background()
	now := testNow
	opts := testOptions(t)
	opts.Now = func() time.Time { return now }
	s := openStore(t, opts)

	require.NoError(t, s.PutDevice(ctx, bob, device(bob, "B1")))
	require.NoError(t, s.SetDeviceTrust(ctx, bob, "B1", false, true))
	require.NoError(t, s.SetDeviceBlocked(ctx, bob, "B1", true))

	now = now.Add(time.Hour)
	updated := device(bob, "B1")
	updated.Unsigned = map[string]any{"device_display_name": "renamed"}
	require.NoError(t, s.PutUserDevices(ctx, bob, map[string]*models.DeviceInfo{"B1": updated}))

	d, err := s.GetDevice(ctx, bob, "B1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "renamed", d.DisplayName())
	assert.Equal(t, models.NewTrustLevel(false, true), d.TrustLevel)
	assert.True(t, d.IsBlocked)
	assert.Equal(t, testNow.UnixMilli(), d.FirstTimeSeenLocalTs)

	// trust supplied by the caller wins
	updated.TrustLevel = models.NewTrustLevel(true, false)
	require.NoError(t, s.PutDevice(ctx, bob, updated))
	d, err = s.GetDevice(ctx, bob, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.NewTrustLevel(true, false), d.TrustLevel)

	require.NoError(t, s.SetDeviceBlocked(ctx, bob, "B1", false))
	d, err = s.GetDevice(ctx, bob, "B1")
	require.NoError(t, err)
	assert.False(t, d.IsBlocked)
}

func TestPutDevice_Rejects(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	assert.ErrorIs(t, s.PutDevice(ctx, bob, nil), common.ErrMalformedRecord)
	assert.ErrorIs(t, s.PutDevice(ctx, bob, &models.DeviceInfo{}), common.ErrMalformedRecord)

	users, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "rolled back")
}

func TestSetDeviceTrust(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SetDeviceTrust(ctx, bob, "B1", true, true)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, s.SetDeviceBlocked(ctx, bob, "B1", true), common.ErrorNotFound)

	require.NoError(t, s.PutDevice(ctx, bob, device(bob, "B1")))
	d, err := s.GetDevice(ctx, bob, "B1")
	require.NoError(t, err)
	assert.Nil(t, d.TrustLevel, "unknown trust")

	require.NoError(t, s.SetDeviceTrust(ctx, bob, "B1", true, false))
	d, err = s.GetDevice(ctx, bob, "B1")
	require.NoError(t, err)
	assert.True(t, d.TrustLevel.IsCrossSigningVerified())
	assert.False(t, d.TrustLevel.IsLocallyVerified())
}

func TestDeviceTrackingStatus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	status, err := s.DeviceTrackingStatus(ctx, bob, models.TrackingStatusUnreachable)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusUnreachable, status, "default for unknown users")

	users, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "reading does not create the user")
	all, err := s.AllDeviceTrackingStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.SetDeviceTrackingStatus(ctx, bob, models.TrackingStatusPendingDownload))
	status, err = s.DeviceTrackingStatus(ctx, bob, models.TrackingStatusUnreachable)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusPendingDownload, status)

	require.NoError(t, s.SetAllDeviceTrackingStatuses(ctx, map[string]models.TrackingStatus{
		bob:   models.TrackingStatusNotTracked,
		carol: models.TrackingStatusDownloadInProgress,
	}))
	all, err = s.AllDeviceTrackingStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.TrackingStatus{
		bob:   models.TrackingStatusNotTracked,
		carol: models.TrackingStatusDownloadInProgress,
	}, all)

	status, err = s.DeviceTrackingStatus(ctx, bob, models.TrackingStatusUpToDate)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusNotTracked, status)
}

func TestSubscribeToDevices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore(t)

	sub, err := s.SubscribeToDevices(ctx, bob)
	require.NoError(t, err)
	defer sub.Close()

	waitFor(t, sub.C, func(d []*models.DeviceInfo) bool { return len(d) == 0 })

	require.NoError(t, s.PutDevice(ctx, carol, device(carol, "C1")))
	require.NoError(t, s.PutDevice(ctx, bob, device(bob, "B1")))
	got := waitFor(t, sub.C, func(d []*models.DeviceInfo) bool { return len(d) == 1 })
	assert.Equal(t, "B1", got[0].DeviceID)

	require.NoError(t, s.SetDeviceTrust(ctx, bob, "B1", false, true))
	waitFor(t, sub.C, func(d []*models.DeviceInfo) bool { return len(d) == 1 && d[0].IsVerified() })

	all, err := s.SubscribeToDevices(ctx)
	require.NoError(t, err)
	defer all.Close()
	waitFor(t, all.C, func(d []*models.DeviceInfo) bool { return len(d) == 2 })

	cancel()
	select {
	case _, open := <-sub.C:
		for open {
			_, open = <-sub.C
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on cancel")
	}
}
