package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/notify"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/devices"
)

func devicesChanged(userIDs ...string) notify.Change {
	return notify.Change{Entity: notify.EntityDevices, UserIDs: userIDs}
}

// mergeDevice prepares d for storage. Trust and blocking the caller did not
// supply are carried over from the stored row, and a new device gets its
// first-seen time.
func (s *Store) mergeDevice(ctx context.Context, repo devices.Repository, userID string, d *models.DeviceInfo) (*models.DeviceInfo, error) {
	if d == nil || d.DeviceID == "" {
		return nil, fmt.Errorf("%w: device without id for %s", common.ErrMalformedRecord, userID)
	}

	existing, err := repo.GetDevice(ctx, userID, d.DeviceID)
	if errors.Is(err, common.ErrMalformedRecord) {
		s.log.Warn(ctx, "overwriting malformed device row", "user_id", userID, "device_id", d.DeviceID, "err", err)
		existing, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	merged := *d
	merged.UserID = userID
	merged.TrustLevel = d.TrustLevel.Clone()
	if existing != nil {
		if merged.TrustLevel == nil {
			merged.TrustLevel = existing.TrustLevel
		}
		merged.IsBlocked = merged.IsBlocked || existing.IsBlocked
		merged.FirstTimeSeenLocalTs = existing.FirstTimeSeenLocalTs
	} else if merged.FirstTimeSeenLocalTs == 0 {
		merged.FirstTimeSeenLocalTs = s.nowMillis()
	}
	return &merged, nil
}

// PutDevice stores one device of userID, creating the user record if needed.
func (s *Store) PutDevice(ctx context.Context, userID string, d *models.DeviceInfo) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Devices(tx)
		if err := repo.EnsureUser(ctx, userID); err != nil {
			return err
		}
		merged, err := s.mergeDevice(ctx, repo, userID, d)
		if err != nil {
			return err
		}
		return repo.UpsertDevice(ctx, merged)
	}, devicesChanged(userID))
}

// PutUserDevices replaces the device list of userID with devs, keyed by
// device id. A nil or empty map forgets the user and all of its devices.
func (s *Store) PutUserDevices(ctx context.Context, userID string, devs map[string]*models.DeviceInfo) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Devices(tx)
		if len(devs) == 0 {
			return repo.DeleteUser(ctx, userID)
		}

		if err := repo.EnsureUser(ctx, userID); err != nil {
			return err
		}
		keep := make([]string, 0, len(devs))
		for id := range devs {
			keep = append(keep, id)
		}
		if err := repo.DeleteDevicesExcept(ctx, userID, keep); err != nil {
			return err
		}

		for id, d := range devs {
			if d != nil && d.DeviceID == "" {
				c := *d
				c.DeviceID = id
				d = &c
			}
			merged, err := s.mergeDevice(ctx, repo, userID, d)
			if err != nil {
				return err
			}
			if err := repo.UpsertDevice(ctx, merged); err != nil {
				return err
			}
		}
		return nil
	}, devicesChanged(userID))
}

func (s *Store) GetDevice(ctx context.Context, userID, deviceID string) (*models.DeviceInfo, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Devices(db).GetDevice(ctx, userID, deviceID)
	if errors.Is(err, common.ErrMalformedRecord) {
		s.log.Warn(ctx, "malformed device row", "user_id", userID, "device_id", deviceID, "err", err)
		return nil, nil
	}
	return d, err
}

// GetDeviceByIdentityKey looks a device up by its curve25519 key across all
// users.
func (s *Store) GetDeviceByIdentityKey(ctx context.Context, identityKey string) (*models.DeviceInfo, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Devices(db).GetByIdentityKey(ctx, identityKey)
	if errors.Is(err, common.ErrMalformedRecord) {
		s.log.Warn(ctx, "malformed device row", "identity_key", identityKey, "err", err)
		return nil, nil
	}
	return d, err
}

// GetDevicesForUser returns the user's devices keyed by device id, or nil
// when the user is not known at all.
func (s *Store) GetDevicesForUser(ctx context.Context, userID string) (map[string]*models.DeviceInfo, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.devicesForUser(ctx, db, userID)
}

func (s *Store) devicesForUser(ctx context.Context, db dbx.DBTX, userID string) (map[string]*models.DeviceInfo, error) {
	repo := s.repos.Devices(db)
	ok, err := repo.UserExists(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	list, err := repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*models.DeviceInfo, len(list))
	for _, d := range list {
		result[d.DeviceID] = d
	}
	return result, nil
}

// DeviceTrackingStatus returns def for a user without a record. It never
// creates one.
func (s *Store) DeviceTrackingStatus(ctx context.Context, userID string, def models.TrackingStatus) (models.TrackingStatus, error) {
	db, err := s.reader()
	if err != nil {
		return def, err
	}
	status, ok, err := s.repos.Devices(db).TrackingStatus(ctx, userID)
	if err != nil || !ok {
		return def, err
	}
	return status, nil
}

func (s *Store) SetDeviceTrackingStatus(ctx context.Context, userID string, status models.TrackingStatus) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Devices(tx).SetTrackingStatus(ctx, userID, status)
	})
}

// SetAllDeviceTrackingStatuses writes every status in one transaction.
func (s *Store) SetAllDeviceTrackingStatuses(ctx context.Context, statuses map[string]models.TrackingStatus) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Devices(tx)
		for userID, status := range statuses {
			if err := repo.SetTrackingStatus(ctx, userID, status); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AllDeviceTrackingStatuses(ctx context.Context) (map[string]models.TrackingStatus, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Devices(db).AllTrackingStatuses(ctx)
}

// SetDeviceTrust sets both trust flags of a stored device, creating its
// trust level if it had none.
func (s *Store) SetDeviceTrust(ctx context.Context, userID, deviceID string, crossSigned, locally bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		found, err := s.repos.Devices(tx).SetTrust(ctx, userID, deviceID, models.NewTrustLevel(crossSigned, locally))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("device %s/%s: %w", userID, deviceID, common.ErrorNotFound)
		}
		return nil
	}, devicesChanged(userID))
}

func (s *Store) SetDeviceBlocked(ctx context.Context, userID, deviceID string, blocked bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		found, err := s.repos.Devices(tx).SetBlocked(ctx, userID, deviceID, blocked)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("device %s/%s: %w", userID, deviceID, common.ErrorNotFound)
		}
		return nil
	}, devicesChanged(userID))
}

// UserIDs lists every user with a device record.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Devices(db).UserIDs(ctx)
}

// SubscribeToDevices streams the devices of userIDs (all users when none
// are given), refreshed after every change to them.
func (s *Store) SubscribeToDevices(ctx context.Context, userIDs ...string) (*notify.Subscription[[]*models.DeviceInfo], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	match := func(c notify.Change) bool { return c.Affects(notify.EntityDevices, userIDs) }
	return notify.Subscribe(ctx, s.notifier, match, func(ctx context.Context) ([]*models.DeviceInfo, error) {
		db, err := s.reader()
		if err != nil {
			return nil, err
		}
		users := userIDs
		if len(users) == 0 {
			if users, err = s.repos.Devices(db).UserIDs(ctx); err != nil {
				return nil, err
			}
		}
		var result []*models.DeviceInfo
		for _, u := range users {
			list, err := s.repos.Devices(db).ListForUser(ctx, u)
			if err != nil {
				return nil, err
			}
			result = append(result, list...)
		}
		return result, nil
	}), nil
}
