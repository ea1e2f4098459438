package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
)

func (s *Store) getMetadata(ctx context.Context) (*models.Metadata, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Metadata(db).Get(ctx)
}

// Metadata returns the metadata record with its secrets unsealed.
func (s *Store) Metadata(ctx context.Context) (*models.Metadata, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return nil, err
	}

	sl := s.secrets()
	if meta.PrivateKeys, err = sl.openKeys(meta.PrivateKeys); err != nil {
		return nil, fmt.Errorf("failed to unseal private keys: %w", err)
	}
	if meta.RecoveryKey, err = sl.open(meta.RecoveryKey); err != nil {
		return nil, fmt.Errorf("failed to unseal recovery key: %w", err)
	}
	return meta, nil
}

func (s *Store) updateMetadata(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return s.withTx(ctx, fn)
}

// GetAccount returns the live Olm account, decoding it on first use. The
// store owns the handle. It returns nil when no account was saved or the
// stored one does not decode.
func (s *Store) GetAccount(ctx context.Context) (olm.Account, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	acc, _, err := s.account.GetOrLoad(accountKey, func() (olm.Account, bool, error) {
		meta, err := s.getMetadata(ctx)
		if err != nil || meta == nil || len(meta.OlmAccount) == 0 {
			return nil, false, err
		}
		acc, err := s.codec.DecodeAccount(meta.OlmAccount)
		if err != nil {
			s.log.Warn(ctx, "failed to decode olm account", "err", err)
			return nil, false, nil
		}
		return acc, true, nil
	})
	return acc, cacheErr(err)
}

// SaveAccount persists acc and makes it the cached account. A previously
// cached account that is a different object is released.
func (s *Store) SaveAccount(ctx context.Context, acc olm.Account) error {
	if acc == nil {
		return fmt.Errorf("failed to save olm account: nil account")
	}
	data, err := acc.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize olm account: %w", err)
	}
	err = s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetOlmAccount(ctx, data)
	})
	if err != nil {
		return err
	}
	s.account.Put(accountKey, acc)
	return nil
}

func (s *Store) SetGlobalBlacklistUnverifiedDevices(ctx context.Context, block bool) error {
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetGlobalBlacklistUnverified(ctx, block)
	})
}

func (s *Store) GlobalBlacklistUnverifiedDevices(ctx context.Context) (bool, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return false, err
	}
	return meta.GlobalBlacklistUnverified, nil
}

// SetKeyBackupVersion records the server-side backup version in use. An
// empty version means backup is disabled.
func (s *Store) SetKeyBackupVersion(ctx context.Context, version string) error {
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetBackupVersion(ctx, version)
	})
}

func (s *Store) KeyBackupVersion(ctx context.Context) (string, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return "", err
	}
	return meta.BackupVersion, nil
}

func (s *Store) SetDeviceKeysUploaded(ctx context.Context, uploaded bool) error {
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetDeviceKeysUploaded(ctx, uploaded)
	})
}

// DeviceKeysUploaded reports whether this device's keys reached the server.
func (s *Store) DeviceKeysUploaded(ctx context.Context) (bool, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return false, err
	}
	return meta.DeviceKeysUploaded, nil
}

// SetKeysBackupData records the server's view of the backup. nil clears it.
func (s *Store) SetKeysBackupData(ctx context.Context, data *models.KeysBackupData) error {
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetKeysBackupData(ctx, data)
	})
}

func (s *Store) KeysBackupData(ctx context.Context) (*models.KeysBackupData, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return nil, err
	}
	return meta.KeysBackupData, nil
}

func (s *Store) SaveBackupRecoveryKey(ctx context.Context, recoveryKey, version string) error {
	sealed, err := s.secrets().seal(recoveryKey)
	if err != nil {
		return fmt.Errorf("failed to seal recovery key: %w", err)
	}
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetRecoveryKey(ctx, sealed, version)
	})
}

// BackupRecoveryKey returns the saved recovery key and the backup version it
// belongs to, both empty when none is saved.
func (s *Store) BackupRecoveryKey(ctx context.Context) (key, version string, err error) {
	meta, err := s.Metadata(ctx)
	if err != nil || meta == nil || meta.RecoveryKey == "" {
		return "", "", err
	}
	return meta.RecoveryKey, meta.RecoveryKeyVersion, nil
}

func (s *Store) SetDeviceSyncToken(ctx context.Context, token string) error {
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetDeviceSyncToken(ctx, token)
	})
}

func (s *Store) DeviceSyncToken(ctx context.Context) (string, error) {
	meta, err := s.getMetadata(ctx)
	if err != nil || meta == nil {
		return "", err
	}
	return meta.DeviceSyncToken, nil
}

// GetPrivateCrossSigningKeys returns the local user's private keys, empty
// fields for the unknown ones.
func (s *Store) GetPrivateCrossSigningKeys(ctx context.Context) (models.PrivateKeysInfo, error) {
	meta, err := s.Metadata(ctx)
	if err != nil || meta == nil {
		return models.PrivateKeysInfo{}, err
	}
	return meta.PrivateKeys, nil
}

// SetPrivateCrossSigningKeys replaces all three private keys at once.
func (s *Store) SetPrivateCrossSigningKeys(ctx context.Context, keys models.PrivateKeysInfo) error {
	sealed, err := s.secrets().sealKeys(keys)
	if err != nil {
		return fmt.Errorf("failed to seal private keys: %w", err)
	}
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Metadata(tx).SetPrivateKeys(ctx, sealed)
	})
}

func (s *Store) setPrivateKey(ctx context.Context, key string, set func(ctx context.Context, tx dbx.DBTX, v string) error) error {
	sealed, err := s.secrets().seal(key)
	if err != nil {
		return fmt.Errorf("failed to seal private key: %w", err)
	}
	return s.updateMetadata(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return set(ctx, tx, sealed)
	})
}

func (s *Store) SetMasterPrivateKey(ctx context.Context, key string) error {
	return s.setPrivateKey(ctx, key, func(ctx context.Context, tx dbx.DBTX, v string) error {
		return s.repos.Metadata(tx).SetMasterPrivateKey(ctx, v)
	})
}

func (s *Store) SetSelfSignedPrivateKey(ctx context.Context, key string) error {
	return s.setPrivateKey(ctx, key, func(ctx context.Context, tx dbx.DBTX, v string) error {
		return s.repos.Metadata(tx).SetSelfSignedPrivateKey(ctx, v)
	})
}

func (s *Store) SetUserSigningPrivateKey(ctx context.Context, key string) error {
	return s.setPrivateKey(ctx, key, func(ctx context.Context, tx dbx.DBTX, v string) error {
		return s.repos.Metadata(tx).SetUserSigningPrivateKey(ctx, v)
	})
}
