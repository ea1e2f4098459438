package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (*models.Metadata, error) {
	var (
		m                                     models.Metadata
		blacklist                             int
		backup, recKey, recVersion, syncToken sql.NullString
		master, selfSigned, userSigning       sql.NullString
		keysUploaded                          int
		backupHash                            sql.NullString
		backupKeyCount                        sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, device_id, olm_account, global_blacklist_unverified,
		       backup_version, recovery_key, recovery_key_version, device_sync_token,
		       xsign_master_private_key, xsign_self_signed_private_key, xsign_user_signing_private_key,
		       secret_salt, secret_verifier,
		       device_keys_uploaded, backup_last_server_hash, backup_last_server_key_count
		FROM crypto_metadata WHERE id = 1`).
		Scan(&m.UserID, &m.DeviceID, &m.OlmAccount, &blacklist,
			&backup, &recKey, &recVersion, &syncToken,
			&master, &selfSigned, &userSigning,
			&m.SecretSalt, &m.SecretVerifier,
			&keysUploaded, &backupHash, &backupKeyCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	m.GlobalBlacklistUnverified = blacklist != 0
	m.BackupVersion = backup.String
	m.RecoveryKey = recKey.String
	m.RecoveryKeyVersion = recVersion.String
	m.DeviceSyncToken = syncToken.String
	m.PrivateKeys = models.PrivateKeysInfo{
		Master:      master.String,
		SelfSigned:  selfSigned.String,
		UserSigning: userSigning.String,
	}
	m.DeviceKeysUploaded = keysUploaded != 0
	if backupHash.Valid || backupKeyCount.Valid {
		m.KeysBackupData = &models.KeysBackupData{
			LastServerHash:     backupHash.String,
			LastServerKeyCount: int(backupKeyCount.Int64),
		}
	}
	return &m, nil
}

func (r *SQLiteRepository) GetIdentity(ctx context.Context) (*models.Identity, error) {
	var id models.Identity
	err := r.db.QueryRowContext(ctx, `SELECT user_id, device_id FROM crypto_metadata WHERE id = 1`).
		Scan(&id.UserID, &id.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &id, nil
}

// Create inserts the row, replacing any previous one.
func (r *SQLiteRepository) Create(ctx context.Context, userID, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO crypto_metadata (id, user_id, device_id) VALUES (1, ?, ?)
	`, userID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM crypto_metadata`)
	if err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

// update runs an UPDATE of the singleton row. Updating a store without
// metadata fails with common.ErrorIncorrectMetadata instead of doing nothing.
func (r *SQLiteRepository) update(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to set %s: %w", what, common.ErrorIncorrectMetadata)
	}
	return nil
}

// set updates one column. column is always a constant from this file.
func (r *SQLiteRepository) set(ctx context.Context, column string, value any) error {
	return r.update(ctx, "metadata["+column+"]", `UPDATE crypto_metadata SET `+column+` = ? WHERE id = 1`, value)
}

func (r *SQLiteRepository) SetOlmAccount(ctx context.Context, data []byte) error {
	return r.set(ctx, "olm_account", data)
}

func (r *SQLiteRepository) SetGlobalBlacklistUnverified(ctx context.Context, block bool) error {
	return r.set(ctx, "global_blacklist_unverified", block)
}

func (r *SQLiteRepository) SetBackupVersion(ctx context.Context, version string) error {
	return r.set(ctx, "backup_version", dbx.NullString(version))
}

func (r *SQLiteRepository) SetRecoveryKey(ctx context.Context, key, version string) error {
	return r.update(ctx, "recovery key", `
		UPDATE crypto_metadata SET recovery_key = ?, recovery_key_version = ? WHERE id = 1
	`, dbx.NullString(key), dbx.NullString(version))
}

func (r *SQLiteRepository) SetDeviceSyncToken(ctx context.Context, token string) error {
	return r.set(ctx, "device_sync_token", dbx.NullString(token))
}

func (r *SQLiteRepository) SetPrivateKeys(ctx context.Context, keys models.PrivateKeysInfo) error {
	return r.update(ctx, "private keys", `
		UPDATE crypto_metadata
		SET xsign_master_private_key = ?, xsign_self_signed_private_key = ?, xsign_user_signing_private_key = ?
		WHERE id = 1
	`, dbx.NullString(keys.Master), dbx.NullString(keys.SelfSigned), dbx.NullString(keys.UserSigning))
}

func (r *SQLiteRepository) SetMasterPrivateKey(ctx context.Context, key string) error {
	return r.set(ctx, "xsign_master_private_key", dbx.NullString(key))
}

func (r *SQLiteRepository) SetSelfSignedPrivateKey(ctx context.Context, key string) error {
	return r.set(ctx, "xsign_self_signed_private_key", dbx.NullString(key))
}

func (r *SQLiteRepository) SetUserSigningPrivateKey(ctx context.Context, key string) error {
	return r.set(ctx, "xsign_user_signing_private_key", dbx.NullString(key))
}

func (r *SQLiteRepository) SetSecretSealing(ctx context.Context, salt, verifier []byte) error {
	return r.update(ctx, "secret sealing", `
		UPDATE crypto_metadata SET secret_salt = ?, secret_verifier = ? WHERE id = 1
	`, salt, verifier)
}

func (r *SQLiteRepository) SetDeviceKeysUploaded(ctx context.Context, uploaded bool) error {
	return r.set(ctx, "device_keys_uploaded", uploaded)
}

// SetKeysBackupData stores data, or clears it when data is nil.
func (r *SQLiteRepository) SetKeysBackupData(ctx context.Context, data *models.KeysBackupData) error {
	var (
		hash  sql.NullString
		count sql.NullInt64
	)
	if data != nil {
		hash = sql.NullString{String: data.LastServerHash, Valid: true}
		count = sql.NullInt64{Int64: int64(data.LastServerKeyCount), Valid: true}
	}
	return r.update(ctx, "keys backup data", `
		UPDATE crypto_metadata SET backup_last_server_hash = ?, backup_last_server_key_count = ? WHERE id = 1
	`, hash, count)
}
