package metadata

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository manages the singleton crypto_metadata row.
type Repository interface {
	// Get returns nil, nil when the row does not exist.
	Get(ctx context.Context) (*models.Metadata, error)
	// GetIdentity reads only the owner columns; nil, nil when no row exists.
	GetIdentity(ctx context.Context) (*models.Identity, error)
	Create(ctx context.Context, userID, deviceID string) error
	Clear(ctx context.Context) error

	SetOlmAccount(ctx context.Context, data []byte) error
	SetGlobalBlacklistUnverified(ctx context.Context, block bool) error
	SetBackupVersion(ctx context.Context, version string) error
	SetRecoveryKey(ctx context.Context, key, version string) error
	SetDeviceSyncToken(ctx context.Context, token string) error

	SetPrivateKeys(ctx context.Context, keys models.PrivateKeysInfo) error
	SetMasterPrivateKey(ctx context.Context, key string) error
	SetSelfSignedPrivateKey(ctx context.Context, key string) error
	SetUserSigningPrivateKey(ctx context.Context, key string) error

	SetSecretSealing(ctx context.Context, salt, verifier []byte) error

	SetDeviceKeysUploaded(ctx context.Context, uploaded bool) error
	// SetKeysBackupData clears the data when it is nil.
	SetKeysBackupData(ctx context.Context, data *models.KeysBackupData) error
}
