package devices

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository stores tracked users and their devices. A device row never
// exists without its users row.
type Repository interface {
	EnsureUser(ctx context.Context, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	// DeleteUser removes the user record and every device of the user.
	DeleteUser(ctx context.Context, userID string) error
	UserIDs(ctx context.Context) ([]string, error)

	// TrackingStatus reports ok=false for an unknown user.
	TrackingStatus(ctx context.Context, userID string) (status models.TrackingStatus, ok bool, err error)
	// SetTrackingStatus creates the user record if needed.
	SetTrackingStatus(ctx context.Context, userID string, status models.TrackingStatus) error
	AllTrackingStatuses(ctx context.Context) (map[string]models.TrackingStatus, error)

	// UpsertDevice keeps the stored first-seen timestamp of an existing row.
	UpsertDevice(ctx context.Context, d *models.DeviceInfo) error
	// GetDevice returns nil, nil when nothing is stored.
	GetDevice(ctx context.Context, userID, deviceID string) (*models.DeviceInfo, error)
	GetByIdentityKey(ctx context.Context, identityKey string) (*models.DeviceInfo, error)
	ListForUser(ctx context.Context, userID string) ([]*models.DeviceInfo, error)
	// DeleteDevicesExcept removes the user's devices whose ids are not in keep.
	DeleteDevicesExcept(ctx context.Context, userID string, keep []string) error

	// SetTrust and SetBlocked report whether the device exists.
	SetTrust(ctx context.Context, userID, deviceID string, trust *models.TrustLevel) (bool, error)
	SetBlocked(ctx context.Context, userID, deviceID string, blocked bool) (bool, error)
	// ResetTrust clears cross-signing trust on every trusted device of the
	// user and leaves local trust only on keepLocal.
	ResetTrust(ctx context.Context, userID, keepLocal string) error

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
