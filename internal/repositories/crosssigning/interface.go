package crosssigning

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository stores cross-signing public keys, one row per (user, slot).
// The slot is the key's primary usage (models.CrossSigningKey.Slot).
type Repository interface {
	UpsertKey(ctx context.Context, key *models.CrossSigningKey) error
	// DeleteSlotsExcept removes the user's keys whose slot is not in keep.
	DeleteSlotsExcept(ctx context.Context, userID string, keep []string) error
	DeleteUser(ctx context.Context, userID string) error

	// Get returns nil, nil when the user has no keys.
	Get(ctx context.Context, userID string) (*models.CrossSigningInfo, error)
	UserIDs(ctx context.Context) ([]string, error)

	// SetUserTrust sets the trust of every key of the user.
	SetUserTrust(ctx context.Context, userID string, trust *models.TrustLevel) error
	// SetSlotTrust reports whether the slot exists.
	SetSlotTrust(ctx context.Context, userID, slot string, trust *models.TrustLevel) (bool, error)
	// ClearTrustExcept drops the trust of every user other than userID.
	ClearTrustExcept(ctx context.Context, userID string) error

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
