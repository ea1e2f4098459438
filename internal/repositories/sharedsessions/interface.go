package sharedsessions

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository records which devices an outbound session was sent to, one
// row per (room, session, user, device).
type Repository interface {
	Upsert(ctx context.Context, s *models.SharedSession) error
	// Get returns nil, nil when the session was not shared with the device.
	Get(ctx context.Context, roomID, sessionID, userID, deviceID string) (*models.SharedSession, error)
	ListForSession(ctx context.Context, roomID, sessionID string) ([]models.SharedSession, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
