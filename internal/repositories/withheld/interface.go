package withheld

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository stores withheld notices, one per (room, session).
type Repository interface {
	Upsert(ctx context.Context, w *models.WithheldSession) error
	// Get returns nil, nil when the session was not withheld.
	Get(ctx context.Context, roomID, sessionID string) (*models.WithheldSession, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
