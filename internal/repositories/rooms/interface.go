package rooms

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// OutboundSession is the serialized current outbound Megolm session of a room.
type OutboundSession struct {
	RoomID        string
	Data          []byte
	CreatedAt     int64 // ms
	SharedHistory bool
}

// Repository stores per-room encryption settings.
type Repository interface {
	// Get returns nil, nil for a room without settings.
	Get(ctx context.Context, roomID string) (*models.RoomSettings, error)
	SetAlgorithm(ctx context.Context, roomID, algorithm string) error
	SetBlacklistUnverified(ctx context.Context, roomID string, block bool) error
	SetShouldEncryptForInvited(ctx context.Context, roomID string, encrypt bool) error
	SetShouldShareHistory(ctx context.Context, roomID string, share bool) error

	SetOutboundSession(ctx context.Context, roomID string, data []byte, createdAt int64) error
	ClearOutboundSession(ctx context.Context, roomID string) error
	// GetOutboundSession returns nil, nil when the room has no current session.
	GetOutboundSession(ctx context.Context, roomID string) (*OutboundSession, error)

	RoomsWithAlgorithm(ctx context.Context, algorithm string) ([]string, error)
	RoomsWithBlacklistUnverified(ctx context.Context) ([]string, error)

	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
