package keyrequests

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Repository stores gossiping requests in both directions. Rows that do not
// decode are reported as common.ErrMalformedRecord by single-row lookups and
// skipped by list queries.
type Repository interface {
	// UpsertOutgoing replaces the request with the same request id.
	UpsertOutgoing(ctx context.Context, req *models.OutgoingKeyRequest) error
	GetOutgoing(ctx context.Context, requestID string) (*models.OutgoingKeyRequest, error)
	FindOutgoingByBody(ctx context.Context, body models.RoomKeyRequestBody) (*models.OutgoingKeyRequest, error)
	FindOutgoingBySecret(ctx context.Context, secretName string) (*models.OutgoingKeyRequest, error)
	// ListOutgoingByState returns matches oldest first.
	ListOutgoingByState(ctx context.Context, states ...models.OutgoingRequestState) ([]*models.OutgoingKeyRequest, error)
	DeleteOutgoing(ctx context.Context, requestID string) error
	// DeleteOutgoingCreatedBefore returns the number of removed requests.
	DeleteOutgoingCreatedBefore(ctx context.Context, ts int64) (int64, error)

	// ReplaceIncoming deletes any request with the same key, then inserts.
	ReplaceIncoming(ctx context.Context, req *models.IncomingKeyRequest) error
	DeleteIncoming(ctx context.Context, userID, deviceID, requestID string) error
	GetIncoming(ctx context.Context, userID, deviceID, requestID string) (*models.IncomingKeyRequest, error)
	ListIncomingByState(ctx context.Context, state models.IncomingRequestState) ([]*models.IncomingKeyRequest, error)

	CountOutgoing(ctx context.Context) (int, error)
	CountIncoming(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
