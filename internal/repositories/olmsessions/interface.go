package olmsessions

import "context"

// Record is a persisted Olm session.
type Record struct {
	SessionID             string
	DeviceKey             string
	Data                  []byte
	LastReceivedMessageTs int64
}

// Repository stores Olm sessions keyed by (session id, device key).
type Repository interface {
	Upsert(ctx context.Context, rec Record) error
	// Get returns nil, nil when nothing is stored.
	Get(ctx context.Context, sessionID, deviceKey string) (*Record, error)
	// LastUsedSessionID returns "" when the device has no session.
	LastUsedSessionID(ctx context.Context, deviceKey string) (string, error)
	SessionIDsForDevice(ctx context.Context, deviceKey string) ([]string, error)
	ListForDevice(ctx context.Context, deviceKey string) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
