package groupsessions

import "context"

// Record is a persisted inbound Megolm session.
type Record struct {
	SessionID       string
	SenderKey       string
	RoomID          string
	Data            []byte
	KeysClaimed     map[string]string
	ForwardingChain []string
	SharedHistory   bool
	BackedUp        bool
}

// Repository stores inbound group sessions keyed by (session id, sender key)
// together with the key-backup flag.
type Repository interface {
	// Upsert writes rec and clears its backed-up flag: new key material has
	// to be backed up again.
	Upsert(ctx context.Context, rec Record) error
	// Get returns nil, nil when nothing is stored.
	Get(ctx context.Context, sessionID, senderKey string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
	ListNotBackedUp(ctx context.Context, limit int) ([]Record, error)
	Delete(ctx context.Context, sessionID, senderKey string) error

	// MarkBackedUp reports whether a row matched.
	MarkBackedUp(ctx context.Context, sessionID, senderKey string) (bool, error)
	ResetBackedUp(ctx context.Context) error
	Count(ctx context.Context, onlyBackedUp bool) (int, error)
	Clear(ctx context.Context) error
}
