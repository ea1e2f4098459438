// Package olm is the boundary between the store and the native Olm/Megolm
// library. The store never runs the ratchets itself: it persists what a
// Handle serializes and asks a Codec to turn blobs back into live handles.
//
// Handles wrap memory the Go runtime does not manage. Every handle must be
// released exactly once; the store's session cache owns the handles it
// hands out and releases them on replacement, removal and Close.
package olm

// Handle is a live native object.
type Handle interface {
	// Release frees the native memory. It is called at most once.
	Release()
	// Serialize returns the persisted (pickled) form.
	Serialize() ([]byte, error)
}

// Session is a one-to-one Olm session.
type Session interface {
	Handle
	SessionID() string
}

// InboundGroupSession is a Megolm session used to decrypt room messages.
type InboundGroupSession interface {
	Handle
	SessionID() string
}

// OutboundGroupSession is a Megolm session used to encrypt this device's
// messages in one room.
type OutboundGroupSession interface {
	Handle
	SessionID() string
}

// Account is the device's Olm account (identity keys, one-time keys).
type Account interface {
	Handle
}

// Codec rebuilds live handles from persisted blobs.
type Codec interface {
	DecodeSession(data []byte) (Session, error)
	DecodeInboundGroupSession(data []byte) (InboundGroupSession, error)
	DecodeAccount(data []byte) (Account, error)
	DecodeOutboundGroupSession(data []byte) (OutboundGroupSession, error)
}

// OlmSession pairs a session with the curve25519 identity key of the remote
// device it talks to.
type OlmSession struct {
	Handle                Session
	DeviceKey             string
	LastReceivedMessageTs int64 // ms
}

func (s *OlmSession) SessionID() string {
	if s == nil || s.Handle == nil {
		return ""
	}
	return s.Handle.SessionID()
}

// Release frees the underlying handle.
func (s *OlmSession) Release() {
	if s != nil && s.Handle != nil {
		s.Handle.Release()
	}
}

// SameOlmSession reports whether a and b wrap the same native object.
func SameOlmSession(a, b *OlmSession) bool {
	return a != nil && b != nil && a.Handle == b.Handle
}

// GroupSession is an inbound Megolm session with the data the engine needs
// to decrypt and share it.
type GroupSession struct {
	Handle          InboundGroupSession
	SenderKey       string
	RoomID          string
	KeysClaimed     map[string]string
	ForwardingChain []string
	SharedHistory   bool
}

func (g *GroupSession) SessionID() string {
	if g == nil || g.Handle == nil {
		return ""
	}
	return g.Handle.SessionID()
}

func (g *GroupSession) Release() {
	if g != nil && g.Handle != nil {
		g.Handle.Release()
	}
}

func SameGroupSession(a, b *GroupSession) bool {
	return a != nil && b != nil && a.Handle == b.Handle
}

// OutboundSession is the current outbound session of a room. The caller
// that receives one owns its handle.
type OutboundSession struct {
	Handle        OutboundGroupSession
	CreatedAt     int64 // ms
	SharedHistory bool
}

func (o *OutboundSession) SessionID() string {
	if o == nil || o.Handle == nil {
		return ""
	}
	return o.Handle.SessionID()
}

func (o *OutboundSession) Release() {
	if o != nil && o.Handle != nil {
		o.Handle.Release()
	}
}
