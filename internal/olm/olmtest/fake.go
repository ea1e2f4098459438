// Package olmtest provides an in-memory stand-in for the native Olm library.
// Handles count their Release calls so tests can check release discipline.
package olmtest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/cryptostore/internal/olm"
)

const (
	kindSession      = "session"
	kindGroupSession = "group"
	kindAccount      = "account"
	kindOutbound     = "outbound"
)

var ErrCorrupt = errors.New("corrupt pickle")

// Handle implements every olm handle interface.
type Handle struct {
	kind    string
	ID      string
	Payload string

	// FailSerialize makes Serialize return an error.
	FailSerialize bool

	releases atomic.Int32
}

func NewSession(id, payload string) *Handle {
	return &Handle{kind: kindSession, ID: id, Payload: payload}
}

func NewGroupSession(id, payload string) *Handle {
	return &Handle{kind: kindGroupSession, ID: id, Payload: payload}
}

func NewOutboundGroupSession(id, payload string) *Handle {
	return &Handle{kind: kindOutbound, ID: id, Payload: payload}
}

func NewAccount(payload string) *Handle {
	return &Handle{kind: kindAccount, ID: "account", Payload: payload}
}

func (h *Handle) SessionID() string { return h.ID }

func (h *Handle) Release() { h.releases.Add(1) }

// Releases is the number of Release calls so far.
func (h *Handle) Releases() int { return int(h.releases.Load()) }

func (h *Handle) Serialize() ([]byte, error) {
	if h.FailSerialize {
		return nil, fmt.Errorf("serialize %s: %w", h.ID, ErrCorrupt)
	}
	return []byte(strings.Join([]string{h.kind, h.ID, h.Payload}, "|")), nil
}

// Codec decodes blobs written by Handle.Serialize and remembers every handle
// it created.
type Codec struct {
	mu      sync.Mutex
	decoded []*Handle
}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) decode(kind string, data []byte) (*Handle, error) {
	parts := strings.SplitN(string(data), "|", 3)
	if len(parts) != 3 || parts[0] != kind {
		return nil, fmt.Errorf("decode %s: %w", kind, ErrCorrupt)
	}

	h := &Handle{kind: kind, ID: parts[1], Payload: parts[2]}
	c.mu.Lock()
	c.decoded = append(c.decoded, h)
	c.mu.Unlock()
	return h, nil
}

func (c *Codec) DecodeSession(data []byte) (olm.Session, error) {
	h, err := c.decode(kindSession, data)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Codec) DecodeInboundGroupSession(data []byte) (olm.InboundGroupSession, error) {
	h, err := c.decode(kindGroupSession, data)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Codec) DecodeAccount(data []byte) (olm.Account, error) {
	h, err := c.decode(kindAccount, data)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Codec) DecodeOutboundGroupSession(data []byte) (olm.OutboundGroupSession, error) {
	h, err := c.decode(kindOutbound, data)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Decoded returns the handles created so far, oldest first.
func (c *Codec) Decoded() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Handle, len(c.decoded))
	copy(out, c.decoded)
	return out
}

// CorruptBlob is a blob no codec call accepts.
func CorruptBlob() []byte {
	return []byte("not-a-pickle")
}
