package store

import (
	"time"

	"github.com/dmitrijs2005/cryptostore/internal/logging"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
)

const (
	defaultBusyTimeout      = 5 * time.Second
	defaultRequestRetention = 7 * 24 * time.Hour
)

// Options configures Open. UserID and Codec are required.
type Options struct {
	// Path of the SQLite file. ":memory:" gives a throwaway store.
	Path string

	// Credentials the store is opened for. A store holding another
	// identity is wiped. An empty DeviceID accepts the stored one.
	UserID   string
	DeviceID string

	Codec  olm.Codec
	Logger logging.Logger

	// Passphrase enables sealing of the private cross-signing keys and the
	// backup recovery key. It must be the same on every open.
	Passphrase []byte

	BusyTimeout time.Duration
	// RequestRetention is how long TidyUp keeps outgoing key requests.
	RequestRetention time.Duration

	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = memoryPath
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.RequestRetention <= 0 {
		o.RequestRetention = defaultRequestRetention
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
