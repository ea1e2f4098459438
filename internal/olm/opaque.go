package olm

import "errors"

var errEmptyPickle = errors.New("empty pickle")

// Opaque is a handle over a pickle that has not been unpickled. Tools that
// only inspect a store use it in place of the native library: the blob is
// kept as is and written back unchanged. It has no session id.
type Opaque struct {
	data []byte
}

func (o *Opaque) Release() {}

func (o *Opaque) Serialize() ([]byte, error) {
	return o.data, nil
}

func (o *Opaque) SessionID() string { return "" }

// Size is the length of the pickle in bytes.
func (o *Opaque) Size() int { return len(o.data) }

// OpaqueCodec decodes every non-empty blob into an *Opaque.
type OpaqueCodec struct{}

func (OpaqueCodec) wrap(data []byte) (*Opaque, error) {
	if len(data) == 0 {
		return nil, errEmptyPickle
	}
	return &Opaque{data: append([]byte(nil), data...)}, nil
}

func (c OpaqueCodec) DecodeSession(data []byte) (Session, error) {
	o, err := c.wrap(data)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (c OpaqueCodec) DecodeInboundGroupSession(data []byte) (InboundGroupSession, error) {
	o, err := c.wrap(data)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (c OpaqueCodec) DecodeAccount(data []byte) (Account, error) {
	o, err := c.wrap(data)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (c OpaqueCodec) DecodeOutboundGroupSession(data []byte) (OutboundGroupSession, error) {
	o, err := c.wrap(data)
	if err != nil {
		return nil, err
	}
	return o, nil
}
