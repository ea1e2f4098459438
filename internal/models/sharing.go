package models

// Megolm is the algorithm of room sessions.
const Megolm = "m.megolm.v1.aes-sha2"

// WithheldCode is the reason code of an m.room_key.withheld event.
type WithheldCode string

const (
	WithheldBlacklisted  WithheldCode = "m.blacklisted"
	WithheldUnverified   WithheldCode = "m.unverified"
	WithheldUnauthorised WithheldCode = "m.unauthorised"
	WithheldUnavailable  WithheldCode = "m.unavailable"
	WithheldNoOlm        WithheldCode = "m.no_olm"
)

// WithheldSession records that the sender of a Megolm session refused to
// share it with this device.
type WithheldSession struct {
	RoomID    string       `json:"room_id"`
	SessionID string       `json:"session_id"`
	Algorithm string       `json:"algorithm"`
	SenderKey string       `json:"sender_key"`
	Code      WithheldCode `json:"code"`
	Reason    string       `json:"reason,omitempty"`
}

// SharedSession records the first chain index of an outbound session sent
// to one device.
type SharedSession struct {
	RoomID            string
	SessionID         string
	UserID            string
	DeviceID          string
	DeviceIdentityKey string
	ChainIndex        int
}

// KeysBackupData is what the server reported for the backup at the last
// successful round-trip.
type KeysBackupData struct {
	LastServerHash     string
	LastServerKeyCount int
}
