package models

// Metadata is the singleton record describing whose keys the store holds and
// the device-wide crypto settings.
type Metadata struct {
	UserID                    string
	DeviceID                  string
	OlmAccount                []byte
	GlobalBlacklistUnverified bool
	BackupVersion             string
	RecoveryKey               string
	RecoveryKeyVersion        string
	DeviceSyncToken           string
	PrivateKeys               PrivateKeysInfo
	SecretSalt                []byte
	SecretVerifier            []byte
	DeviceKeysUploaded        bool
	// KeysBackupData is nil until the first backup round-trip.
	KeysBackupData *KeysBackupData
}

func (m *Metadata) Identity() Identity {
	return Identity{UserID: m.UserID, DeviceID: m.DeviceID}
}

// Identity is the account a store belongs to.
type Identity struct {
	UserID   string
	DeviceID string
}

// Matches reports whether a store holding id belongs to userID and
// deviceID. An empty deviceID accepts any stored device.
func (id Identity) Matches(userID, deviceID string) bool {
	return id.UserID == userID && (deviceID == "" || id.DeviceID == deviceID)
}

func (id Identity) String() string {
	return id.UserID + "/" + id.DeviceID
}

// RoomSettings are the per-room encryption settings.
type RoomSettings struct {
	RoomID                  string
	Algorithm               string
	BlacklistUnverified     bool
	ShouldEncryptForInvited bool
	// ShouldShareHistory is copied into each outbound session created for
	// the room.
	ShouldShareHistory bool
}
