package models

import "fmt"

// Key algorithm prefixes used in device key maps ("curve25519:DEVICEID").
const (
	KeyCurve25519 = "curve25519"
	KeyEd25519    = "ed25519"
)

// DeviceInfo is one device of a Matrix user as published in /keys/query,
// plus the local verification state.
type DeviceInfo struct {
	UserID     string                       `json:"user_id"`
	DeviceID   string                       `json:"device_id"`
	Algorithms []string                     `json:"algorithms,omitempty"`
	Keys       map[string]string            `json:"keys,omitempty"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
	Unsigned   map[string]any               `json:"unsigned,omitempty"`
	TrustLevel *TrustLevel                  `json:"trust_level,omitempty"`
	IsBlocked  bool                         `json:"blocked,omitempty"`

	// FirstTimeSeenLocalTs is set by the store on first insert, in ms.
	FirstTimeSeenLocalTs int64 `json:"first_time_seen_ts,omitempty"`
}

func KeyID(algorithm, id string) string {
	return fmt.Sprintf("%s:%s", algorithm, id)
}

// IdentityKey is the device's curve25519 key, empty if not published.
func (d *DeviceInfo) IdentityKey() string {
	return d.Keys[KeyID(KeyCurve25519, d.DeviceID)]
}

// FingerprintKey is the device's ed25519 key, empty if not published.
func (d *DeviceInfo) FingerprintKey() string {
	return d.Keys[KeyID(KeyEd25519, d.DeviceID)]
}

func (d *DeviceInfo) IsVerified() bool {
	return d.TrustLevel.IsVerified()
}

// DisplayName reads the display name from the unsigned section.
func (d *DeviceInfo) DisplayName() string {
	if name, ok := d.Unsigned["device_display_name"].(string); ok {
		return name
	}
	return ""
}

// TrackingStatus drives the device-list refresh scheduler of the engine.
type TrackingStatus int

const (
	TrackingStatusNotTracked TrackingStatus = iota
	TrackingStatusPendingDownload
	TrackingStatusDownloadInProgress
	TrackingStatusUpToDate
	TrackingStatusUnreachable
)

func (s TrackingStatus) String() string {
	switch s {
	case TrackingStatusNotTracked:
		return "not_tracked"
	case TrackingStatusPendingDownload:
		return "pending_download"
	case TrackingStatusDownloadInProgress:
		return "download_in_progress"
	case TrackingStatusUpToDate:
		return "up_to_date"
	case TrackingStatusUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("tracking_status(%d)", int(s))
	}
}
