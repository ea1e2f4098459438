package models

import "fmt"

// RoomKeyRequestBody identifies a Megolm session asked for by a gossiping
// request. Bodies are compared by value.
type RoomKeyRequestBody struct {
	Algorithm string `json:"algorithm"`
	RoomID    string `json:"room_id"`
	SenderKey string `json:"sender_key"`
	SessionID string `json:"session_id"`
}

// Valid reports whether every field needed for matching is set.
func (b RoomKeyRequestBody) Valid() bool {
	return b.Algorithm != "" && b.RoomID != "" && b.SenderKey != "" && b.SessionID != ""
}

// OutgoingRequestState is the lifecycle of a request sent by this device.
//
//	Unsent -> Sent -> CancellationPending | CancellationPendingAndWillResend
//	Cancellation* -> Unsent | Sent (on resend)
//
// A request ends by deletion.
type OutgoingRequestState int

const (
	OutgoingUnsent OutgoingRequestState = iota
	OutgoingSent
	OutgoingCancellationPending
	OutgoingCancellationPendingAndWillResend
)

func (s OutgoingRequestState) String() string {
	switch s {
	case OutgoingUnsent:
		return "unsent"
	case OutgoingSent:
		return "sent"
	case OutgoingCancellationPending:
		return "cancellation_pending"
	case OutgoingCancellationPendingAndWillResend:
		return "cancellation_pending_and_will_resend"
	default:
		return fmt.Sprintf("outgoing_state(%d)", int(s))
	}
}

// CanTransition reports whether s may move to next. Staying put is allowed.
func (s OutgoingRequestState) CanTransition(next OutgoingRequestState) bool {
	if s == next {
		return true
	}
	switch s {
	case OutgoingUnsent:
		return next == OutgoingSent
	case OutgoingSent:
		return next == OutgoingCancellationPending || next == OutgoingCancellationPendingAndWillResend
	case OutgoingCancellationPending, OutgoingCancellationPendingAndWillResend:
		return next == OutgoingUnsent || next == OutgoingSent
	default:
		return false
	}
}

// OutgoingKeyRequest asks other devices for a room key (RequestBody set) or
// for a secret (SecretName set), never both.
type OutgoingKeyRequest struct {
	RequestID         string
	RequestBody       *RoomKeyRequestBody
	SecretName        string
	Recipients        map[string][]string // user id -> device ids
	CancellationTxnID string
	State             OutgoingRequestState
	CreatedAt         int64 // ms
}

func (r *OutgoingKeyRequest) IsSecretRequest() bool {
	return r.RequestBody == nil && r.SecretName != ""
}

// Valid reports whether exactly one of the two variants is set.
func (r *OutgoingKeyRequest) Valid() bool {
	if r.RequestBody != nil {
		return r.SecretName == "" && r.RequestBody.Valid()
	}
	return r.SecretName != ""
}

// IncomingRequestState is the lifecycle of a request received from another
// device: None -> Requested -> Accepted | Rejected.
type IncomingRequestState int

const (
	IncomingNone IncomingRequestState = iota
	IncomingRequested
	IncomingAccepted
	IncomingRejected
)

func (s IncomingRequestState) String() string {
	switch s {
	case IncomingNone:
		return "none"
	case IncomingRequested:
		return "requested"
	case IncomingAccepted:
		return "accepted"
	case IncomingRejected:
		return "rejected"
	default:
		return fmt.Sprintf("incoming_state(%d)", int(s))
	}
}

func (s IncomingRequestState) CanTransition(next IncomingRequestState) bool {
	if s == next {
		return true
	}
	switch s {
	case IncomingNone:
		return next == IncomingRequested
	case IncomingRequested:
		return next == IncomingAccepted || next == IncomingRejected
	default:
		return false
	}
}

// IncomingKeyRequest is keyed by (UserID, DeviceID, RequestID).
type IncomingKeyRequest struct {
	UserID      string
	DeviceID    string
	RequestID   string
	RequestBody *RoomKeyRequestBody
	SecretName  string
	State       IncomingRequestState
	CreatedAt   int64 // ms
}

func (r *IncomingKeyRequest) IsSecretRequest() bool {
	return r.RequestBody == nil && r.SecretName != ""
}
