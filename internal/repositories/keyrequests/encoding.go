package keyrequests

import (
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

// Persisted state values. They belong to the file format and are mapped
// explicitly so reordering the Go constants cannot change stored meaning.
var (
	outgoingStates = map[models.OutgoingRequestState]int{
		models.OutgoingUnsent:                           0,
		models.OutgoingSent:                             1,
		models.OutgoingCancellationPending:              2,
		models.OutgoingCancellationPendingAndWillResend: 3,
	}
	incomingStates = map[models.IncomingRequestState]int{
		models.IncomingNone:      0,
		models.IncomingRequested: 1,
		models.IncomingAccepted:  2,
		models.IncomingRejected:  3,
	}
)

// Incoming request kinds.
const (
	typeRoomKey = 0
	typeSecret  = 1
)

func encodeOutgoing(s models.OutgoingRequestState) (int, error) {
	v, ok := outgoingStates[s]
	if !ok {
		return 0, fmt.Errorf("%w: outgoing state %d", common.ErrMalformedRecord, int(s))
	}
	return v, nil
}

func decodeOutgoing(v int) (models.OutgoingRequestState, error) {
	for s, stored := range outgoingStates {
		if stored == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: stored outgoing state %d", common.ErrMalformedRecord, v)
}

func encodeIncoming(s models.IncomingRequestState) (int, error) {
	v, ok := incomingStates[s]
	if !ok {
		return 0, fmt.Errorf("%w: incoming state %d", common.ErrMalformedRecord, int(s))
	}
	return v, nil
}

func decodeIncoming(v int) (models.IncomingRequestState, error) {
	for s, stored := range incomingStates {
		if stored == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: stored incoming state %d", common.ErrMalformedRecord, v)
}
