package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
)

// AddWithheldSession records that the sender refused to share a session.
// Notices for algorithms other than Megolm are ignored.
func (s *Store) AddWithheldSession(ctx context.Context, w *models.WithheldSession) error {
	if w == nil || w.RoomID == "" || w.SessionID == "" {
		return fmt.Errorf("%w: withheld notice without room or session", common.ErrMalformedRecord)
	}
	if w.Algorithm != models.Megolm {
		s.log.Debug(ctx, "ignoring withheld notice", "algorithm", w.Algorithm, "session", w.SessionID)
		return nil
	}
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Withheld(tx).Upsert(ctx, w)
	})
}

// WithheldSession returns nil when no notice was received for the session.
func (s *Store) WithheldSession(ctx context.Context, roomID, sessionID string) (*models.WithheldSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Withheld(db).Get(ctx, roomID, sessionID)
}

// MarkSessionShared records that an outbound session was sent to a device
// starting at chainIndex. roomID may be empty.
func (s *Store) MarkSessionShared(ctx context.Context, roomID, sessionID, userID, deviceID, deviceIdentityKey string, chainIndex int) error {
	if sessionID == "" || userID == "" || deviceID == "" {
		return fmt.Errorf("%w: shared session without session, user or device", common.ErrMalformedRecord)
	}
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.SharedSessions(tx).Upsert(ctx, &models.SharedSession{
			RoomID:            roomID,
			SessionID:         sessionID,
			UserID:            userID,
			DeviceID:          deviceID,
			DeviceIdentityKey: deviceIdentityKey,
			ChainIndex:        chainIndex,
		})
	})
}

// SharedSessionInfo returns the chain index the session was shared with
// device at. A share recorded for a different identity key of the same
// device id does not count.
func (s *Store) SharedSessionInfo(ctx context.Context, roomID, sessionID string, device *models.DeviceInfo) (chainIndex int, found bool, err error) {
	if device == nil {
		return 0, false, nil
	}
	db, err := s.reader()
	if err != nil {
		return 0, false, err
	}
	shared, err := s.repos.SharedSessions(db).Get(ctx, roomID, sessionID, device.UserID, device.DeviceID)
	if err != nil || shared == nil {
		return 0, false, err
	}
	if shared.DeviceIdentityKey != device.IdentityKey() {
		return 0, false, nil
	}
	return shared.ChainIndex, true, nil
}

// SharedWith maps user id to device id to the chain index the session was
// shared at.
func (s *Store) SharedWith(ctx context.Context, roomID, sessionID string) (map[string]map[string]int, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	shares, err := s.repos.SharedSessions(db).ListForSession(ctx, roomID, sessionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int)
	for _, sh := range shares {
		if out[sh.UserID] == nil {
			out[sh.UserID] = make(map[string]int)
		}
		out[sh.UserID][sh.DeviceID] = sh.ChainIndex
	}
	return out, nil
}

// StoreCurrentOutboundGroupSession makes sess the room's current outbound
// session, stamped with the current time and the room's history sharing
// setting. A nil sess clears it. The caller keeps ownership of sess.
func (s *Store) StoreCurrentOutboundGroupSession(ctx context.Context, roomID string, sess olm.OutboundGroupSession) error {
	if sess == nil {
		return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			return s.repos.Rooms(tx).ClearOutboundSession(ctx, roomID)
		})
	}
	data, err := sess.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize outbound session of %s: %w", roomID, err)
	}
	createdAt := s.nowMillis()
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Rooms(tx).SetOutboundSession(ctx, roomID, data, createdAt)
	})
}

// CurrentOutboundGroupSession decodes the room's current outbound session.
// Every call returns a fresh handle the caller must release. It returns nil
// when there is none or the stored one does not decode.
func (s *Store) CurrentOutboundGroupSession(ctx context.Context, roomID string) (*olm.OutboundSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	rec, err := s.repos.Rooms(db).GetOutboundSession(ctx, roomID)
	if err != nil || rec == nil {
		return nil, err
	}
	h, err := s.codec.DecodeOutboundGroupSession(rec.Data)
	if err != nil {
		s.log.Warn(ctx, "failed to decode outbound group session", "room", roomID, "err", err)
		return nil, nil
	}
	return &olm.OutboundSession{Handle: h, CreatedAt: rec.CreatedAt, SharedHistory: rec.SharedHistory}, nil
}
