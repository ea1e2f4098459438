package store

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/groupsessions"
)

// PutGroupSessions stores a batch of inbound group sessions in one
// transaction. An item that cannot be stored is logged and skipped; the rest
// of the batch is still committed. Stored items are cached, so a different
// handle cached under the same key is released.
func (s *Store) PutGroupSessions(ctx context.Context, sessions []*olm.GroupSession) error {
	stored := make([]*olm.GroupSession, 0, len(sessions))

	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		stored = stored[:0]
		repo := s.repos.GroupSessions(tx)
		for _, gs := range sessions {
			id := gs.SessionID()
			if id == "" || gs.SenderKey == "" {
				s.log.Warn(ctx, "skipping group session without id or sender key")
				continue
			}
			data, err := gs.Handle.Serialize()
			if err != nil {
				s.log.Warn(ctx, "skipping group session that failed to serialize", "session_id", id, "err", err)
				continue
			}
			err = repo.Upsert(ctx, groupsessions.Record{
				SessionID:       id,
				SenderKey:       gs.SenderKey,
				RoomID:          gs.RoomID,
				Data:            data,
				KeysClaimed:     gs.KeysClaimed,
				ForwardingChain: gs.ForwardingChain,
				SharedHistory:   gs.SharedHistory,
			})
			if err != nil {
				s.log.Error(ctx, "skipping group session that failed to store", "session_id", id, "err", err)
				continue
			}
			stored = append(stored, gs)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, gs := range stored {
		s.groupSessions.Put(groupKey{gs.SessionID(), gs.SenderKey}, gs)
	}
	return nil
}

func (s *Store) decodeGroupSession(ctx context.Context, rec *groupsessions.Record) (*olm.GroupSession, bool) {
	handle, err := s.codec.DecodeInboundGroupSession(rec.Data)
	if err != nil {
		s.log.Warn(ctx, "failed to decode group session",
			"session_id", rec.SessionID, "sender_key", rec.SenderKey, "err", err)
		return nil, false
	}
	return &olm.GroupSession{
		Handle:          handle,
		SenderKey:       rec.SenderKey,
		RoomID:          rec.RoomID,
		KeysClaimed:     rec.KeysClaimed,
		ForwardingChain: rec.ForwardingChain,
		SharedHistory:   rec.SharedHistory,
	}, true
}

// GetGroupSession returns the cached session, loading it on first use. It
// returns nil when the session is unknown or does not decode.
func (s *Store) GetGroupSession(ctx context.Context, sessionID, senderKey string) (*olm.GroupSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	gs, _, err := s.groupSessions.GetOrLoad(groupKey{sessionID, senderKey}, func() (*olm.GroupSession, bool, error) {
		rec, err := s.repos.GroupSessions(db).Get(ctx, sessionID, senderKey)
		if errors.Is(err, common.ErrMalformedRecord) {
			s.log.Warn(ctx, "malformed group session row", "session_id", sessionID, "err", err)
			return nil, false, nil
		}
		if err != nil || rec == nil {
			return nil, false, err
		}
		gs, ok := s.decodeGroupSession(ctx, rec)
		return gs, ok, nil
	})
	return gs, cacheErr(err)
}

func (s *Store) decodeAll(ctx context.Context, recs []groupsessions.Record) []*olm.GroupSession {
	result := make([]*olm.GroupSession, 0, len(recs))
	for i := range recs {
		if gs, ok := s.decodeGroupSession(ctx, &recs[i]); ok {
			result = append(result, gs)
		}
	}
	return result
}

// AllGroupSessions decodes every stored group session. The handles are
// fresh, bypass the cache and must be released by the caller.
func (s *Store) AllGroupSessions(ctx context.Context) ([]*olm.GroupSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := s.repos.GroupSessions(db).List(ctx)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(ctx, recs), nil
}

// RemoveGroupSession releases the cached handle, then deletes the session.
func (s *Store) RemoveGroupSession(ctx context.Context, sessionID, senderKey string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.groupSessions.Remove(groupKey{sessionID, senderKey})
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.GroupSessions(tx).Delete(ctx, sessionID, senderKey)
	})
}

// MarkBackedUp flags sessions as uploaded to the key backup. Sessions that
// have no id or are not stored are logged and skipped.
func (s *Store) MarkBackedUp(ctx context.Context, sessions []*olm.GroupSession) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.GroupSessions(tx)
		for _, gs := range sessions {
			id := gs.SessionID()
			if id == "" || gs.SenderKey == "" {
				s.log.Warn(ctx, "cannot mark unidentified group session as backed up")
				continue
			}
			ok, err := repo.MarkBackedUp(ctx, id, gs.SenderKey)
			if err != nil {
				return err
			}
			if !ok {
				s.log.Warn(ctx, "cannot mark unknown group session as backed up", "session_id", id)
			}
		}
		return nil
	})
}

// ResetBackupMarkers clears the backed-up flag of every session, for example
// after switching to a new backup version.
func (s *Store) ResetBackupMarkers(ctx context.Context) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.GroupSessions(tx).ResetBackedUp(ctx)
	})
}

// SessionsNeedingBackup returns up to limit sessions not yet backed up. The
// handles bypass the cache and must be released by the caller.
func (s *Store) SessionsNeedingBackup(ctx context.Context, limit int) ([]*olm.GroupSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := s.repos.GroupSessions(db).ListNotBackedUp(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(ctx, recs), nil
}

func (s *Store) CountGroupSessions(ctx context.Context, onlyBackedUp bool) (int, error) {
	db, err := s.reader()
	if err != nil {
		return 0, err
	}
	return s.repos.GroupSessions(db).Count(ctx, onlyBackedUp)
}
