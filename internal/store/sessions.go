package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/olmsessions"
)

// PutSession stores an Olm session, overwriting the one with the same
// session id and device key, and caches its handle.
func (s *Store) PutSession(ctx context.Context, sess *olm.OlmSession) error {
	id := sess.SessionID()
	if id == "" || sess.DeviceKey == "" {
		return fmt.Errorf("%w: olm session without id or device key", common.ErrMalformedRecord)
	}
	data, err := sess.Handle.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize olm session %s: %w", id, err)
	}

	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.OlmSessions(tx).Upsert(ctx, olmsessions.Record{
			SessionID:             id,
			DeviceKey:             sess.DeviceKey,
			Data:                  data,
			LastReceivedMessageTs: sess.LastReceivedMessageTs,
		})
	})
	if err != nil {
		return err
	}

	s.sessions.Put(sessionKey{id, sess.DeviceKey}, sess)
	return nil
}

func (s *Store) decodeSession(ctx context.Context, rec *olmsessions.Record) (*olm.OlmSession, bool) {
	handle, err := s.codec.DecodeSession(rec.Data)
	if err != nil {
		s.log.Warn(ctx, "failed to decode olm session",
			"session_id", rec.SessionID, "device_key", rec.DeviceKey, "err", err)
		return nil, false
	}
	return &olm.OlmSession{
		Handle:                handle,
		DeviceKey:             rec.DeviceKey,
		LastReceivedMessageTs: rec.LastReceivedMessageTs,
	}, true
}

// GetSession returns the cached session, loading it on first use. It returns
// nil when the session is unknown or its stored form does not decode.
func (s *Store) GetSession(ctx context.Context, sessionID, deviceKey string) (*olm.OlmSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	sess, _, err := s.sessions.GetOrLoad(sessionKey{sessionID, deviceKey}, func() (*olm.OlmSession, bool, error) {
		rec, err := s.repos.OlmSessions(db).Get(ctx, sessionID, deviceKey)
		if err != nil || rec == nil {
			return nil, false, err
		}
		sess, ok := s.decodeSession(ctx, rec)
		return sess, ok, nil
	})
	return sess, cacheErr(err)
}

// LastUsedSessionID returns the session that most recently received a
// message from deviceKey. Ties go to the greatest session id.
func (s *Store) LastUsedSessionID(ctx context.Context, deviceKey string) (string, error) {
	db, err := s.reader()
	if err != nil {
		return "", err
	}
	return s.repos.OlmSessions(db).LastUsedSessionID(ctx, deviceKey)
}

func (s *Store) SessionIDsForDevice(ctx context.Context, deviceKey string) ([]string, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.OlmSessions(db).SessionIDsForDevice(ctx, deviceKey)
}

// SessionsForDevice returns every decodable session with deviceKey, most
// recently used first. The handles are cached and owned by the store.
func (s *Store) SessionsForDevice(ctx context.Context, deviceKey string) ([]*olm.OlmSession, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := s.repos.OlmSessions(db).ListForDevice(ctx, deviceKey)
	if err != nil {
		return nil, err
	}

	result := make([]*olm.OlmSession, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		sess, ok, err := s.sessions.GetOrLoad(sessionKey{rec.SessionID, deviceKey}, func() (*olm.OlmSession, bool, error) {
			sess, ok := s.decodeSession(ctx, rec)
			return sess, ok, nil
		})
		if err != nil {
			return nil, cacheErr(err)
		}
		if ok {
			result = append(result, sess)
		}
	}
	return result, nil
}
