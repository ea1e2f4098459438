package sharedsessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, s *models.SharedSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shared_sessions (room_id, session_id, user_id, device_id, device_identity_key, chain_index)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, session_id, user_id, device_id) DO UPDATE SET
			device_identity_key = excluded.device_identity_key,
			chain_index = excluded.chain_index
	`, s.RoomID, s.SessionID, s.UserID, s.DeviceID, s.DeviceIdentityKey, s.ChainIndex)
	if err != nil {
		return fmt.Errorf("failed to record session %s shared with %s/%s: %w", s.SessionID, s.UserID, s.DeviceID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, roomID, sessionID, userID, deviceID string) (*models.SharedSession, error) {
	s := models.SharedSession{RoomID: roomID, SessionID: sessionID, UserID: userID, DeviceID: deviceID}
	err := r.db.QueryRowContext(ctx, `
		SELECT device_identity_key, chain_index FROM shared_sessions
		WHERE room_id = ? AND session_id = ? AND user_id = ? AND device_id = ?
	`, roomID, sessionID, userID, deviceID).Scan(&s.DeviceIdentityKey, &s.ChainIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shared session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *SQLiteRepository) ListForSession(ctx context.Context, roomID, sessionID string) ([]models.SharedSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, device_id, device_identity_key, chain_index FROM shared_sessions
		WHERE room_id = ? AND session_id = ?
		ORDER BY user_id, device_id
	`, roomID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make([]models.SharedSession, 0)
	for rows.Next() {
		s := models.SharedSession{RoomID: roomID, SessionID: sessionID}
		if err := rows.Scan(&s.UserID, &s.DeviceID, &s.DeviceIdentityKey, &s.ChainIndex); err != nil {
			return nil, fmt.Errorf("failed to scan share of session %s: %w", sessionID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shares of session %s: %w", sessionID, err)
	}
	return out, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "shared_sessions")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM shared_sessions`); err != nil {
		return fmt.Errorf("failed to clear shared sessions: %w", err)
	}
	return nil
}
