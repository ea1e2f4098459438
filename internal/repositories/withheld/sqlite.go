package withheld

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

func (r *SQLiteRepository) Upsert(ctx context.Context, w *models.WithheldSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO withheld_sessions (room_id, session_id, algorithm, sender_key, code, reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, session_id) DO UPDATE SET
			algorithm = excluded.algorithm,
			sender_key = excluded.sender_key,
			code = excluded.code,
			reason = excluded.reason
	`, w.RoomID, w.SessionID, w.Algorithm, w.SenderKey, string(w.Code), dbx.NullString(w.Reason))
	if err != nil {
		return fmt.Errorf("failed to upsert withheld session %s: %w", w.SessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, roomID, sessionID string) (*models.WithheldSession, error) {
	var (
		w      = models.WithheldSession{RoomID: roomID, SessionID: sessionID}
		code   string
		reason sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT algorithm, sender_key, code, reason FROM withheld_sessions
		WHERE room_id = ? AND session_id = ?
	`, roomID, sessionID).Scan(&w.Algorithm, &w.SenderKey, &code, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withheld session %s: %w", sessionID, err)
	}
	w.Code = models.WithheldCode(code)
	w.Reason = reason.String
	return &w, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "withheld_sessions")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM withheld_sessions`); err != nil {
		return fmt.Errorf("failed to clear withheld sessions: %w", err)
	}
	return nil
}
