package olmsessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO olm_sessions (session_id, device_key, session, last_received_message_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, device_key) DO UPDATE SET
			session = excluded.session,
			last_received_message_ts = excluded.last_received_message_ts
	`, rec.SessionID, rec.DeviceKey, rec.Data, rec.LastReceivedMessageTs)
	if err != nil {
		return fmt.Errorf("failed to upsert olm session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, sessionID, deviceKey string) (*Record, error) {
	rec := Record{SessionID: sessionID, DeviceKey: deviceKey}
	err := r.db.QueryRowContext(ctx, `
		SELECT session, last_received_message_ts FROM olm_sessions
		WHERE session_id = ? AND device_key = ?
	`, sessionID, deviceKey).Scan(&rec.Data, &rec.LastReceivedMessageTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get olm session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// LastUsedSessionID breaks timestamp ties with the greatest session id so the
// answer does not depend on row order.
func (r *SQLiteRepository) LastUsedSessionID(ctx context.Context, deviceKey string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id FROM olm_sessions
		WHERE device_key = ?
		ORDER BY last_received_message_ts DESC, session_id DESC
		LIMIT 1
	`, deviceKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last used session: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) SessionIDsForDevice(ctx context.Context, deviceKey string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id FROM olm_sessions WHERE device_key = ? ORDER BY session_id
	`, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session ids: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) ListForDevice(ctx context.Context, deviceKey string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, session, last_received_message_ts FROM olm_sessions
		WHERE device_key = ?
		ORDER BY last_received_message_ts DESC, session_id DESC
	`, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list olm sessions: %w", err)
	}
	defer rows.Close()

	result := make([]Record, 0)
	for rows.Next() {
		rec := Record{DeviceKey: deviceKey}
		if err := rows.Scan(&rec.SessionID, &rec.Data, &rec.LastReceivedMessageTs); err != nil {
			return nil, fmt.Errorf("failed to scan olm session: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate olm sessions: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "olm_sessions")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM olm_sessions`); err != nil {
		return fmt.Errorf("failed to clear olm sessions: %w", err)
	}
	return nil
}
