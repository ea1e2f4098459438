package rooms

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

func (r *SQLiteRepository) Get(ctx context.Context, roomID string) (*models.RoomSettings, error) {
	var (
		s         = models.RoomSettings{RoomID: roomID}
		algorithm sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT algorithm, blacklist_unverified, should_encrypt_for_invited, should_share_history
		FROM rooms WHERE room_id = ?
	`, roomID).Scan(&algorithm, &s.BlacklistUnverified, &s.ShouldEncryptForInvited, &s.ShouldShareHistory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	s.Algorithm = algorithm.String
	return &s, nil
}

// set upserts a single column of the room row. column is never user input.
func (r *SQLiteRepository) set(ctx context.Context, roomID, column string, value any) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, `+column+`) VALUES (?, ?)
		ON CONFLICT(room_id) DO UPDATE SET `+column+` = excluded.`+column,
		roomID, value)
	if err != nil {
		return fmt.Errorf("failed to set room[%s] of %s: %w", column, roomID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetAlgorithm(ctx context.Context, roomID, algorithm string) error {
	return r.set(ctx, roomID, "algorithm", dbx.NullString(algorithm))
}

func (r *SQLiteRepository) SetBlacklistUnverified(ctx context.Context, roomID string, block bool) error {
	return r.set(ctx, roomID, "blacklist_unverified", block)
}

func (r *SQLiteRepository) SetShouldEncryptForInvited(ctx context.Context, roomID string, encrypt bool) error {
	return r.set(ctx, roomID, "should_encrypt_for_invited", encrypt)
}

func (r *SQLiteRepository) SetShouldShareHistory(ctx context.Context, roomID string, share bool) error {
	return r.set(ctx, roomID, "should_share_history", share)
}

// SetOutboundSession stores the room's current outbound session. The
// session inherits the room's should_share_history at this moment.
func (r *SQLiteRepository) SetOutboundSession(ctx context.Context, roomID string, data []byte, createdAt int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, outbound_session, outbound_created_at, outbound_shared_history)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(room_id) DO UPDATE SET
			outbound_session = excluded.outbound_session,
			outbound_created_at = excluded.outbound_created_at,
			outbound_shared_history = rooms.should_share_history
	`, roomID, data, createdAt)
	if err != nil {
		return fmt.Errorf("failed to set outbound session of %s: %w", roomID, err)
	}
	return nil
}

func (r *SQLiteRepository) ClearOutboundSession(ctx context.Context, roomID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rooms
		SET outbound_session = NULL, outbound_created_at = NULL, outbound_shared_history = 0
		WHERE room_id = ?
	`, roomID)
	if err != nil {
		return fmt.Errorf("failed to clear outbound session of %s: %w", roomID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetOutboundSession(ctx context.Context, roomID string) (*OutboundSession, error) {
	var (
		o         = OutboundSession{RoomID: roomID}
		createdAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT outbound_session, outbound_created_at, outbound_shared_history
		FROM rooms WHERE room_id = ? AND outbound_session IS NOT NULL
	`, roomID).Scan(&o.Data, &createdAt, &o.SharedHistory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbound session of %s: %w", roomID, err)
	}
	o.CreatedAt = createdAt.Int64
	return &o, nil
}

func (r *SQLiteRepository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) RoomsWithAlgorithm(ctx context.Context, algorithm string) ([]string, error) {
	return r.listIDs(ctx, `SELECT room_id FROM rooms WHERE algorithm = ? ORDER BY room_id`, algorithm)
}

func (r *SQLiteRepository) RoomsWithBlacklistUnverified(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT room_id FROM rooms WHERE blacklist_unverified = 1 ORDER BY room_id`)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "rooms")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("failed to clear rooms: %w", err)
	}
	return nil
}
