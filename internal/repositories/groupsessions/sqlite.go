package groupsessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `session_id, sender_key, room_id, session, keys_claimed, forwarding_chain, shared_history, backed_up`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec           Record
		claimed, fwd  sql.NullString
		shared, saved bool
	)
	if err := s.Scan(&rec.SessionID, &rec.SenderKey, &rec.RoomID, &rec.Data, &claimed, &fwd, &shared, &saved); err != nil {
		return Record{}, err
	}
	rec.SharedHistory = shared
	rec.BackedUp = saved

	if err := dbx.ScanJSON(claimed, &rec.KeysClaimed); err != nil {
		return Record{}, fmt.Errorf("%w: keys_claimed of %s: %v", common.ErrMalformedRecord, rec.SessionID, err)
	}
	if err := dbx.ScanJSON(fwd, &rec.ForwardingChain); err != nil {
		return Record{}, fmt.Errorf("%w: forwarding_chain of %s: %v", common.ErrMalformedRecord, rec.SessionID, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	claimed, err := dbx.NullJSON(rec.KeysClaimed, len(rec.KeysClaimed) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode keys_claimed: %w", err)
	}
	fwd, err := dbx.NullJSON(rec.ForwardingChain, len(rec.ForwardingChain) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode forwarding_chain: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inbound_group_sessions
			(session_id, sender_key, room_id, session, keys_claimed, forwarding_chain, shared_history, backed_up)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(session_id, sender_key) DO UPDATE SET
			room_id = excluded.room_id,
			session = excluded.session,
			keys_claimed = excluded.keys_claimed,
			forwarding_chain = excluded.forwarding_chain,
			shared_history = excluded.shared_history,
			backed_up = 0
	`, rec.SessionID, rec.SenderKey, rec.RoomID, rec.Data, claimed, fwd, rec.SharedHistory)
	if err != nil {
		return fmt.Errorf("failed to upsert group session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, sessionID, senderKey string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM inbound_group_sessions
		WHERE session_id = ? AND sender_key = ?`, sessionID, senderKey)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// list skips rows that fail to decode.
func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list group sessions: %w", err)
	}
	defer rows.Close()

	result := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if errors.Is(err, common.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan group session: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group sessions: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM inbound_group_sessions ORDER BY session_id, sender_key`)
}

func (r *SQLiteRepository) ListNotBackedUp(ctx context.Context, limit int) ([]Record, error) {
	return r.list(ctx, `SELECT `+selectColumns+` FROM inbound_group_sessions
		WHERE backed_up = 0 LIMIT ?`, limit)
}

func (r *SQLiteRepository) Delete(ctx context.Context, sessionID, senderKey string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM inbound_group_sessions WHERE session_id = ? AND sender_key = ?
	`, sessionID, senderKey)
	if err != nil {
		return fmt.Errorf("failed to delete group session %s: %w", sessionID, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkBackedUp(ctx context.Context, sessionID, senderKey string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inbound_group_sessions SET backed_up = 1 WHERE session_id = ? AND sender_key = ?
	`, sessionID, senderKey)
	if err != nil {
		return false, fmt.Errorf("failed to mark group session %s backed up: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark group session %s backed up: %w", sessionID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ResetBackedUp(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE inbound_group_sessions SET backed_up = 0`); err != nil {
		return fmt.Errorf("failed to reset backup markers: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, onlyBackedUp bool) (int, error) {
	query := `SELECT COUNT(*) FROM inbound_group_sessions`
	if onlyBackedUp {
		query += ` WHERE backed_up = 1`
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count group sessions: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM inbound_group_sessions`); err != nil {
		return fmt.Errorf("failed to clear group sessions: %w", err)
	}
	return nil
}
