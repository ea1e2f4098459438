package keyrequests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const outgoingColumns = `request_id, algorithm, room_id, sender_key, session_id, secret_name,
	recipients, cancellation_txn_id, state, created_at`

func scanOutgoing(s scanner) (*models.OutgoingKeyRequest, error) {
	var (
		req                                     models.OutgoingKeyRequest
		algorithm, roomID, senderKey, sessionID sql.NullString
		secret, recipients, txnID               sql.NullString
		state                                   int
	)
	if err := s.Scan(&req.RequestID, &algorithm, &roomID, &senderKey, &sessionID, &secret,
		&recipients, &txnID, &state, &req.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if req.State, err = decodeOutgoing(state); err != nil {
		return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
	}
	if err := dbx.ScanJSON(recipients, &req.Recipients); err != nil {
		return nil, fmt.Errorf("%w: request %s: %v", common.ErrMalformedRecord, req.RequestID, err)
	}
	req.SecretName = secret.String
	req.CancellationTxnID = txnID.String
	if algorithm.Valid || sessionID.Valid {
		req.RequestBody = &models.RoomKeyRequestBody{
			Algorithm: algorithm.String,
			RoomID:    roomID.String,
			SenderKey: senderKey.String,
			SessionID: sessionID.String,
		}
	}
	if !req.Valid() {
		return nil, fmt.Errorf("%w: request %s has no usable body", common.ErrMalformedRecord, req.RequestID)
	}
	return &req, nil
}

func (r *SQLiteRepository) UpsertOutgoing(ctx context.Context, req *models.OutgoingKeyRequest) error {
	state, err := encodeOutgoing(req.State)
	if err != nil {
		return err
	}
	recipients, err := dbx.NullJSON(req.Recipients, false)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}
	if req.Recipients == nil {
		recipients = "{}"
	}
	var body models.RoomKeyRequestBody
	if req.RequestBody != nil {
		body = *req.RequestBody
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outgoing_key_requests (`+outgoingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			algorithm = excluded.algorithm,
			room_id = excluded.room_id,
			sender_key = excluded.sender_key,
			session_id = excluded.session_id,
			secret_name = excluded.secret_name,
			recipients = excluded.recipients,
			cancellation_txn_id = excluded.cancellation_txn_id,
			state = excluded.state,
			created_at = excluded.created_at
	`, req.RequestID, dbx.NullString(body.Algorithm), dbx.NullString(body.RoomID),
		dbx.NullString(body.SenderKey), dbx.NullString(body.SessionID), dbx.NullString(req.SecretName),
		recipients, dbx.NullString(req.CancellationTxnID), state, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert outgoing request %s: %w", req.RequestID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetOutgoing(ctx context.Context, requestID string) (*models.OutgoingKeyRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outgoingColumns+` FROM outgoing_key_requests
		WHERE request_id = ?`, requestID)
	req, err := scanOutgoing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find outgoing request: %w", err)
	}
	return req, nil
}

// firstOutgoing returns the oldest well-formed request matching where.
// Malformed candidates are passed over so a broken row cannot hide a good one.
func (r *SQLiteRepository) firstOutgoing(ctx context.Context, where string, args ...any) (*models.OutgoingKeyRequest, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+outgoingColumns+` FROM outgoing_key_requests
		WHERE `+where+` ORDER BY created_at, request_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find outgoing request: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		req, err := scanOutgoing(rows)
		if errors.Is(err, common.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find outgoing request: %w", err)
		}
		return req, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find outgoing request: %w", err)
	}
	return nil, nil
}

func (r *SQLiteRepository) FindOutgoingByBody(ctx context.Context, body models.RoomKeyRequestBody) (*models.OutgoingKeyRequest, error) {
	return r.firstOutgoing(ctx, `session_id = ? AND sender_key = ? AND room_id = ? AND algorithm = ?`,
		body.SessionID, body.SenderKey, body.RoomID, body.Algorithm)
}

func (r *SQLiteRepository) FindOutgoingBySecret(ctx context.Context, secretName string) (*models.OutgoingKeyRequest, error) {
	return r.firstOutgoing(ctx, `secret_name = ?`, secretName)
}

func (r *SQLiteRepository) ListOutgoingByState(ctx context.Context, states ...models.OutgoingRequestState) ([]*models.OutgoingKeyRequest, error) {
	if len(states) == 0 {
		return []*models.OutgoingKeyRequest{}, nil
	}
	args := make([]any, 0, len(states))
	for _, s := range states {
		v, err := encodeOutgoing(s)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+outgoingColumns+` FROM outgoing_key_requests
		WHERE state IN (`+placeholders(len(args))+`) ORDER BY created_at, request_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing requests: %w", err)
	}
	defer rows.Close()

	result := make([]*models.OutgoingKeyRequest, 0)
	for rows.Next() {
		req, err := scanOutgoing(rows)
		if errors.Is(err, common.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan outgoing request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outgoing requests: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteOutgoing(ctx context.Context, requestID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outgoing_key_requests WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("failed to delete outgoing request %s: %w", requestID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteOutgoingCreatedBefore(ctx context.Context, ts int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outgoing_key_requests WHERE created_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old outgoing requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete old outgoing requests: %w", err)
	}
	return n, nil
}

const incomingColumns = `user_id, device_id, request_id, request_type, request_body, secret_name, state, created_at`

func scanIncoming(s scanner) (*models.IncomingKeyRequest, error) {
	var (
		req          models.IncomingKeyRequest
		kind, state  int
		body, secret sql.NullString
	)
	if err := s.Scan(&req.UserID, &req.DeviceID, &req.RequestID, &kind, &body, &secret, &state, &req.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if req.State, err = decodeIncoming(state); err != nil {
		return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
	}
	switch kind {
	case typeRoomKey:
		var b models.RoomKeyRequestBody
		if err := dbx.ScanJSON(body, &b); err != nil || !b.Valid() {
			return nil, fmt.Errorf("%w: request %s has no usable body", common.ErrMalformedRecord, req.RequestID)
		}
		req.RequestBody = &b
	case typeSecret:
		if secret.String == "" {
			return nil, fmt.Errorf("%w: secret request %s has no name", common.ErrMalformedRecord, req.RequestID)
		}
		req.SecretName = secret.String
	default:
		return nil, fmt.Errorf("%w: request %s has type %d", common.ErrMalformedRecord, req.RequestID, kind)
	}
	return &req, nil
}

func (r *SQLiteRepository) ReplaceIncoming(ctx context.Context, req *models.IncomingKeyRequest) error {
	state, err := encodeIncoming(req.State)
	if err != nil {
		return err
	}
	kind := typeSecret
	var body any
	if req.RequestBody != nil {
		kind = typeRoomKey
		if body, err = dbx.NullJSON(req.RequestBody, false); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	if err := r.DeleteIncoming(ctx, req.UserID, req.DeviceID, req.RequestID); err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO incoming_key_requests (`+incomingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.UserID, req.DeviceID, req.RequestID, kind, body, dbx.NullString(req.SecretName), state, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert incoming request %s: %w", req.RequestID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteIncoming(ctx context.Context, userID, deviceID, requestID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM incoming_key_requests WHERE user_id = ? AND device_id = ? AND request_id = ?
	`, userID, deviceID, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete incoming request %s: %w", requestID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetIncoming(ctx context.Context, userID, deviceID, requestID string) (*models.IncomingKeyRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+incomingColumns+` FROM incoming_key_requests
		WHERE user_id = ? AND device_id = ? AND request_id = ?`, userID, deviceID, requestID)
	req, err := scanIncoming(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming request %s: %w", requestID, err)
	}
	return req, nil
}

func (r *SQLiteRepository) ListIncomingByState(ctx context.Context, state models.IncomingRequestState) ([]*models.IncomingKeyRequest, error) {
	v, err := encodeIncoming(state)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+incomingColumns+` FROM incoming_key_requests
		WHERE state = ? ORDER BY created_at, request_id`, v)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming requests: %w", err)
	}
	defer rows.Close()

	result := make([]*models.IncomingKeyRequest, 0)
	for rows.Next() {
		req, err := scanIncoming(rows)
		if errors.Is(err, common.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan incoming request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incoming requests: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) CountOutgoing(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "outgoing_key_requests")
}

func (r *SQLiteRepository) CountIncoming(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "incoming_key_requests")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outgoing_key_requests`); err != nil {
		return fmt.Errorf("failed to clear outgoing requests: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM incoming_key_requests`); err != nil {
		return fmt.Errorf("failed to clear incoming requests: %w", err)
	}
	return nil
}
