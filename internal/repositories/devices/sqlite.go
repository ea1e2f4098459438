package devices

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

// Persisted tracking status values. They are part of the file format and
// must not follow the order of the Go constants.
const (
	statusNotTracked  = -1
	statusPending     = 1
	statusInProgress  = 2
	statusUpToDate    = 3
	statusUnreachable = 4
)

func encodeStatus(s models.TrackingStatus) (int, error) {
	switch s {
	case models.TrackingStatusNotTracked:
		return statusNotTracked, nil
	case models.TrackingStatusPendingDownload:
		return statusPending, nil
	case models.TrackingStatusDownloadInProgress:
		return statusInProgress, nil
	case models.TrackingStatusUpToDate:
		return statusUpToDate, nil
	case models.TrackingStatusUnreachable:
		return statusUnreachable, nil
	}
	return 0, fmt.Errorf("%w: tracking status %d", common.ErrMalformedRecord, int(s))
}

func decodeStatus(v int) (models.TrackingStatus, error) {
	switch v {
	case statusNotTracked:
		return models.TrackingStatusNotTracked, nil
	case statusPending:
		return models.TrackingStatusPendingDownload, nil
	case statusInProgress:
		return models.TrackingStatusDownloadInProgress, nil
	case statusUpToDate:
		return models.TrackingStatusUpToDate, nil
	case statusUnreachable:
		return models.TrackingStatusUnreachable, nil
	}
	return 0, fmt.Errorf("%w: stored tracking status %d", common.ErrMalformedRecord, v)
}

func (r *SQLiteRepository) EnsureUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	return true, nil
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete devices of %s: %w", userID, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) TrackingStatus(ctx context.Context, userID string) (models.TrackingStatus, bool, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT tracking_status FROM users WHERE user_id = ?`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get tracking status of %s: %w", userID, err)
	}
	status, err := decodeStatus(v)
	if err != nil {
		return 0, false, err
	}
	return status, true, nil
}

func (r *SQLiteRepository) SetTrackingStatus(ctx context.Context, userID string, status models.TrackingStatus) error {
	v, err := encodeStatus(status)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, tracking_status) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tracking_status = excluded.tracking_status
	`, userID, v)
	if err != nil {
		return fmt.Errorf("failed to set tracking status of %s: %w", userID, err)
	}
	return nil
}

// AllTrackingStatuses skips rows with an unknown stored value.
func (r *SQLiteRepository) AllTrackingStatuses(ctx context.Context) (map[string]models.TrackingStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, tracking_status FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking statuses: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.TrackingStatus)
	for rows.Next() {
		var (
			id string
			v  int
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("failed to scan tracking status: %w", err)
		}
		if status, err := decodeStatus(v); err == nil {
			result[id] = status
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking statuses: %w", err)
	}
	return result, nil
}

func trustColumns(t *models.TrustLevel) (cross, local any) {
	if t == nil {
		return nil, nil
	}
	return dbx.NullBool(&t.CrossSigningVerified), dbx.NullBool(&t.LocallyVerified)
}

func (r *SQLiteRepository) UpsertDevice(ctx context.Context, d *models.DeviceInfo) error {
	algorithms, err := dbx.NullJSON(d.Algorithms, len(d.Algorithms) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode algorithms: %w", err)
	}
	keys, err := dbx.NullJSON(d.Keys, len(d.Keys) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}
	signatures, err := dbx.NullJSON(d.Signatures, len(d.Signatures) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode signatures: %w", err)
	}
	unsigned, err := dbx.NullJSON(d.Unsigned, len(d.Unsigned) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode unsigned: %w", err)
	}
	cross, local := trustColumns(d.TrustLevel)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (user_id, device_id, identity_key, algorithms, keys, signatures, unsigned,
		                     is_blocked, first_seen_ts, trust_cross_signing_verified, trust_locally_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET
			identity_key = excluded.identity_key,
			algorithms = excluded.algorithms,
			keys = excluded.keys,
			signatures = excluded.signatures,
			unsigned = excluded.unsigned,
			is_blocked = excluded.is_blocked,
			trust_cross_signing_verified = excluded.trust_cross_signing_verified,
			trust_locally_verified = excluded.trust_locally_verified
	`, d.UserID, d.DeviceID, d.IdentityKey(), algorithms, keys, signatures, unsigned,
		d.IsBlocked, d.FirstTimeSeenLocalTs, cross, local)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s/%s: %w", d.UserID, d.DeviceID, err)
	}
	return nil
}

const selectColumns = `user_id, device_id, algorithms, keys, signatures, unsigned, is_blocked,
	first_seen_ts, trust_cross_signing_verified, trust_locally_verified`

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*models.DeviceInfo, error) {
	var (
		d                                      models.DeviceInfo
		algorithms, keys, signatures, unsigned sql.NullString
		cross, local                           sql.NullBool
	)
	if err := s.Scan(&d.UserID, &d.DeviceID, &algorithms, &keys, &signatures, &unsigned,
		&d.IsBlocked, &d.FirstTimeSeenLocalTs, &cross, &local); err != nil {
		return nil, err
	}
	for _, col := range []struct {
		value sql.NullString
		dst   any
	}{
		{algorithms, &d.Algorithms},
		{keys, &d.Keys},
		{signatures, &d.Signatures},
		{unsigned, &d.Unsigned},
	} {
		if err := dbx.ScanJSON(col.value, col.dst); err != nil {
			return nil, fmt.Errorf("%w: device %s/%s: %v", common.ErrMalformedRecord, d.UserID, d.DeviceID, err)
		}
	}
	if cross.Valid || local.Valid {
		d.TrustLevel = models.NewTrustLevel(cross.Bool, local.Bool)
	}
	return &d, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, where string, args ...any) (*models.DeviceInfo, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM devices WHERE `+where+` LIMIT 1`, args...)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) GetDevice(ctx context.Context, userID, deviceID string) (*models.DeviceInfo, error) {
	return r.getOne(ctx, `user_id = ? AND device_id = ?`, userID, deviceID)
}

func (r *SQLiteRepository) GetByIdentityKey(ctx context.Context, identityKey string) (*models.DeviceInfo, error) {
	if identityKey == "" {
		return nil, nil
	}
	return r.getOne(ctx, `identity_key = ?`, identityKey)
}

// ListForUser skips rows that fail to decode.
func (r *SQLiteRepository) ListForUser(ctx context.Context, userID string) ([]*models.DeviceInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM devices WHERE user_id = ? ORDER BY device_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices of %s: %w", userID, err)
	}
	defer rows.Close()

	result := make([]*models.DeviceInfo, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if errors.Is(err, common.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteDevicesExcept(ctx context.Context, userID string, keep []string) error {
	query := `DELETE FROM devices WHERE user_id = ?`
	args := []any{userID}
	if len(keep) > 0 {
		query += ` AND device_id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete stale devices of %s: %w", userID, err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) SetTrust(ctx context.Context, userID, deviceID string, trust *models.TrustLevel) (bool, error) {
	cross, local := trustColumns(trust)
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET trust_cross_signing_verified = ?, trust_locally_verified = ?
		WHERE user_id = ? AND device_id = ?
	`, cross, local, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to set trust of %s/%s: %w", userID, deviceID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("failed to set trust of %s/%s: %w", userID, deviceID, err)
	}
	return ok, nil
}

func (r *SQLiteRepository) SetBlocked(ctx context.Context, userID, deviceID string, blocked bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_blocked = ? WHERE user_id = ? AND device_id = ?
	`, blocked, userID, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to block %s/%s: %w", userID, deviceID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("failed to block %s/%s: %w", userID, deviceID, err)
	}
	return ok, nil
}

func (r *SQLiteRepository) ResetTrust(ctx context.Context, userID, keepLocal string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			trust_cross_signing_verified = 0,
			trust_locally_verified = CASE WHEN device_id = ? THEN 1 ELSE 0 END
		WHERE user_id = ?
		  AND (trust_cross_signing_verified IS NOT NULL OR trust_locally_verified IS NOT NULL)
	`, keepLocal, userID)
	if err != nil {
		return fmt.Errorf("failed to reset device trust of %s: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "devices")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("failed to clear devices: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}
