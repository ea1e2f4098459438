package crosssigning

import (
	"context"
	"database/sql"
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

// slotOrder keeps Get results in master, self-signing, user-signing order.
var slotOrder = map[string]int{
	models.KeyUsageMaster:      0,
	models.KeyUsageSelfSigning: 1,
	models.KeyUsageUserSigning: 2,
}

func trustColumns(t *models.TrustLevel) (cross, local any) {
	if t == nil {
		return nil, nil
	}
	return dbx.NullBool(&t.CrossSigningVerified), dbx.NullBool(&t.LocallyVerified)
}

func (r *SQLiteRepository) UpsertKey(ctx context.Context, key *models.CrossSigningKey) error {
	slot := key.Slot()
	if slot == "" {
		return fmt.Errorf("%w: cross-signing key of %s has no known usage", common.ErrMalformedRecord, key.UserID)
	}
	usages, err := dbx.NullJSON(key.Usages, false)
	if err != nil {
		return fmt.Errorf("failed to encode usages: %w", err)
	}
	signatures, err := dbx.NullJSON(key.Signatures, len(key.Signatures) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode signatures: %w", err)
	}
	cross, local := trustColumns(key.TrustLevel)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cross_signing_keys (user_id, slot, public_key, usages, signatures,
		                                trust_cross_signing_verified, trust_locally_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, slot) DO UPDATE SET
			public_key = excluded.public_key,
			usages = excluded.usages,
			signatures = excluded.signatures,
			trust_cross_signing_verified = excluded.trust_cross_signing_verified,
			trust_locally_verified = excluded.trust_locally_verified
	`, key.UserID, slot, key.PublicKey, usages, signatures, cross, local)
	if err != nil {
		return fmt.Errorf("failed to upsert %s key of %s: %w", slot, key.UserID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteSlotsExcept(ctx context.Context, userID string, keep []string) error {
	query := `DELETE FROM cross_signing_keys WHERE user_id = ?`
	args := []any{userID}
	if len(keep) > 0 {
		query += ` AND slot NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, s := range keep {
			args = append(args, s)
		}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete cross-signing keys of %s: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, userID string) error {
	return r.DeleteSlotsExcept(ctx, userID, nil)
}

// Get fails with common.ErrMalformedRecord if a stored key does not decode.
func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*models.CrossSigningInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT slot, public_key, usages, signatures, trust_cross_signing_verified, trust_locally_verified
		FROM cross_signing_keys WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cross-signing keys of %s: %w", userID, err)
	}
	defer rows.Close()

	keys := make([]*models.CrossSigningKey, 3)
	found := false
	for rows.Next() {
		var (
			slot               string
			key                = models.CrossSigningKey{UserID: userID}
			usages, signatures sql.NullString
			cross, local       sql.NullBool
		)
		if err := rows.Scan(&slot, &key.PublicKey, &usages, &signatures, &cross, &local); err != nil {
			return nil, fmt.Errorf("failed to scan cross-signing key: %w", err)
		}
		if err := dbx.ScanJSON(usages, &key.Usages); err != nil {
			return nil, fmt.Errorf("%w: %s key of %s: %v", common.ErrMalformedRecord, slot, userID, err)
		}
		if err := dbx.ScanJSON(signatures, &key.Signatures); err != nil {
			return nil, fmt.Errorf("%w: %s key of %s: %v", common.ErrMalformedRecord, slot, userID, err)
		}
		if cross.Valid || local.Valid {
			key.TrustLevel = models.NewTrustLevel(cross.Bool, local.Bool)
		}
		idx, ok := slotOrder[slot]
		if !ok {
			return nil, fmt.Errorf("%w: unknown cross-signing slot %q", common.ErrMalformedRecord, slot)
		}
		keys[idx] = &key
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cross-signing keys: %w", err)
	}
	if !found {
		return nil, nil
	}
	return models.NewCrossSigningInfo(userID, keys...), nil
}

func (r *SQLiteRepository) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM cross_signing_keys ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross-signing users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cross-signing user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cross-signing users: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) SetUserTrust(ctx context.Context, userID string, trust *models.TrustLevel) error {
	cross, local := trustColumns(trust)
	_, err := r.db.ExecContext(ctx, `
		UPDATE cross_signing_keys SET trust_cross_signing_verified = ?, trust_locally_verified = ?
		WHERE user_id = ?
	`, cross, local, userID)
	if err != nil {
		return fmt.Errorf("failed to set cross-signing trust of %s: %w", userID, err)
	}
	return nil
}

func (r *SQLiteRepository) SetSlotTrust(ctx context.Context, userID, slot string, trust *models.TrustLevel) (bool, error) {
	cross, local := trustColumns(trust)
	res, err := r.db.ExecContext(ctx, `
		UPDATE cross_signing_keys SET trust_cross_signing_verified = ?, trust_locally_verified = ?
		WHERE user_id = ? AND slot = ?
	`, cross, local, userID, slot)
	if err != nil {
		return false, fmt.Errorf("failed to set %s key trust of %s: %w", slot, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to set %s key trust of %s: %w", slot, userID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ClearTrustExcept(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cross_signing_keys SET trust_cross_signing_verified = NULL, trust_locally_verified = NULL
		WHERE user_id <> ?
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear cross-signing trust: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	return dbx.CountRows(ctx, r.db, "cross_signing_keys")
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cross_signing_keys`); err != nil {
		return fmt.Errorf("failed to clear cross-signing keys: %w", err)
	}
	return nil
}
