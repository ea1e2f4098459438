package store

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/notify"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/crosssigning"
)

func crossSigningChanged(userIDs ...string) notify.Change {
	return notify.Change{Entity: notify.EntityCrossSigning, UserIDs: userIDs}
}

func (s *Store) loadCrossSigning(ctx context.Context, repo crosssigning.Repository, userID string) (*models.CrossSigningInfo, error) {
	info, err := repo.Get(ctx, userID)
	if errors.Is(err, common.ErrMalformedRecord) {
		s.log.Warn(ctx, "malformed cross-signing keys", "user_id", userID, "err", err)
		return nil, nil
	}
	return info, err
}

func keyInSlot(info *models.CrossSigningInfo, slot string) *models.CrossSigningKey {
	switch slot {
	case models.KeyUsageMaster:
		return info.MasterKey()
	case models.KeyUsageSelfSigning:
		return info.SelfSigningKey()
	case models.KeyUsageUserSigning:
		return info.UserSigningKey()
	}
	return nil
}

// mergeSignatures returns the stored signatures with the incoming ones laid
// over them.
func mergeSignatures(stored, incoming map[string]map[string]string) map[string]map[string]string {
	if len(stored) == 0 && len(incoming) == 0 {
		return incoming
	}
	out := make(map[string]map[string]string, len(stored)+len(incoming))
	for _, sigs := range []map[string]map[string]string{stored, incoming} {
		for signer, byKey := range sigs {
			if out[signer] == nil {
				out[signer] = make(map[string]string, len(byKey))
			}
			for keyID, sig := range byKey {
				out[signer][keyID] = sig
			}
		}
	}
	return out
}

// writeKeys upserts keys for userID and returns the slots written and the
// slots whose public key changed. A key equal to the stored one keeps the
// stored trust and signatures; a changed key starts with unknown trust.
func writeKeys(ctx context.Context, repo crosssigning.Repository, userID string, existing *models.CrossSigningInfo, keys []*models.CrossSigningKey) (written, rotated []string, err error) {
	for _, k := range keys {
		if k == nil {
			continue
		}
		key := *k
		key.UserID = userID
		slot := key.Slot()

		old := keyInSlot(existing, slot)
		if old != nil && old.PublicKey == key.PublicKey {
			key.TrustLevel = old.TrustLevel
			key.Signatures = mergeSignatures(old.Signatures, k.Signatures)
		} else {
			key.TrustLevel = nil
			rotated = append(rotated, slot)
		}
		if err := repo.UpsertKey(ctx, &key); err != nil {
			return nil, nil, err
		}
		written = append(written, slot)
	}
	return written, rotated, nil
}

// SetCrossSigningInfo replaces the cross-signing keys of userID. Slots
// missing from info are deleted; nil info deletes them all.
func (s *Store) SetCrossSigningInfo(ctx context.Context, userID string, info *models.CrossSigningInfo) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.CrossSigning(tx)
		if info == nil {
			return repo.DeleteUser(ctx, userID)
		}
		existing, err := s.loadCrossSigning(ctx, repo, userID)
		if err != nil {
			return err
		}
		written, _, err := writeKeys(ctx, repo, userID, existing, info.Keys)
		if err != nil {
			return err
		}
		return repo.DeleteSlotsExcept(ctx, userID, written)
	}, crossSigningChanged(userID))
}

func (s *Store) SetMyCrossSigningInfo(ctx context.Context, info *models.CrossSigningInfo) error {
	return s.SetCrossSigningInfo(ctx, s.userID, info)
}

// StoreUserCrossSigningKeys records the keys downloaded for userID. Without
// a master or self-signing key the user's keys are deleted. A nil
// userSigning key leaves the stored one in place.
//
// When a key of the local user rotates, the matching private key is
// forgotten and the local user's devices lose their trust, except the local
// trust of this device.
func (s *Store) StoreUserCrossSigningKeys(ctx context.Context, userID string, master, selfSigning, userSigning *models.CrossSigningKey) error {
	var resetDevices bool

	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		resetDevices = false
		repo := s.repos.CrossSigning(tx)
		if master == nil || selfSigning == nil {
			return repo.DeleteUser(ctx, userID)
		}

		existing, err := s.loadCrossSigning(ctx, repo, userID)
		if err != nil {
			return err
		}
		written, rotated, err := writeKeys(ctx, repo, userID, existing, []*models.CrossSigningKey{master, selfSigning, userSigning})
		if err != nil {
			return err
		}
		if userSigning == nil {
			written = append(written, models.KeyUsageUserSigning)
		}
		if err := repo.DeleteSlotsExcept(ctx, userID, written); err != nil {
			return err
		}

		if userID != s.userID || len(rotated) == 0 {
			return nil
		}
		meta := s.repos.Metadata(tx)
		for _, slot := range rotated {
			s.log.Info(ctx, "own cross-signing key rotated", "slot", slot)
			switch slot {
			case models.KeyUsageMaster:
				err = meta.SetMasterPrivateKey(ctx, "")
			case models.KeyUsageSelfSigning:
				err = meta.SetSelfSignedPrivateKey(ctx, "")
			case models.KeyUsageUserSigning:
				err = meta.SetUserSigningPrivateKey(ctx, "")
			}
			if err != nil {
				return err
			}
		}
		resetDevices = true
		return s.repos.Devices(tx).ResetTrust(ctx, s.userID, s.deviceID)
	})
	if err != nil {
		return err
	}

	changes := []notify.Change{crossSigningChanged(userID)}
	if resetDevices {
		changes = append(changes, devicesChanged(userID))
	}
	s.notifier.Publish(changes...)
	return nil
}

func (s *Store) GetCrossSigningInfo(ctx context.Context, userID string) (*models.CrossSigningInfo, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.loadCrossSigning(ctx, s.repos.CrossSigning(db), userID)
}

func (s *Store) GetMyCrossSigningInfo(ctx context.Context) (*models.CrossSigningInfo, error) {
	return s.GetCrossSigningInfo(ctx, s.userID)
}

// SubscribeToCrossSigningInfo streams the user's keys, nil while none are
// stored.
func (s *Store) SubscribeToCrossSigningInfo(ctx context.Context, userID string) (*notify.Subscription[*models.CrossSigningInfo], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	users := []string{userID}
	match := func(c notify.Change) bool { return c.Affects(notify.EntityCrossSigning, users) }
	return notify.Subscribe(ctx, s.notifier, match, func(ctx context.Context) (*models.CrossSigningInfo, error) {
		return s.GetCrossSigningInfo(ctx, userID)
	}), nil
}

// SetUserTrusted sets both trust flags of every key of userID.
func (s *Store) SetUserTrusted(ctx context.Context, userID string, trusted bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.CrossSigning(tx).SetUserTrust(ctx, userID, models.NewTrustLevel(trusted, trusted))
	}, crossSigningChanged(userID))
}

// SetMasterKeyLocallyTrusted changes only the local flag of the local
// user's master key. It does nothing when no master key is stored.
func (s *Store) SetMasterKeyLocallyTrusted(ctx context.Context, trusted bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.CrossSigning(tx)
		info, err := s.loadCrossSigning(ctx, repo, s.userID)
		if err != nil {
			return err
		}
		master := info.MasterKey()
		if master == nil {
			return nil
		}
		trust := master.TrustLevel.Clone()
		if trust == nil {
			trust = &models.TrustLevel{}
		}
		trust.LocallyVerified = trusted
		_, err = repo.SetSlotTrust(ctx, s.userID, models.KeyUsageMaster, trust)
		return err
	}, crossSigningChanged(s.userID))
}

// ClearOtherUsersTrust forgets the trust of every user but the local one.
func (s *Store) ClearOtherUsersTrust(ctx context.Context) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.CrossSigning(tx).ClearTrustExcept(ctx, s.userID)
	}, crossSigningChanged())
}

// ReconcileTrust asks trusted about every other user with cross-signing
// keys and, where the answer differs from the stored trust, sets both flags
// of all their keys to it. trusted runs inside the transaction and must not
// call back into the store.
func (s *Store) ReconcileTrust(ctx context.Context, trusted func(userID string) bool) error {
	var updated []string
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		updated = updated[:0]
		repo := s.repos.CrossSigning(tx)
		users, err := repo.UserIDs(ctx)
		if err != nil {
			return err
		}
		for _, userID := range users {
			if userID == s.userID {
				continue
			}
			info, err := s.loadCrossSigning(ctx, repo, userID)
			if err != nil {
				return err
			}
			if info == nil {
				continue
			}
			want := trusted(userID)
			if want == info.IsTrusted() {
				continue
			}
			if err := repo.SetUserTrust(ctx, userID, models.NewTrustLevel(want, want)); err != nil {
				return err
			}
			updated = append(updated, userID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(updated) > 0 {
		s.notifier.Publish(crossSigningChanged(updated...))
	}
	return nil
}
