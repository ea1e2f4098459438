package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/cryptox"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/shared"
)

// sealer encrypts the secrets kept in metadata. A nil sealer passes values
// through.
type sealer struct {
	key []byte
}

func (s *sealer) seal(v string) (string, error) {
	if s == nil || v == "" {
		return v, nil
	}
	return cryptox.Seal(v, s.key)
}

func (s *sealer) open(v string) (string, error) {
	if s == nil || v == "" {
		return v, nil
	}
	return cryptox.Open(v, s.key)
}

func (s *sealer) wipe() {
	if s != nil {
		shared.WipeByteArray(s.key)
	}
}

func (s *sealer) sealKeys(keys models.PrivateKeysInfo) (models.PrivateKeysInfo, error) {
	var (
		out models.PrivateKeysInfo
		err error
	)
	if out.Master, err = s.seal(keys.Master); err != nil {
		return out, err
	}
	if out.SelfSigned, err = s.seal(keys.SelfSigned); err != nil {
		return out, err
	}
	out.UserSigning, err = s.seal(keys.UserSigning)
	return out, err
}

func (s *sealer) openKeys(keys models.PrivateKeysInfo) (models.PrivateKeysInfo, error) {
	var (
		out models.PrivateKeysInfo
		err error
	)
	if out.Master, err = s.open(keys.Master); err != nil {
		return out, err
	}
	if out.SelfSigned, err = s.open(keys.SelfSigned); err != nil {
		return out, err
	}
	out.UserSigning, err = s.open(keys.UserSigning)
	return out, err
}

func (s *Store) secrets() *sealer {
	s.sealMu.RLock()
	defer s.sealMu.RUnlock()
	return s.seal
}

// initSealing derives the sealing key from passphrase. The first open with a
// passphrase stores a salt and a verifier and seals the secrets already in
// metadata; later opens must present the same passphrase. A sealed store
// cannot be opened without one.
func (s *Store) initSealing(ctx context.Context, passphrase []byte) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Metadata(tx)
		meta, err := repo.Get(ctx)
		if err != nil {
			return err
		}
		if meta == nil {
			return common.ErrorIncorrectMetadata
		}

		if len(passphrase) == 0 {
			if len(meta.SecretVerifier) > 0 {
				return fmt.Errorf("%w: store is sealed", common.ErrWrongPassphrase)
			}
			return nil
		}

		if len(meta.SecretSalt) > 0 {
			key := cryptox.DeriveMasterKey(passphrase, meta.SecretSalt)
			if !cryptox.CheckVerifier(key, meta.SecretVerifier) {
				shared.WipeByteArray(key)
				return common.ErrWrongPassphrase
			}
			s.seal = &sealer{key: key}
			return nil
		}

		salt, err := shared.RandomBytes(cryptox.SaltSize)
		if err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		sl := &sealer{key: cryptox.DeriveMasterKey(passphrase, salt)}

		keys, err := sl.sealKeys(meta.PrivateKeys)
		if err != nil {
			return fmt.Errorf("failed to seal private keys: %w", err)
		}
		recovery, err := sl.seal(meta.RecoveryKey)
		if err != nil {
			return fmt.Errorf("failed to seal recovery key: %w", err)
		}
		if err := repo.SetPrivateKeys(ctx, keys); err != nil {
			return err
		}
		if err := repo.SetRecoveryKey(ctx, recovery, meta.RecoveryKeyVersion); err != nil {
			return err
		}
		if err := repo.SetSecretSealing(ctx, salt, cryptox.MakeVerifier(sl.key)); err != nil {
			return err
		}
		s.seal = sl
		return nil
	})
}
