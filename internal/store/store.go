// Package store is the persistent crypto store of a Matrix end-to-end
// encryption engine.
//
// A Store keeps Olm sessions, inbound Megolm sessions, device lists and
// trust, cross-signing identities, key-backup bookkeeping and gossiping
// requests in one SQLite file. Every write runs in a transaction; a change
// event is published to subscribers after the commit.
//
// Sessions come back as live native handles (see package olm). The store
// caches them and owns them: a handle returned by GetSession or
// GetGroupSession stays valid until it is replaced, removed or the store is
// closed, and callers must not release it. Handles returned by
// AllGroupSessions and SessionsNeedingBackup are not cached and belong to
// the caller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/logging"
	"github.com/dmitrijs2005/cryptostore/internal/notify"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/repomanager"
	"github.com/dmitrijs2005/cryptostore/internal/sessioncache"
)

var errNoCodec = errors.New("a codec is required")

type sessionKey struct {
	sessionID string
	deviceKey string
}

type groupKey struct {
	sessionID string
	senderKey string
}

const accountKey = "account"

// Store is safe for concurrent use.
type Store struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	codec     olm.Codec
	log       logging.Logger
	notifier  *notify.Notifier
	now       func() time.Time
	retention time.Duration

	userID   string
	deviceID string

	sealMu sync.RWMutex
	seal   *sealer

	sessions      *sessioncache.Cache[sessionKey, *olm.OlmSession]
	groupSessions *sessioncache.Cache[groupKey, *olm.GroupSession]
	account       *sessioncache.Cache[string, olm.Account]

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store at opts.Path, migrates its schema and
// checks the stored identity. A store written for another user or device is
// wiped and reinitialized for the supplied credentials.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.UserID == "" {
		return nil, common.ErrMissingIdentity
	}
	if opts.Codec == nil {
		return nil, errNoCodec
	}
	opts.applyDefaults()

	db, err := openDB(ctx, opts.Path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}

	repos := repomanager.NewSQLiteRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log := opts.Logger.With("component", "cryptostore")
	s := &Store{
		db:            db,
		repos:         repos,
		codec:         opts.Codec,
		log:           log,
		notifier:      notify.New(log),
		now:           opts.Now,
		retention:     opts.RequestRetention,
		userID:        opts.UserID,
		deviceID:      opts.DeviceID,
		sessions:      sessioncache.New[sessionKey](olm.SameOlmSession),
		groupSessions: sessioncache.New[groupKey](olm.SameGroupSession),
		account:       sessioncache.New[string, olm.Account](nil),
	}

	if err := s.initMetadata(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSealing(ctx, opts.Passphrase); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug(ctx, "crypto store opened", "path", opts.Path, "user_id", s.userID, "device_id", s.deviceID)
	return s, nil
}

// initMetadata creates the metadata row, or wipes the store when the row
// belongs to another identity.
func (s *Store) initMetadata(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta, err := s.repos.Metadata(tx).Get(ctx)
		if err != nil {
			return err
		}

		switch {
		case meta == nil:
			return s.repos.Metadata(tx).Create(ctx, s.userID, s.deviceID)
		case !meta.Identity().Matches(s.userID, s.deviceID):
			s.log.Warn(ctx, "stored identity does not match, wiping crypto store",
				"stored_user_id", meta.UserID, "stored_device_id", meta.DeviceID,
				"user_id", s.userID, "device_id", s.deviceID)
			if err := s.clearAll(ctx, tx); err != nil {
				return err
			}
			return s.repos.Metadata(tx).Create(ctx, s.userID, s.deviceID)
		default:
			s.deviceID = meta.DeviceID
			return nil
		}
	})
}

// clearAll deletes every row of every table, metadata included.
func (s *Store) clearAll(ctx context.Context, tx dbx.DBTX) error {
	clears := []func(context.Context) error{
		s.repos.OlmSessions(tx).Clear,
		s.repos.GroupSessions(tx).Clear,
		s.repos.Devices(tx).Clear,
		s.repos.CrossSigning(tx).Clear,
		s.repos.KeyRequests(tx).Clear,
		s.repos.Rooms(tx).Clear,
		s.repos.Withheld(tx).Clear,
		s.repos.SharedSessions(tx).Clear,
		s.repos.Metadata(tx).Clear,
	}
	for _, fn := range clears {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return common.ErrStoreClosed
	}
	return nil
}

// withTx runs fn in a transaction and publishes changes after the commit.
func (s *Store) withTx(ctx context.Context, fn dbx.TxFunc, changes ...notify.Change) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := dbx.WithTx(ctx, s.db, nil, fn); err != nil {
		return err
	}
	if len(changes) > 0 {
		s.notifier.Publish(changes...)
	}
	return nil
}

// reader returns the handle for queries outside a transaction.
func (s *Store) reader() (dbx.DBTX, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.db, nil
}

// cacheErr reports a cache closed under a running call as a closed store.
func cacheErr(err error) error {
	if errors.Is(err, sessioncache.ErrClosed) {
		return common.ErrStoreClosed
	}
	return err
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// UserID is the local user the store was opened for.
func (s *Store) UserID() string { return s.userID }

// DeviceID is the local device, taken from metadata when Open got none.
func (s *Store) DeviceID() string { return s.deviceID }

// Close releases every cached native handle, ends all subscriptions and
// closes the database. Later calls return the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.notifier.Close()

		s.sessions.Close()
		s.groupSessions.Close()
		s.account.Close()

		s.sealMu.Lock()
		s.seal.wipe()
		s.seal = nil
		s.sealMu.Unlock()

		if err := s.db.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close database: %w", err)
		}
	})
	return s.closeErr
}

// HasData reports whether the store holds anything beyond a freshly created
// metadata row.
func (s *Store) HasData(ctx context.Context) (bool, error) {
	db, err := s.reader()
	if err != nil {
		return false, err
	}
	meta, err := s.repos.Metadata(db).Get(ctx)
	if err != nil || meta == nil {
		return false, err
	}
	if len(meta.OlmAccount) > 0 {
		return true, nil
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.Total() > 0, nil
}

// Wipe deletes every persisted record and drops all cached handles. The
// store stays open with a fresh metadata record for its identity; a sealed
// store keeps its passphrase.
func (s *Store) Wipe(ctx context.Context) error {
	err := s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Metadata(tx)
		meta, err := repo.Get(ctx)
		if err != nil {
			return err
		}
		if err := s.clearAll(ctx, tx); err != nil {
			return err
		}
		if err := repo.Create(ctx, s.userID, s.deviceID); err != nil {
			return err
		}
		if meta != nil && len(meta.SecretSalt) > 0 {
			return repo.SetSecretSealing(ctx, meta.SecretSalt, meta.SecretVerifier)
		}
		return nil
	}, notify.Change{Entity: notify.EntityAll})
	if err != nil {
		return err
	}

	s.sessions.Clear()
	s.groupSessions.Clear()
	s.account.Clear()
	s.log.Info(ctx, "crypto store wiped")
	return nil
}

// Stats counts the rows of each table.
type Stats struct {
	OlmSessions           int
	GroupSessions         int
	BackedUpGroupSessions int
	Users                 int
	Devices               int
	CrossSigningKeys      int
	OutgoingRequests      int
	IncomingRequests      int
	Rooms                 int
	WithheldSessions      int
	SharedSessions        int
}

// Total is the number of entity rows, the backed-up subset not counted twice.
func (st Stats) Total() int {
	return st.OlmSessions + st.GroupSessions + st.Users + st.Devices + st.CrossSigningKeys +
		st.OutgoingRequests + st.IncomingRequests + st.Rooms + st.WithheldSessions + st.SharedSessions
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.reader()
	if err != nil {
		return Stats{}, err
	}

	var (
		st    Stats
		users []string
	)
	steps := []func() error{
		func() (err error) { st.OlmSessions, err = s.repos.OlmSessions(db).Count(ctx); return },
		func() (err error) { st.GroupSessions, err = s.repos.GroupSessions(db).Count(ctx, false); return },
		func() (err error) { st.BackedUpGroupSessions, err = s.repos.GroupSessions(db).Count(ctx, true); return },
		func() (err error) { users, err = s.repos.Devices(db).UserIDs(ctx); return },
		func() (err error) { st.Devices, err = s.repos.Devices(db).Count(ctx); return },
		func() (err error) { st.CrossSigningKeys, err = s.repos.CrossSigning(db).Count(ctx); return },
		func() (err error) { st.OutgoingRequests, err = s.repos.KeyRequests(db).CountOutgoing(ctx); return },
		func() (err error) { st.IncomingRequests, err = s.repos.KeyRequests(db).CountIncoming(ctx); return },
		func() (err error) { st.Rooms, err = s.repos.Rooms(db).Count(ctx); return },
		func() (err error) { st.WithheldSessions, err = s.repos.Withheld(db).Count(ctx); return },
		func() (err error) { st.SharedSessions, err = s.repos.SharedSessions(db).Count(ctx); return },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Stats{}, err
		}
	}
	st.Users = len(users)
	return st, nil
}
