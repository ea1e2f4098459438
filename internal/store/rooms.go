package store

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/dbx"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

func (s *Store) room(ctx context.Context, roomID string) (*models.RoomSettings, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Rooms(db).Get(ctx, roomID)
}

// StoreRoomAlgorithm records the encryption algorithm of a room. An empty
// algorithm marks the room as unencrypted.
func (s *Store) StoreRoomAlgorithm(ctx context.Context, roomID, algorithm string) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Rooms(tx).SetAlgorithm(ctx, roomID, algorithm)
	})
}

func (s *Store) RoomAlgorithm(ctx context.Context, roomID string) (string, error) {
	room, err := s.room(ctx, roomID)
	if err != nil || room == nil {
		return "", err
	}
	return room.Algorithm, nil
}

func (s *Store) RoomsWithAlgorithm(ctx context.Context, algorithm string) ([]string, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Rooms(db).RoomsWithAlgorithm(ctx, algorithm)
}

func (s *Store) SetRoomBlacklistUnverifiedDevices(ctx context.Context, roomID string, block bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Rooms(tx).SetBlacklistUnverified(ctx, roomID, block)
	})
}

func (s *Store) RoomsWithBlacklistedUnverifiedDevices(ctx context.Context) ([]string, error) {
	db, err := s.reader()
	if err != nil {
		return nil, err
	}
	return s.repos.Rooms(db).RoomsWithBlacklistUnverified(ctx)
}

func (s *Store) SetShouldEncryptForInvitedMembers(ctx context.Context, roomID string, encrypt bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Rooms(tx).SetShouldEncryptForInvited(ctx, roomID, encrypt)
	})
}

// ShouldEncryptForInvitedMembers is false for rooms without settings.
func (s *Store) ShouldEncryptForInvitedMembers(ctx context.Context, roomID string) (bool, error) {
	room, err := s.room(ctx, roomID)
	if err != nil || room == nil {
		return false, err
	}
	return room.ShouldEncryptForInvited, nil
}

// SetShouldShareHistory controls whether outbound sessions created for the
// room from now on may be shared with members who join later.
func (s *Store) SetShouldShareHistory(ctx context.Context, roomID string, share bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.Rooms(tx).SetShouldShareHistory(ctx, roomID, share)
	})
}

func (s *Store) ShouldShareHistory(ctx context.Context, roomID string) (bool, error) {
	room, err := s.room(ctx, roomID)
	if err != nil || room == nil {
		return false, err
	}
	return room.ShouldShareHistory, nil
}
