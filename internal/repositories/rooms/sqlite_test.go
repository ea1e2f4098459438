package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const megolm = "m.megolm.v1.aes-sha2"

func TestSettings(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	got, err := r.Get(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.SetAlgorithm(ctx, "!a:example.org", megolm))
	require.NoError(t, r.SetBlacklistUnverified(ctx, "!a:example.org", true))
	require.NoError(t, r.SetShouldEncryptForInvited(ctx, "!b:example.org", true))

	got, err = r.Get(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Equal(t, &models.RoomSettings{RoomID: "!a:example.org", Algorithm: megolm, BlacklistUnverified: true}, got)

	got, err = r.Get(ctx, "!b:example.org")
	require.NoError(t, err)
	assert.Equal(t, &models.RoomSettings{RoomID: "!b:example.org", ShouldEncryptForInvited: true}, got)

	ids, err := r.RoomsWithAlgorithm(ctx, megolm)
	require.NoError(t, err)
	assert.Equal(t, []string{"!a:example.org"}, ids)

	ids, err = r.RoomsWithBlacklistUnverified(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"!a:example.org"}, ids)

	require.NoError(t, r.SetAlgorithm(ctx, "!a:example.org", ""))
	ids, err = r.RoomsWithAlgorithm(ctx, megolm)
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, r.Clear(ctx))
	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShouldShareHistory(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	require.NoError(t, r.SetShouldShareHistory(ctx, "!a:example.org", true))
	got, err := r.Get(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Equal(t, &models.RoomSettings{RoomID: "!a:example.org", ShouldShareHistory: true}, got)
}

func TestOutboundSession(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	got, err := r.GetOutboundSession(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.SetOutboundSession(ctx, "!a:example.org", []byte("pickle-1"), 100))
	got, err = r.GetOutboundSession(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Equal(t, &OutboundSession{RoomID: "!a:example.org", Data: []byte("pickle-1"), CreatedAt: 100}, got)

	// A session created after the room starts sharing history carries the flag.
	require.NoError(t, r.SetShouldShareHistory(ctx, "!a:example.org", true))
	require.NoError(t, r.SetOutboundSession(ctx, "!a:example.org", []byte("pickle-2"), 200))
	got, err = r.GetOutboundSession(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Equal(t, &OutboundSession{RoomID: "!a:example.org", Data: []byte("pickle-2"), CreatedAt: 200, SharedHistory: true}, got)

	// Turning sharing off later does not rewrite the current session.
	require.NoError(t, r.SetShouldShareHistory(ctx, "!a:example.org", false))
	got, err = r.GetOutboundSession(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.True(t, got.SharedHistory)

	require.NoError(t, r.ClearOutboundSession(ctx, "!a:example.org"))
	got, err = r.GetOutboundSession(ctx, "!a:example.org")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, repotest.Count(t, db, "rooms"), "settings survive")

	require.NoError(t, r.ClearOutboundSession(ctx, "!unknown:example.org"))
}

func TestErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)

	mock.ExpectExec("INSERT INTO rooms").WillReturnError(errors.New("io"))
	err = r.SetBlacklistUnverified(context.Background(), "!a", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set room[blacklist_unverified]")

	mock.ExpectExec("INSERT INTO rooms").WillReturnError(errors.New("io"))
	err = r.SetOutboundSession(context.Background(), "!a", []byte("p"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set outbound session of !a")

	require.NoError(t, mock.ExpectationsWereMet())
}
