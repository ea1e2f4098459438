package olmsessions

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_OverwritesByCompositeKey(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Record{SessionID: "s1", DeviceKey: "dk", Data: []byte("v1"), LastReceivedMessageTs: 10}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "s1", DeviceKey: "dk", Data: []byte("v2"), LastReceivedMessageTs: 20}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "s1", DeviceKey: "other", Data: []byte("x")}))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.Get(ctx, "s1", "dk")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v2"), got.Data)
	assert.EqualValues(t, 20, got.LastReceivedMessageTs)
}

func TestGet_Missing(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))

	got, err := r.Get(context.Background(), "nope", "dk")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLastUsedSessionID(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	id, err := r.LastUsedSessionID(ctx, "dk")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, r.Upsert(ctx, Record{SessionID: "a", DeviceKey: "dk", Data: []byte("x"), LastReceivedMessageTs: 5}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "b", DeviceKey: "dk", Data: []byte("x"), LastReceivedMessageTs: 9}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "c", DeviceKey: "dk", Data: []byte("x"), LastReceivedMessageTs: 1}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "z", DeviceKey: "other", Data: []byte("x"), LastReceivedMessageTs: 100}))

	id, err = r.LastUsedSessionID(ctx, "dk")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	// tie on timestamp: greatest session id wins
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "a", DeviceKey: "dk", Data: []byte("x"), LastReceivedMessageTs: 9}))
	id, err = r.LastUsedSessionID(ctx, "dk")
	require.NoError(t, err)
	assert.Equal(t, "b", id)
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "c", DeviceKey: "dk", Data: []byte("x"), LastReceivedMessageTs: 9}))
	id, err = r.LastUsedSessionID(ctx, "dk")
	require.NoError(t, err)
	assert.Equal(t, "c", id)
}

func TestSessionIDsAndList(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	ids, err := r.SessionIDsForDevice(ctx, "dk")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, r.Upsert(ctx, Record{SessionID: "s2", DeviceKey: "dk", Data: []byte("2"), LastReceivedMessageTs: 2}))
	require.NoError(t, r.Upsert(ctx, Record{SessionID: "s1", DeviceKey: "dk", Data: []byte("1"), LastReceivedMessageTs: 1}))

	ids, err = r.SessionIDsForDevice(ctx, "dk")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	recs, err := r.ListForDevice(ctx, "dk")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s2", recs[0].SessionID, "most recent first")
	assert.Equal(t, "dk", recs[1].DeviceKey)

	require.NoError(t, r.Clear(ctx))
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO olm_sessions").WillReturnError(errors.New("io"))
	err = r.Upsert(ctx, Record{SessionID: "s1", DeviceKey: "dk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert olm session s1")

	mock.ExpectQuery("SELECT session_id FROM olm_sessions").WillReturnError(errors.New("io"))
	_, err = r.SessionIDsForDevice(ctx, "dk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list session ids")

	require.NoError(t, mock.ExpectationsWereMet())
}
