package keyrequests

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/models"
	"github.com/dmitrijs2005/cryptostore/internal/repositories/repotest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var body = models.RoomKeyRequestBody{
	Algorithm: "m.megolm.v1.aes-sha2",
	RoomID:    "!room:example.org",
	SenderKey: "curve-sender",
	SessionID: "megolm-1",
}

func roomKeyRequest(id string, createdAt int64) *models.OutgoingKeyRequest {
	b := body
	return &models.OutgoingKeyRequest{
		RequestID:   id,
		RequestBody: &b,
		Recipients:  map[string][]string{"@alice:example.org": {"*"}},
		State:       models.OutgoingUnsent,
		CreatedAt:   createdAt,
	}
}

func TestOutgoing_UpsertAndFind(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	req := roomKeyRequest("r1", 100)
	require.NoError(t, r.UpsertOutgoing(ctx, req))

	got, err := r.GetOutgoing(ctx, "r1")
	require.NoError(t, err)
	if diff := cmp.Diff(req, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	got, err = r.FindOutgoingByBody(ctx, body)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RequestID)

	other := body
	other.SessionID = "megolm-2"
	got, err = r.FindOutgoingByBody(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, got)

	req.State = models.OutgoingSent
	req.CancellationTxnID = "txn"
	require.NoError(t, r.UpsertOutgoing(ctx, req))
	got, err = r.GetOutgoing(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.OutgoingSent, got.State)
	assert.Equal(t, "txn", got.CancellationTxnID)

	n, err := r.CountOutgoing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutgoing_SecretRequest(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	req := &models.OutgoingKeyRequest{RequestID: "s1", SecretName: "m.cross_signing.master", CreatedAt: 1}
	require.NoError(t, r.UpsertOutgoing(ctx, req))

	got, err := r.FindOutgoingBySecret(ctx, "m.cross_signing.master")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsSecretRequest())
	assert.Nil(t, got.RequestBody)
	assert.Empty(t, got.Recipients)
}

func TestOutgoing_ListByStateAndTidy(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	a := roomKeyRequest("a", 300)
	b := roomKeyRequest("b", 100)
	b.RequestBody.SessionID = "megolm-b"
	b.State = models.OutgoingCancellationPending
	c := roomKeyRequest("c", 200)
	c.RequestBody.SessionID = "megolm-c"
	for _, req := range []*models.OutgoingKeyRequest{a, b, c} {
		require.NoError(t, r.UpsertOutgoing(ctx, req))
	}

	list, err := r.ListOutgoingByState(ctx, models.OutgoingUnsent, models.OutgoingCancellationPending)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].RequestID, list[1].RequestID, list[2].RequestID})

	list, err = r.ListOutgoingByState(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	removed, err := r.DeleteOutgoingCreatedBefore(ctx, 250)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	require.NoError(t, r.DeleteOutgoing(ctx, "a"))
	n, err := r.CountOutgoing(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutgoing_MalformedRows(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.UpsertOutgoing(ctx, roomKeyRequest("good", 1)))
	_, err := db.Exec(`INSERT INTO outgoing_key_requests (request_id, state, created_at) VALUES ('nobody', 0, 2)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO outgoing_key_requests (request_id, secret_name, state, created_at) VALUES ('badstate', 'x', 9, 3)`)
	require.NoError(t, err)

	_, err = r.GetOutgoing(ctx, "nobody")
	assert.ErrorIs(t, err, common.ErrMalformedRecord)
	_, err = r.GetOutgoing(ctx, "badstate")
	assert.ErrorIs(t, err, common.ErrMalformedRecord)

	list, err := r.ListOutgoingByState(ctx, models.OutgoingUnsent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].RequestID)
}

func TestOutgoing_FindSkipsMalformedCandidates(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO outgoing_key_requests
		(request_id, algorithm, room_id, sender_key, session_id, recipients, state, created_at)
		VALUES ('broken', ?, ?, ?, ?, 'not json', 0, 0)`,
		body.Algorithm, body.RoomID, body.SenderKey, body.SessionID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO outgoing_key_requests (request_id, secret_name, state, created_at)
		VALUES ('broken-secret', 'm.megolm_backup.v1', 9, 0)`)
	require.NoError(t, err)

	got, err := r.FindOutgoingByBody(ctx, body)
	require.NoError(t, err)
	assert.Nil(t, got, "only a malformed candidate")

	require.NoError(t, r.UpsertOutgoing(ctx, roomKeyRequest("good", 1)))
	require.NoError(t, r.UpsertOutgoing(ctx, &models.OutgoingKeyRequest{
		RequestID: "good-secret", SecretName: "m.megolm_backup.v1", State: models.OutgoingSent, CreatedAt: 1,
	}))

	got, err = r.FindOutgoingByBody(ctx, body)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "good", got.RequestID)

	got, err = r.FindOutgoingBySecret(ctx, "m.megolm_backup.v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "good-secret", got.RequestID)
}

func TestStoredStateEncoding(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	req := roomKeyRequest("r1", 1)
	req.State = models.OutgoingCancellationPendingAndWillResend
	require.NoError(t, r.UpsertOutgoing(ctx, req))

	var stored int
	require.NoError(t, db.QueryRow(`SELECT state FROM outgoing_key_requests WHERE request_id = 'r1'`).Scan(&stored))
	assert.Equal(t, 3, stored)
}

func TestIncoming(t *testing.T) {
	r := NewSQLiteRepository(repotest.NewDB(t))
	ctx := context.Background()

	b := body
	req := &models.IncomingKeyRequest{
		UserID: "@bob:example.org", DeviceID: "BOBDEV", RequestID: "in1",
		RequestBody: &b, State: models.IncomingRequested, CreatedAt: 10,
	}
	require.NoError(t, r.ReplaceIncoming(ctx, req))

	secret := &models.IncomingKeyRequest{
		UserID: "@bob:example.org", DeviceID: "BOBDEV", RequestID: "in2",
		SecretName: "m.megolm_backup.v1", State: models.IncomingRequested, CreatedAt: 20,
	}
	require.NoError(t, r.ReplaceIncoming(ctx, secret))

	got, err := r.GetIncoming(ctx, "@bob:example.org", "BOBDEV", "in1")
	require.NoError(t, err)
	if diff := cmp.Diff(req, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	pending, err := r.ListIncomingByState(ctx, models.IncomingRequested)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[1].IsSecretRequest())

	req.State = models.IncomingAccepted
	require.NoError(t, r.ReplaceIncoming(ctx, req))
	n, err := r.CountIncoming(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "replace keeps one row per key")

	pending, err = r.ListIncomingByState(ctx, models.IncomingRequested)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, r.DeleteIncoming(ctx, "@bob:example.org", "BOBDEV", "in2"))
	missing, err := r.GetIncoming(ctx, "@bob:example.org", "BOBDEV", "in2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, r.Clear(ctx))
	n, err = r.CountIncoming(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncoming_MalformedBodySkipped(t *testing.T) {
	db := repotest.NewDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO incoming_key_requests
		(user_id, device_id, request_id, request_type, request_body, state, created_at)
		VALUES ('@bob:example.org', 'D', 'bad', 0, '{"room_id":', 1, 1)`)
	require.NoError(t, err)

	pending, err := r.ListIncomingByState(ctx, models.IncomingRequested)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = r.GetIncoming(ctx, "@bob:example.org", "D", "bad")
	assert.ErrorIs(t, err, common.ErrMalformedRecord)
}

func TestErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO outgoing_key_requests").WillReturnError(errors.New("io"))
	err = r.UpsertOutgoing(ctx, roomKeyRequest("r1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert outgoing request r1")

	mock.ExpectExec("DELETE FROM incoming_key_requests").WillReturnError(errors.New("io"))
	err = r.ReplaceIncoming(ctx, &models.IncomingKeyRequest{RequestID: "x", SecretName: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete incoming request x")

	err = r.UpsertOutgoing(ctx, &models.OutgoingKeyRequest{RequestID: "bad", SecretName: "s", State: 42})
	assert.ErrorIs(t, err, common.ErrMalformedRecord)

	require.NoError(t, mock.ExpectationsWereMet())
}
