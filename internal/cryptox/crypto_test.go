package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
	if len(hex.EncodeToString(key1)) != 2*KeySize {
		t.Errorf("unexpected key length %d", len(key1))
	}
}

func TestDeriveMasterKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveMasterKey(password, []byte("salt-1"))
	key2 := DeriveMasterKey(password, []byte("salt-2"))

	assert.NotEqual(t, key1, key2)
	assert.Len(t, key1, KeySize)
}

func TestVerifier(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)
	v := MakeVerifier(key)

	assert.True(t, CheckVerifier(key, v))
	assert.False(t, CheckVerifier(bytes.Repeat([]byte{8}, KeySize), v))
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)

	sealed, err := Seal("master-private-key", key)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "master-private-key")

	again, err := Seal("master-private-key", key)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "master-private-key", plain)
}

func TestOpen_Failures(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	sealed, err := Seal("value", key)
	require.NoError(t, err)

	_, err = Open(sealed, bytes.Repeat([]byte{2}, KeySize))
	assert.Error(t, err, "wrong key")

	_, err = Open("%%%not-base64", key)
	assert.ErrorIs(t, err, ErrSealedValue)

	_, err = Open("AAAA", key)
	assert.ErrorIs(t, err, ErrSealedValue, "shorter than a nonce")
}
