package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
)

func TestSealOpen(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	creds := academic.Credentials{Username: "svc", Password: "s3cret"}

	sealed, err := seal(key, creds)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "s3cret")

	opened, err := open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, creds, opened)

	other, err := seal(key, creds)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, other, "nonce must differ per seal")
}

func TestOpen_WrongKeyOrTruncated(t *testing.T) {
	var key, wrong [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	copy(wrong[:], "fedcba9876543210fedcba9876543210")

	sealed, err := seal(key, academic.Credentials{Username: "svc", Password: "pw"})
	require.NoError(t, err)

	_, err = open(wrong, sealed)
	assert.ErrorIs(t, err, ErrSealedCorrupt)

	_, err = open(key, sealed[:10])
	assert.ErrorIs(t, err, ErrSealedCorrupt)
}

func TestNewCredentialStore_ShortSecret(t *testing.T) {
	_, err := NewCredentialStore(nil, "default", []byte("short"), 0)
	assert.Error(t, err)

	s, err := NewCredentialStore(nil, "default", []byte("a-long-enough-secret"), 0)
	require.NoError(t, err)
	assert.Equal(t, TTLCredentials, s.ttl)
}
