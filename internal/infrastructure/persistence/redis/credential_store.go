package redis

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
)

const nonceSize = 24

// ErrSealedCorrupt is returned when a stored credential blob cannot be opened.
var ErrSealedCorrupt = errors.New("cache: sealed value corrupt or wrong key")

// CredentialStore keeps the academic service credentials in Redis, sealed
// with a key derived from a process secret. It lets several resolver
// processes re-authenticate with the same service account.
type CredentialStore struct {
	cache *Cache
	name  string
	key   [32]byte
	ttl   time.Duration
}

// NewCredentialStore derives the sealing key from secret. name separates
// credential sets sharing one Redis database.
func NewCredentialStore(cache *Cache, name string, secret []byte, ttl time.Duration) (*CredentialStore, error) {
	if len(secret) < 16 {
		return nil, shared.NewDomainError("credentials", "NewStore", shared.ErrValidation,
			"sealing secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = TTLCredentials
	}

	s := &CredentialStore{cache: cache, name: name, ttl: ttl}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("academic-credentials:"+name)), s.key[:]); err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	return s, nil
}

// Save seals and stores creds.
func (s *CredentialStore) Save(ctx context.Context, creds academic.Credentials) error {
	sealed, err := seal(s.key, creds)
	if err != nil {
		return err
	}
	return s.cache.SetBytes(ctx, CredentialsKey(s.name), sealed, s.ttl)
}

// Load returns the stored credentials or an error wrapping shared.ErrNotFound.
func (s *CredentialStore) Load(ctx context.Context) (academic.Credentials, error) {
	data, err := s.cache.GetBytes(ctx, CredentialsKey(s.name))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return academic.Credentials{}, shared.WrapError("credentials", "Load", shared.ErrNotFound, "no stored credentials", err)
		}
		return academic.Credentials{}, err
	}
	return open(s.key, data)
}

func seal(key [32]byte, creds academic.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &key), nil
}

func open(key [32]byte, sealed []byte) (academic.Credentials, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return academic.Credentials{}, ErrSealedCorrupt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &key)
	if !ok {
		return academic.Credentials{}, ErrSealedCorrupt
	}

	var creds academic.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return academic.Credentials{}, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return creds, nil
}
