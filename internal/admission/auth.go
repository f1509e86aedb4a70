package admission

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/altvishcoder/complianceapps/internal/db"
)

const (
	keyScheme    = "ck_"
	keyPrefixLen = 8
	keySecretLen = 24
	fullKeyLen   = len(keyScheme) + keyPrefixLen + keySecretLen
)

// ClientStore is the storage contract the authenticator needs.
type ClientStore interface {
	GetClientByKeyPrefix(ctx context.Context, keyPrefix string) (db.APIClient, error)
	TouchClientUsage(ctx context.Context, id int64) error
}

// Authenticator resolves API clients from presented keys.
type Authenticator struct {
	store ClientStore
}

func NewAuthenticator(store ClientStore) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate validates a presented key and returns the owning client.
// Lookup goes through the public key prefix; only the hash of the full key is
// ever compared, so the stored credential never contains the secret.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (db.APIClient, error) {
	presented = strings.TrimSpace(presented)
	if len(presented) != fullKeyLen || !strings.HasPrefix(presented, keyScheme) {
		return db.APIClient{}, ErrUnauthenticated
	}

	prefix := presented[:len(keyScheme)+keyPrefixLen]
	client, err := a.store.GetClientByKeyPrefix(ctx, prefix)
	if err != nil {
		if isNoRows(err) {
			return db.APIClient{}, ErrUnauthenticated
		}
		return db.APIClient{}, err
	}

	if subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(client.KeyHash)) != 1 {
		return db.APIClient{}, ErrUnauthenticated
	}
	if client.Status != db.ClientStatusActive {
		return db.APIClient{}, ErrForbidden
	}

	if err := a.store.TouchClientUsage(ctx, client.ID); err != nil {
		return db.APIClient{}, fmt.Errorf("record client usage: %w", err)
	}
	return client, nil
}

// NewClientKey generates a fresh API key along with its lookup prefix and hash.
// The full key is shown to the operator once and never stored.
func NewClientKey() (key, prefix, hash string, err error) {
	buf := make([]byte, (keyPrefixLen+keySecretLen)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate key material: %w", err)
	}
	key = keyScheme + hex.EncodeToString(buf)
	prefix = key[:len(keyScheme)+keyPrefixLen]
	return key, prefix, HashKey(key), nil
}

// HashKey returns the stored digest form of a full API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
