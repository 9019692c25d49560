package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryRefreshTokenStore holds refresh tokens for a single server process.
// The server falls back to it when no database URL is configured.
type MemoryRefreshTokenStore struct {
	mutex   sync.Mutex
	tokens  map[string]*storedRefreshToken
	hashes  map[string]string
	clockFn func() time.Time
}

type storedRefreshToken struct {
	userID      string
	hash        string
	expiresUnix int64
	rotatedFrom string
	revokedAt   time.Time
}

// NewMemoryRefreshTokenStore returns an empty store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		tokens:  map[string]*storedRefreshToken{},
		hashes:  map[string]string{},
		clockFn: time.Now,
	}
}

func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	secret, mintErr := MintRefreshSecret()
	if mintErr != nil {
		return "", "", fmt.Errorf("authkit.refresh.memory.issue: %w", mintErr)
	}
	tokenID := NewRefreshTokenID()

	store.mutex.Lock()
	store.tokens[tokenID] = &storedRefreshToken{
		userID:      applicationUserID,
		hash:        secret.Hash,
		expiresUnix: expiresUnix,
		rotatedFrom: previousTokenID,
	}
	store.hashes[secret.Hash] = tokenID
	store.mutex.Unlock()
	return tokenID, secret.Opaque, nil
}

func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fmt.Errorf("authkit.refresh.memory.validate: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID := store.hashes[HashRefreshSecret(tokenOpaque)]
	token, found := store.tokens[tokenID]
	if !found {
		return "", "", 0, fmt.Errorf("authkit.refresh.memory.validate: %w", ErrRefreshTokenNotFound)
	}
	if usableErr := RefreshTokenUsable(!token.revokedAt.IsZero(), token.expiresUnix, store.clockFn()); usableErr != nil {
		return "", "", 0, fmt.Errorf("authkit.refresh.memory.validate: %w", usableErr)
	}
	return token.userID, tokenID, token.expiresUnix, nil
}

func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	token, found := store.tokens[tokenID]
	switch {
	case !found:
		return fmt.Errorf("authkit.refresh.memory.revoke: %w", ErrRefreshTokenNotFound)
	case !token.revokedAt.IsZero():
		return fmt.Errorf("authkit.refresh.memory.revoke: %w", ErrRefreshTokenAlreadyRevoked)
	}
	token.revokedAt = store.clockFn()
	return nil
}

// PurgeExpired forgets tokens whose expiry is before cutoff.
func (store *MemoryRefreshTokenStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	var purged int64
	for tokenID, token := range store.tokens {
		if token.expiresUnix >= cutoff.Unix() {
			continue
		}
		delete(store.hashes, token.hash)
		delete(store.tokens, tokenID)
		purged++
	}
	return purged, nil
}
