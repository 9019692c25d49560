package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNonceNotFound = errors.New("authkit.nonce.not_found")
	ErrNonceExpired  = errors.New("authkit.nonce.expired")
)

const nonceBytes = 24

// NonceStore hands out single-use nonces that a Google ID token must echo back.
type NonceStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, token string) error
}

// MemoryNonceStore is a NonceStore for a single server process.
type MemoryNonceStore struct {
	mutex    sync.Mutex
	deadline map[string]time.Time
	ttl      time.Duration
	clockFn  func() time.Time
}

func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{deadline: map[string]time.Time{}, ttl: ttl, clockFn: time.Now}
}

func (store *MemoryNonceStore) Issue(ctx context.Context) (string, error) {
	nonce, err := randomHex(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("authkit.nonce.issue: %w", err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clockFn()
	store.evict(now)
	store.deadline[nonce] = now.Add(store.ttl)
	return nonce, nil
}

// Consume burns the nonce; a second call with the same value reports ErrNonceNotFound.
func (store *MemoryNonceStore) Consume(ctx context.Context, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.clockFn()
	deadline, issued := store.deadline[token]
	delete(store.deadline, token)
	store.evict(now)
	switch {
	case !issued:
		return ErrNonceNotFound
	case now.After(deadline):
		return ErrNonceExpired
	}
	return nil
}

// evict drops lapsed nonces. Callers hold the mutex.
func (store *MemoryNonceStore) evict(now time.Time) {
	for nonce, deadline := range store.deadline {
		if now.After(deadline) {
			delete(store.deadline, nonce)
		}
	}
}
