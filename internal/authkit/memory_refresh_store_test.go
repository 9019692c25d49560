package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRefreshTokenStoreRejectsBlankToken(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	if _, _, _, err := store.Validate(context.Background(), "   "); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected ErrRefreshTokenEmptyOpaque, got %v", err)
	}
}

func TestMemoryRefreshTokenStoreRecordsRotation(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	expiry := time.Now().Add(time.Minute).Unix()
	firstID, _, err := store.Issue(context.Background(), "user", expiry, "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	secondID, secondOpaque, err := store.Issue(context.Background(), "user", expiry, firstID)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if firstID == secondID {
		t.Fatalf("expected distinct token ids")
	}

	store.mutex.Lock()
	rotatedFrom := store.tokens[secondID].rotatedFrom
	store.mutex.Unlock()
	if rotatedFrom != firstID {
		t.Fatalf("expected rotation link to %s, got %s", firstID, rotatedFrom)
	}

	userID, tokenID, expiresUnix, err := store.Validate(context.Background(), secondOpaque)
	if err != nil || userID != "user" || tokenID != secondID || expiresUnix != expiry {
		t.Fatalf("unexpected validation %s %s %d %v", userID, tokenID, expiresUnix, err)
	}
}

func TestMemoryRefreshTokenStoreHonoursClock(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	issuedAt := time.Unix(1_800_000_000, 0)
	store.clockFn = func() time.Time { return issuedAt }

	_, opaque, err := store.Issue(context.Background(), "user", issuedAt.Add(time.Hour).Unix(), "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	store.clockFn = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	if _, _, _, err := store.Validate(context.Background(), opaque); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
}
