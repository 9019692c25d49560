package authkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type brokenEntropy struct{}

func (brokenEntropy) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func swapEntropy(t *testing.T, source io.Reader) {
	t.Helper()
	original := entropySource
	entropySource = source
	t.Cleanup(func() { entropySource = original })
}

func TestMintRefreshSecretSurfacesEntropyFailure(t *testing.T) {
	swapEntropy(t, brokenEntropy{})
	if _, err := MintRefreshSecret(); err == nil || !strings.HasPrefix(err.Error(), "authkit.refresh.entropy") {
		t.Fatalf("expected entropy error, got %v", err)
	}
}

func TestMintRefreshSecretHashesOpaque(t *testing.T) {
	swapEntropy(t, bytes.NewReader(bytes.Repeat([]byte{7}, refreshSecretBytes)))
	secret, err := MintRefreshSecret()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(secret.Opaque) != 2*refreshSecretBytes {
		t.Fatalf("unexpected opaque length %d", len(secret.Opaque))
	}
	if secret.Hash == secret.Opaque || HashRefreshSecret(secret.Opaque) != secret.Hash {
		t.Fatalf("expected stored hash to derive from the opaque token")
	}
	if HashRefreshSecret(" "+secret.Opaque+"\n") != secret.Hash {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
}

func TestRefreshTokenUsable(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	testCases := []struct {
		name     string
		revoked  bool
		expires  int64
		expected error
	}{
		{name: "live", expires: now.Unix() + 60},
		{name: "expires now", expires: now.Unix()},
		{name: "expired", expires: now.Unix() - 1, expected: ErrRefreshTokenExpired},
		{name: "revoked wins", revoked: true, expires: now.Unix() - 1, expected: ErrRefreshTokenRevoked},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if err := RefreshTokenUsable(testCase.revoked, testCase.expires, now); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

type purgeableRefreshStore interface {
	RefreshTokenStore
	RefreshTokenPurger
}

var refreshStoreBackends = []struct {
	name  string
	build func(t *testing.T) purgeableRefreshStore
}{
	{name: "memory", build: func(t *testing.T) purgeableRefreshStore { return NewMemoryRefreshTokenStore() }},
	{name: "sqlite", build: func(t *testing.T) purgeableRefreshStore { return openTestDatabaseStore(t) }},
}

func TestRefreshTokenStoresReportSharedSentinels(t *testing.T) {
	for _, backend := range refreshStoreBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.build(t)
			ctx := context.Background()

			if _, _, _, err := store.Validate(ctx, "never-issued"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("unknown token: expected ErrRefreshTokenNotFound, got %v", err)
			}
			if err := store.Revoke(ctx, "never-issued"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("revoke unknown: expected ErrRefreshTokenNotFound, got %v", err)
			}

			tokenID, opaque, err := store.Issue(ctx, "member-1", time.Now().Add(time.Minute).Unix(), "")
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := store.Revoke(ctx, tokenID); err != nil {
				t.Fatalf("first revoke: %v", err)
			}
			if err := store.Revoke(ctx, tokenID); !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
				t.Fatalf("second revoke: expected ErrRefreshTokenAlreadyRevoked, got %v", err)
			}
			if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
				t.Fatalf("revoked token: expected ErrRefreshTokenRevoked, got %v", err)
			}

			_, staleOpaque, err := store.Issue(ctx, "member-1", time.Now().Add(-time.Minute).Unix(), "")
			if err != nil {
				t.Fatalf("issue stale: %v", err)
			}
			if _, _, _, err := store.Validate(ctx, staleOpaque); !errors.Is(err, ErrRefreshTokenExpired) {
				t.Fatalf("stale token: expected ErrRefreshTokenExpired, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoresPurgeExpired(t *testing.T) {
	for _, backend := range refreshStoreBackends {
		t.Run(backend.name, func(t *testing.T) {
			store := backend.build(t)
			ctx := context.Background()
			now := time.Now()

			_, liveOpaque, err := store.Issue(ctx, "member-1", now.Add(time.Hour).Unix(), "")
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			_, staleOpaque, err := store.Issue(ctx, "member-1", now.Add(-time.Hour).Unix(), "")
			if err != nil {
				t.Fatalf("issue stale: %v", err)
			}

			purged, err := store.PurgeExpired(ctx, now)
			if err != nil {
				t.Fatalf("purge: %v", err)
			}
			if purged != 1 {
				t.Fatalf("expected one purged token, got %d", purged)
			}
			if _, _, _, err := store.Validate(ctx, staleOpaque); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected purged token to be gone, got %v", err)
			}
			if _, _, _, err := store.Validate(ctx, liveOpaque); err != nil {
				t.Fatalf("expected live token to survive, got %v", err)
			}
		})
	}
}
