package authkit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinels shared by every RefreshTokenStore implementation.
var (
	ErrRefreshTokenNotFound       = errors.New("authkit.refresh.not_found")
	ErrRefreshTokenRevoked        = errors.New("authkit.refresh.revoked")
	ErrRefreshTokenExpired        = errors.New("authkit.refresh.expired")
	ErrRefreshTokenAlreadyRevoked = errors.New("authkit.refresh.already_revoked")
	ErrRefreshTokenEmptyOpaque    = errors.New("authkit.refresh.empty_token")
)

const refreshSecretBytes = 32

var entropySource io.Reader = rand.Reader

func randomHex(byteCount int) (string, error) {
	buffer := make([]byte, byteCount)
	if _, err := io.ReadFull(entropySource, buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// RefreshSecret is a freshly minted refresh token. Only Hash is persisted.
type RefreshSecret struct {
	Opaque string
	Hash   string
}

// MintRefreshSecret draws a new opaque refresh token.
func MintRefreshSecret() (RefreshSecret, error) {
	opaque, err := randomHex(refreshSecretBytes)
	if err != nil {
		return RefreshSecret{}, fmt.Errorf("authkit.refresh.entropy: %w", err)
	}
	return RefreshSecret{Opaque: opaque, Hash: HashRefreshSecret(opaque)}, nil
}

// HashRefreshSecret returns the lookup hash persisted for an opaque token.
func HashRefreshSecret(opaque string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(opaque)))
	return hex.EncodeToString(digest[:])
}

// NewRefreshTokenID returns a random identifier for a stored refresh token.
func NewRefreshTokenID() string {
	return uuid.NewString()
}

// RefreshTokenUsable reports the sentinel for a token that can no longer be exchanged.
func RefreshTokenUsable(revoked bool, expiresUnix int64, now time.Time) error {
	if revoked {
		return ErrRefreshTokenRevoked
	}
	if expiresUnix < now.Unix() {
		return ErrRefreshTokenExpired
	}
	return nil
}

// RefreshTokenPurger is implemented by stores that can drop dead tokens.
type RefreshTokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
