package authkit

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound indicates that no account matched the lookup.
	ErrAccountNotFound = errors.New("accounts.not_found")
	// ErrAccountExists indicates that the email is already registered.
	ErrAccountExists = errors.New("accounts.exists")
)

// Account is the identity embedded in sessions.
type Account struct {
	UserID string
	Email  string
	Roles  []string
}

// Registration describes a password account to create together with its profile.
type Registration struct {
	Email        string
	PasswordHash string
	FullName     string
	Username     string
	Institution  string
	Role         string
}

// GoogleIdentity is the verified subset of a Google ID token.
type GoogleIdentity struct {
	Subject     string
	Email       string
	DisplayName string
}

// AccountStore persists accounts and their credentials.
type AccountStore interface {
	CreateAccount(ctx context.Context, registration Registration) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (account Account, passwordHash string, err error)
	FindAccount(ctx context.Context, userID string) (Account, error)
	UpsertGoogleAccount(ctx context.Context, identity GoogleIdentity, role string) (Account, error)
}

// RefreshTokenStore manages long-lived refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (applicationUserID string, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
}
