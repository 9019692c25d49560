package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tyemirov/labcommons/internal/authkit"
)

const (
	insertTokenSQL = `INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_unix, revoked_at_unix, previous_token_id, issued_at_unix)
VALUES ($1, $2, $3, $4, 0, $5, $6)`
	selectByHashSQL = `SELECT user_id, token_id, expires_unix, revoked_at_unix FROM refresh_tokens WHERE token_hash = $1`
	revokeTokenSQL  = `UPDATE refresh_tokens SET revoked_at_unix = $1 WHERE token_id = $2 AND revoked_at_unix = 0`
	selectByIDSQL   = `SELECT revoked_at_unix FROM refresh_tokens WHERE token_id = $1`
	purgeExpiredSQL = `DELETE FROM refresh_tokens WHERE expires_unix < $1`
)

// Querier is the slice of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// PostgresRefreshTokenStore keeps refresh tokens in PostgreSQL.
type PostgresRefreshTokenStore struct {
	db      Querier
	clockFn func() time.Time
}

func NewPostgresRefreshTokenStore(db Querier) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{db: db, clockFn: time.Now}
}

func fail(operation string, err error) error {
	return fmt.Errorf("authkitpg.%s: %w", operation, err)
}

func (store *PostgresRefreshTokenStore) Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	secret, mintErr := authkit.MintRefreshSecret()
	if mintErr != nil {
		return "", "", fail("issue", mintErr)
	}
	tokenID := authkit.NewRefreshTokenID()
	if _, err := store.db.Exec(ctx, insertTokenSQL, tokenID, applicationUserID, secret.Hash, expiresUnix, previousTokenID, store.clockFn().Unix()); err != nil {
		return "", "", fail("issue", err)
	}
	return tokenID, secret.Opaque, nil
}

func (store *PostgresRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fail("validate", authkit.ErrRefreshTokenEmptyOpaque)
	}
	var (
		userID      string
		tokenID     string
		expiresUnix int64
		revokedUnix int64
	)
	scanErr := store.db.QueryRow(ctx, selectByHashSQL, authkit.HashRefreshSecret(tokenOpaque)).
		Scan(&userID, &tokenID, &expiresUnix, &revokedUnix)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return "", "", 0, fail("validate", authkit.ErrRefreshTokenNotFound)
	}
	if scanErr != nil {
		return "", "", 0, fail("validate", scanErr)
	}
	if usableErr := authkit.RefreshTokenUsable(revokedUnix != 0, expiresUnix, store.clockFn()); usableErr != nil {
		return "", "", 0, fail("validate", usableErr)
	}
	return userID, tokenID, expiresUnix, nil
}

func (store *PostgresRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	tag, execErr := store.db.Exec(ctx, revokeTokenSQL, store.clockFn().Unix(), tokenID)
	if execErr != nil {
		return fail("revoke", execErr)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var revokedUnix int64
	scanErr := store.db.QueryRow(ctx, selectByIDSQL, tokenID).Scan(&revokedUnix)
	switch {
	case errors.Is(scanErr, pgx.ErrNoRows):
		return fail("revoke", authkit.ErrRefreshTokenNotFound)
	case scanErr != nil:
		return fail("revoke", scanErr)
	}
	return fail("revoke", authkit.ErrRefreshTokenAlreadyRevoked)
}

// PurgeExpired deletes tokens that expired before cutoff.
func (store *PostgresRefreshTokenStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, execErr := store.db.Exec(ctx, purgeExpiredSQL, cutoff.Unix())
	if execErr != nil {
		return 0, fail("purge", execErr)
	}
	return tag.RowsAffected(), nil
}
