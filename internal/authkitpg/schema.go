package authkitpg

import "context"

// refresh_tokens lives beside the GORM-managed directory tables; pgx owns it.
const refreshTokenSchema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
    token_id          TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    token_hash        TEXT NOT NULL UNIQUE,
    expires_unix      BIGINT NOT NULL,
    revoked_at_unix   BIGINT NOT NULL DEFAULT 0,
    previous_token_id TEXT NOT NULL DEFAULT '',
    issued_at_unix    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_expiry_idx ON refresh_tokens (expires_unix);
`

// EnsureSchema creates the refresh token table and its indexes.
func EnsureSchema(ctx context.Context, db Querier) error {
	_, err := db.Exec(ctx, refreshTokenSchema)
	if err != nil {
		return fail("schema", err)
	}
	return nil
}
