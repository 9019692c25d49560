package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("authkit.refresh.missing_database")

// DatabaseRefreshTokenStore keeps refresh tokens in the directory database through GORM.
type DatabaseRefreshTokenStore struct {
	db      *gorm.DB
	driver  string
	clockFn func() time.Time
}

type refreshTokenRow struct {
	ID          string     `gorm:"column:id;primaryKey;size:36"`
	UserID      string     `gorm:"column:user_id;index;not null"`
	SecretHash  string     `gorm:"column:secret_hash;uniqueIndex;not null"`
	ExpiresUnix int64      `gorm:"column:expires_unix;index;not null"`
	RotatedFrom string     `gorm:"column:rotated_from"`
	RevokedAt   *time.Time `gorm:"column:revoked_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (refreshTokenRow) TableName() string {
	return "session_refresh_tokens"
}

// NewDatabaseRefreshTokenStore migrates the token table and returns a store bound to db.
func NewDatabaseRefreshTokenStore(ctx context.Context, db *gorm.DB, driver string) (*DatabaseRefreshTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("authkit.refresh.open: %w", errMissingDatabase)
	}
	if err := db.WithContext(ctx).AutoMigrate(&refreshTokenRow{}); err != nil {
		return nil, fmt.Errorf("authkit.refresh.migrate.%s: %w", driver, err)
	}
	return &DatabaseRefreshTokenStore{db: db, driver: driver, clockFn: time.Now}, nil
}

// Driver names the database backing the store.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driver
}

func (store *DatabaseRefreshTokenStore) fail(operation string, err error) error {
	return fmt.Errorf("authkit.refresh.%s.%s: %w", store.driver, operation, err)
}

func (store *DatabaseRefreshTokenStore) Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	secret, mintErr := MintRefreshSecret()
	if mintErr != nil {
		return "", "", store.fail("issue", mintErr)
	}
	row := refreshTokenRow{
		ID:          NewRefreshTokenID(),
		UserID:      applicationUserID,
		SecretHash:  secret.Hash,
		ExpiresUnix: expiresUnix,
		RotatedFrom: previousTokenID,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", "", store.fail("issue", err)
	}
	return row.ID, secret.Opaque, nil
}

func (store *DatabaseRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, store.fail("validate", ErrRefreshTokenEmptyOpaque)
	}
	var row refreshTokenRow
	lookupErr := store.db.WithContext(ctx).
		Where(&refreshTokenRow{SecretHash: HashRefreshSecret(tokenOpaque)}).
		First(&row).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return "", "", 0, store.fail("validate", ErrRefreshTokenNotFound)
	}
	if lookupErr != nil {
		return "", "", 0, store.fail("validate", lookupErr)
	}
	if usableErr := RefreshTokenUsable(row.RevokedAt != nil, row.ExpiresUnix, store.clockFn()); usableErr != nil {
		return "", "", 0, store.fail("validate", usableErr)
	}
	return row.UserID, row.ID, row.ExpiresUnix, nil
}

// Revoke stamps revoked_at on a live token. The conditional update keeps concurrent
// rotations from both succeeding.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	revokedAt := store.clockFn().UTC()
	update := store.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("id = ? AND revoked_at IS NULL", tokenID).
		Update("revoked_at", &revokedAt)
	if update.Error != nil {
		return store.fail("revoke", update.Error)
	}
	if update.RowsAffected == 1 {
		return nil
	}
	var existing int64
	if countErr := store.db.WithContext(ctx).Model(&refreshTokenRow{}).Where("id = ?", tokenID).Count(&existing).Error; countErr != nil {
		return store.fail("revoke", countErr)
	}
	if existing == 0 {
		return store.fail("revoke", ErrRefreshTokenNotFound)
	}
	return store.fail("revoke", ErrRefreshTokenAlreadyRevoked)
}

// PurgeExpired deletes tokens that expired before cutoff and reports how many went.
func (store *DatabaseRefreshTokenStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := store.db.WithContext(ctx).Where("expires_unix < ?", cutoff.Unix()).Delete(&refreshTokenRow{})
	if result.Error != nil {
		return 0, store.fail("purge", result.Error)
	}
	return result.RowsAffected, nil
}
