// Package database opens the GORM handle that backs the directory, accounts, and
// refresh tokens. URLs use the postgres:// or sqlite: schemes.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	postgresMaxOpenConns = 10
	postgresMaxIdleTime  = 5 * time.Minute
	sqliteForeignKeys    = "_pragma=foreign_keys(1)"
)

var (
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")
	ErrEmptyDatabaseURL   = errors.New("database.empty_url")

	errSQLiteEmptyPath = errors.New("database.sqlite.empty_path")
	errMissingScheme   = errors.New("database.missing_scheme")
)

// Open connects to databaseURL and pings it. The returned label is DriverPostgres or DriverSQLite.
func Open(ctx context.Context, databaseURL string) (*gorm.DB, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, "", fmt.Errorf("database.open: %w", ErrEmptyDatabaseURL)
	}
	dialector, driver, resolveErr := ResolveDialector(databaseURL)
	if resolveErr != nil {
		return nil, "", resolveErr
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if openErr != nil {
		return nil, "", fmt.Errorf("database.open.%s: %w", driver, openErr)
	}
	sqlDB, handleErr := gormDB.DB()
	if handleErr != nil {
		return nil, "", fmt.Errorf("database.open.%s: %w", driver, handleErr)
	}
	switch {
	case driver == DriverPostgres:
		sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
		sqlDB.SetConnMaxIdleTime(postgresMaxIdleTime)
	case inMemory(databaseURL):
		sqlDB.SetMaxOpenConns(1)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("database.ping.%s: %w", driver, pingErr)
	}
	return gormDB, driver, nil
}

// IsPostgres reports whether databaseURL selects PostgreSQL.
func IsPostgres(databaseURL string) bool {
	scheme, _, found := strings.Cut(strings.TrimSpace(databaseURL), ":")
	if !found {
		return false
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return true
	}
	return false
}

// ResolveDialector picks the GORM dialector for databaseURL.
func ResolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", parseErr)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "":
		return nil, "", fmt.Errorf("database.dialect: %w", errMissingScheme)
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), DriverPostgres, nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := sqliteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), DriverSQLite, nil
	}
	return nil, "", fmt.Errorf("database.dialect.%s: %w", scheme, ErrUnsupportedDialect)
}

// sqliteDSN accepts sqlite:file:name?..., sqlite:///abs/path, and sqlite://rel/path.
// Foreign key enforcement is switched on unless the URL already sets it.
func sqliteDSN(parsed *url.URL) (string, error) {
	path := parsed.Opaque
	if path == "" {
		path = strings.TrimPrefix(parsed.Host+"/"+strings.TrimPrefix(parsed.Path, "/"), "/")
		if parsed.Host == "" {
			path = parsed.Path
		}
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "", errSQLiteEmptyPath
	}
	query := parsed.RawQuery
	if !strings.Contains(query, "foreign_keys") {
		query = strings.TrimPrefix(query+"&"+sqliteForeignKeys, "&")
	}
	return path + "?" + query, nil
}

func inMemory(databaseURL string) bool {
	return strings.Contains(databaseURL, ":memory:") || strings.Contains(databaseURL, "mode=memory")
}
