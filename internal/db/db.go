package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"speedchat/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	libsqlDriver = "libsql"
	sqliteDriver = "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the configured database and applies pending migrations.
func Open(cfg config.Config) (*sql.DB, error) {
	database, err := Connect(cfg.DatabaseURL, cfg.TursoAuthToken)
	if err != nil {
		return nil, err
	}
	if err := Migrate(database); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

// Connect opens rawURL without migrating. Local file databases use the pure
// Go sqlite driver with a single connection; everything else goes to libsql.
func Connect(rawURL, authToken string) (*sql.DB, error) {
	driver, dsn, err := driverAndDSN(rawURL, authToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == sqliteDriver {
		database.SetMaxOpenConns(1)
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return database, nil
}

// Migrate applies the embedded migrations.
func Migrate(database *sql.DB) error {
	driver, err := sqlite.WithInstance(database, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "speedchat", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func driverAndDSN(rawURL, authToken string) (string, string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", fmt.Errorf("empty database url")
	}
	if strings.HasPrefix(trimmed, "file:") || trimmed == ":memory:" {
		return sqliteDriver, trimmed, nil
	}
	dsn, err := buildDSN(trimmed, authToken)
	if err != nil {
		return "", "", err
	}
	return libsqlDriver, dsn, nil
}

func buildDSN(rawURL, authToken string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return parsed.String(), nil
}
