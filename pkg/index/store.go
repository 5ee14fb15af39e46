// Package index keeps the local file index, user quota accounts and admin
// notifications in SQLite.
package index

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store manages file, user and notification records in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens the database at dbPath and applies pending migrations.
func Open(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	if err := migrateUp(database); err != nil {
		_ = database.Close()
		return nil, err
	}

	return &Store{db: database}, nil
}

// dsn enables foreign keys and WAL on every pooled connection.
func dsn(dbPath string) string {
	query := url.Values{}
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "busy_timeout(5000)")
	return "file:" + dbPath + "?" + query.Encode()
}

func migrateUp(database *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("%w: failed to load migrations: %w", ErrDatabaseError, err)
	}

	driver, err := migratesqlite.WithInstance(database, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%w: failed to create migration driver: %w", ErrDatabaseError, err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("%w: failed to create migrator: %w", ErrDatabaseError, err)
	}

	// migrator.Close is not called: it would close the shared *sql.DB.
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: failed to apply migrations: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapDB(err error) error {
	return fmt.Errorf("%w: %w", ErrDatabaseError, err)
}
