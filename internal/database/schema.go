// internal/database/schema.go
// Database connection and migration logic for tubewatch
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB represents our database connection and operations
type DB struct {
	*sql.DB
	*Queries
}

// Tx is a transaction exposing the same queries as DB
type Tx struct {
	*sql.Tx
	*Queries
}

// Configuration for the database
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the default database configuration.
// There is a single local writer, so the pool holds one connection; this also
// keeps ":memory:" databases on the same connection for their whole lifetime.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// NewDB opens the database at dbPath and brings its schema up to date
func NewDB(dbPath string, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL",
		dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	return &DB{DB: db, Queries: &Queries{q: db}}, nil
}

// migrateSchema applies the embedded migrations. The migrate instance is
// deliberately not closed: closing it would close db as well.
func migrateSchema(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("error loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("error preparing migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the currently applied migration version
func (db *DB) SchemaVersion(ctx context.Context) (uint, error) {
	var version uint
	var dirty bool
	err := db.QueryRowContext(ctx,
		"SELECT version, dirty FROM schema_migrations LIMIT 1",
	).Scan(&version, &dirty)
	if err != nil {
		return 0, storeErr("read schema version", err)
	}
	if dirty {
		return version, &StoreError{Op: "read schema version", Err: fmt.Errorf("migration %d is dirty", version)}
	}
	return version, nil
}

// InTx runs fn inside a single transaction. Any error from fn rolls the
// whole transaction back; transactions are never nested or retried.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin transaction", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{Tx: sqlTx, Queries: &Queries{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &StoreError{Op: "commit transaction", Err: err}
	}
	return nil
}
