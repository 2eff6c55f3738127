// Package store persists products, alerts and job bookkeeping with sqlx.
// Postgres is the production driver; sqlite3 serves local runs and tests.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type Store struct {
	db     *sqlx.DB
	driver string
	sb     sq.StatementBuilderType
}

// NewStore creates a new database store
func NewStore(driver, databaseURL string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	if driver == DriverSQLite {
		// one connection keeps an in-memory database alive and serializes writers
		db.SetMaxOpenConns(1)
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, driver: driver, sb: sb}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema for the active driver
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile(fmt.Sprintf("schema/%s.sql", s.dialect()))
	if err != nil {
		return err
	}

	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) dialect() string {
	if s.driver == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}

// q rebinds a query written with ? placeholders for the active driver
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// now is second-truncated UTC so stored timestamps compare consistently on both drivers
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
