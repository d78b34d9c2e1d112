// Package db opens the PostgreSQL handle shared by the stores and runs
// schema migrations on startup.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// connectAttempts is how many times Connect retries before giving up. The
// database is usually the last dependency to come up in a fresh deployment.
const connectAttempts = 5

// Connect opens a PostgreSQL handle and verifies it with a ping, retrying a
// few times so the server survives the database starting after it.
func Connect(dsn string) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("db: open: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}

		lastErr = err
		db.Close()
		log.Printf("db: connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("db: connection failed: %w", lastErr)
}

// Migrate applies all pending migrations from the given directory. A
// directory with nothing left to apply is not an error.
func Migrate(db *sql.DB, migrationsDir string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db: migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("db: open migrations %s: %w", migrationsDir, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("db: read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("db: migration version %d is dirty", version)
	}
	log.Printf("db: schema at version %d", version)
	return nil
}
