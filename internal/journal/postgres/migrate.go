package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	_ "github.com/jackc/pgx/v5/stdlib"
)

var errNotDirectory = errors.New("migrations path must be a directory")

// Migrate applies the migrations located at migrationsDir to the Postgres
// instance reachable via dsn. A nil logger disables informational logging.
func Migrate(ctx context.Context, dsn, migrationsDir string, logger *log.Logger) error {
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Printf("journal migrations close: %v", cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("journal migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("journal migrations db close: %v", dbErr)
		}
	}()

	if logger != nil {
		logger.Printf("running journal migrations: path=%s", resolvedDir)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("journal migrations up-to-date")
			}
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	if logger != nil {
		logger.Printf("journal migrations applied successfully")
	}
	return nil
}

// Rollback reverts the most recent steps migrations.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive")
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Printf("journal migrations close: %v", cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if logger != nil {
		logger.Printf("rolling back %d journal migration(s): path=%s", steps, resolvedDir)
	}

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("no journal migrations to roll back")
			}
			return nil
		}
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}
