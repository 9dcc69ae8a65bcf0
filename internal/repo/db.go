// Package repo implements the data persistence layer for users, messages,
// groups and idempotency records on top of GORM. Functions take the *gorm.DB
// explicitly so services can pass a transaction or a plain handle.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
)

// sqlitePragmas run on every new SQLite handle. WAL lets history reads
// proceed while the relay writes.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// Default pool sizes when StoreConfig.MaxOpenConns is zero. SQLite
// serializes writers anyway, so a small pool is enough.
const (
	sqlitePool   = 10
	postgresPool = 25
)

// Open connects to the configured store, installs query tracing and the
// zerolog query logger, and sizes the pool. Migrations are left to
// AutoMigrate.
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newQueryLogger(log.Logger, cfg.SlowQuery)}

	var (
		db   *gorm.DB
		pool int
		err  error
	)
	switch cfg.Driver {
	case "", "sqlite":
		db, err = openSQLite(cfg.Path, gcfg)
		pool = sqlitePool
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gcfg)
		pool = postgresPool
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		pool = cfg.MaxOpenConns
	}
	if err := tunePool(db, pool); err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("repo: install tracing: %w", err)
	}
	return db, nil
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	// A missing parent directory otherwise surfaces as a cryptic
	// "out of memory (14)" from the driver.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

func tunePool(db *gorm.DB, maxOpen int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("repo: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

// AutoMigrate creates or updates every table the service owns. Group
// membership uses domain.GroupMember as the explicit join model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&domain.Group{}, "Members", &domain.GroupMember{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&domain.User{},
		&domain.Message{},
		&domain.Group{},
		&domain.GroupMember{},
		&domain.Idempotency{},
	)
}
