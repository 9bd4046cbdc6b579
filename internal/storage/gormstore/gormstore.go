// Package gormstore is the database-backed persistence layer. It
// implements the store interfaces the tool packages define, keeping
// all GORM usage in this package so domain types stay ORM-free.
// SQLite (pure Go driver, WAL mode) is the default backend; PostgreSQL
// serves shared deployments.
package gormstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/eiro/internal/config"
)

// Store is the database-backed persistence layer.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured backend, applies pool settings, and
// migrates the schema. The SQLite path defaults to the data directory.
func Open(cfg *config.Config, slogger *slog.Logger) (*Store, error) {
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		db, err = openPostgres(cfg.Storage.Postgres, gormCfg)
	case "sqlite":
		db, err = openSQLite(cfg, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&IncidentModel{},
		&SequenceModel{},
		&HistoryModel{},
		&TraceModel{},
		&ReceiptModel{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	slogger.Info("storage ready", slog.String("driver", cfg.StorageDriverName()))
	return &Store{db: db, logger: slogger}, nil
}

func openSQLite(cfg *config.Config, gormCfg *gorm.Config) (*gorm.DB, error) {
	path := cfg.DatabasePath()
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			path = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path, journalMode)
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	return db, nil
}

func openPostgres(pg *config.PostgresStorageConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	if pg == nil || pg.DSN == "" {
		return nil, fmt.Errorf("postgres storage requires a dsn")
	}
	db, err := gorm.Open(postgres.Open(pg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	maxOpen := pg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := time.Duration(pg.ConnMaxLifetimeS) * time.Second
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return db, nil
}

// Ping checks the database connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
