package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver "pgx"
	_ "github.com/mattn/go-sqlite3"    // cgo SQLite driver "sqlite3"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver "sqlite"

	"github.com/eldarion/identeco/internal/clock"
)

//go:embed migrations
var migrations embed.FS

// Supported values for Options.Driver
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend
type Options struct {
	Driver string
	// DSN is the Postgres connection string, or an explicit SQLite file path
	DSN string
	// DataDir holds the SQLite file when DSN is empty
	DataDir string
	Clock   clock.Clock
}

// Open creates the configured backend and brings its schema up to date
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(opts.Clock), nil
	case DriverSQLite, DriverSQLite3, "":
		return OpenSQLite(ctx, opts)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN, opts.Clock)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// OpenSQLite opens a SQLite database with either the pure Go or the cgo driver
func OpenSQLite(ctx context.Context, opts Options) (*SQLStore, error) {
	dbPath := opts.DSN
	if dbPath == "" {
		dataDir := opts.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, "identeco.db")
	}

	driver := opts.Driver
	var dsn string
	switch driver {
	case DriverSQLite3:
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	default:
		driver = DriverSQLite
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, DialectSQLite, opts.Clock), nil
}

// OpenPostgres opens a Postgres database through pgx
func OpenPostgres(ctx context.Context, dsn string, c clock.Clock) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("connect", err)
	}
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, DialectPostgres, c), nil
}

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

// Migrate applies the embedded migrations for dialect
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect.Goose); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dialect.Migrations); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration
func (s *SQLStore) SchemaVersion(ctx context.Context) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	if err := goose.SetDialect(s.dialect.Goose); err != nil {
		return 0, fmt.Errorf("migration dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}
