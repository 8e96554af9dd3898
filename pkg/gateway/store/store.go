// Package store persists conversations and serves the marketplace catalog the
// assistant's tools search. It runs on database/sql with either the pgx or the
// sqlite3 driver; queries are written with "?" placeholders and rebound for
// Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// ErrNotFound is returned for unknown ids and ids owned by someone else.
var ErrNotFound = errors.New("not found")

type Driver string

const (
	DriverPostgres Driver = "pgx"
	DriverSQLite   Driver = "sqlite3"
)

type Options struct {
	Driver         Driver
	DSN            string
	MaxOpenConns   int
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type Store struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
	now    func() time.Time
}

// Open connects and pings the database. Migrations are not applied; call
// Migrate for that.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite:
		db, err = sql.Open(string(DriverSQLite), sqliteDSN(opts.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// A single connection serializes writers and avoids SQLITE_BUSY under
		// concurrent transactions.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open(string(DriverPostgres), opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		maxOpen := opts.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(max(1, maxOpen/2))
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	return &Store{db: db, driver: opts.Driver, logger: opts.Logger, now: time.Now}, nil
}

func sqliteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "file:assistant.db"
	}
	params := []string{"_journal_mode=WAL", "_busy_timeout=5000", "_foreign_keys=on"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range params {
		key := p[:strings.IndexByte(p, '=')+1]
		if strings.Contains(dsn, key) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	return dsn
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migration is one applied schema version.
type Migration struct {
	Version  int64
	Path     string
	Duration time.Duration
}

// Migrate applies pending embedded migrations and returns what ran.
func (s *Store) Migrate(ctx context.Context) ([]Migration, error) {
	dialect := goose.DialectSQLite3
	if s.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	// The provider is not closed: Close would close the shared *sql.DB.
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	applied := make([]Migration, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil || r.Error != nil {
			continue
		}
		applied = append(applied, Migration{Version: r.Source.Version, Path: r.Source.Path, Duration: r.Duration})
		s.logger.Info("migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}

// rebind rewrites "?" placeholders to "$n" for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
