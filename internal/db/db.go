package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"mago-voice-backend/internal/log"
)

//go:embed migrations/*.sql
var embedded embed.FS

// migrationLockID is the advisory lock key held while migrating, so that
// replicas starting together apply each migration once.
const migrationLockID = 727_001

// DB wraps the connection pool of the conversation log database.
type DB struct {
	*sql.DB
}

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 2
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// New opens dsn with default pool options.
func New(dsn string) (*DB, error) {
	return Open(context.Background(), dsn, Options{})
}

// Open connects to postgres and verifies the connection. A DSN without an
// sslmode that fails to connect is retried once with sslmode=disable, which
// is what local development databases usually need.
func Open(ctx context.Context, dsn string, opts Options) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: connection string is required")
	}
	opts = opts.withDefaults()

	sqlDB, err := connect(ctx, dsn, opts)
	if err != nil && !hasSSLMode(dsn) {
		log.Warn("database unreachable, retrying with sslmode=disable", "error", err)
		sqlDB, err = connect(ctx, withSSLDisabled(dsn), opts)
	}
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return &DB{DB: sqlDB}, nil
}

func connect(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return sqlDB, nil
}

var sslModeRe = regexp.MustCompile(`(?i)sslmode\s*=`)

func hasSSLMode(dsn string) bool { return sslModeRe.MatchString(dsn) }

func withSSLDisabled(dsn string) string {
	switch {
	case strings.Contains(dsn, "?"):
		return dsn + "&sslmode=disable"
	case strings.Contains(dsn, "://"):
		return dsn + "?sslmode=disable"
	default:
		return dsn + " sslmode=disable"
	}
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrate applies the embedded migrations.
func (db *DB) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return err
	}
	_, err = db.RunMigrations(ctx, sub)
	return err
}

// RunMigrations applies every "NNN_name.sql" file of fsys that is not yet
// recorded in schema_migrations, each in its own transaction, and returns
// the versions it applied.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) ([]int, error) {
	pending, err := readMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("db: read migrations: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return nil, fmt.Errorf("db: migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("db: create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := apply(ctx, conn, m); err != nil {
			return done, err
		}
		log.Info("applied migration", "version", m.version, "name", m.name)
		done = append(done, m.version)
	}
	return done, nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("db: list migrations: %w", err)
	}
	defer rows.Close()
	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func apply(ctx context.Context, conn *sql.Conn, m migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("db: migration %03d_%s: %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("db: record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

type migration struct {
	version int
	name    string
	sql     string
}

// readMigrations returns the numbered .sql files at the top of fsys in
// version order. Files without a numeric prefix are ignored; two files
// with the same number are an error.
func readMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []migration
	seen := map[int]string{}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		num, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, e.Name(), version)
		}
		seen[version] = e.Name()
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
