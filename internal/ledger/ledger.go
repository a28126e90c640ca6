// Package ledger keeps a local SQLite history of resource operations. The
// schema is managed by goose migrations embedded in the binary.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/podgate/podgate/internal/pod"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsert = `INSERT INTO operations
		(recorded_at, op, method, uri, status, error_msg)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlRecent = `SELECT id, recorded_at, op, method, uri, status, error_msg
		FROM operations ORDER BY recorded_at DESC, id DESC LIMIT ?`

	sqlPrune = `DELETE FROM operations WHERE recorded_at < ?`
)

// Entry is one stored operation.
type Entry struct {
	ID     int64
	Time   time.Time
	Op     string
	Method string
	URI    string
	Status int
	Err    string
}

// Store is the sole writer to the history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements pod.Recorder.
func (s *Store) Record(ctx context.Context, op pod.Operation) error {
	at := op.Time
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, sqlInsert,
		at.UnixNano(), op.Op, op.Method, op.URI, op.Status, op.Err)
	if err != nil {
		return fmt.Errorf("ledger: recording %s %s: %w", op.Method, op.URI, err)
	}

	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, sqlRecent, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying history: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e  Entry
			ns int64
		)

		if err := rows.Scan(&e.ID, &ns, &e.Op, &e.Method, &e.URI, &e.Status, &e.Err); err != nil {
			return nil, fmt.Errorf("ledger: scanning history row: %w", err)
		}

		e.Time = time.Unix(0, ns).UTC()
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating history rows: %w", err)
	}

	return out, nil
}

// Prune deletes entries recorded before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlPrune, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning history: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning history: %w", err)
	}

	if n > 0 {
		s.logger.Info("pruned history", slog.Int64("rows", n))
	}

	return n, nil
}
