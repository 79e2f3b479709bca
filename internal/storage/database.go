package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is wrapped by every lookup that finds nothing.
	ErrNotFound = fmt.Errorf("storage: %w", domain.ErrNotFound)

	ErrCardNotFound   = fmt.Errorf("card %w", ErrNotFound)
	ErrPlanNotFound   = fmt.Errorf("review plan %w", ErrNotFound)
	ErrSourceNotFound = fmt.Errorf("source %w", ErrNotFound)

	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("storage: duplicate entry")
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	log  *slog.Logger
}

// Open opens the SQLite database at path, creating it if needed, and
// migrates it to the latest schema. Foreign keys are enforced on every
// connection so deleting a card removes its plan and history.
func Open(path string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(conn, log); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn, log: log}, nil
}

// New wraps an already open connection without migrating it.
func New(conn *sql.DB, log *slog.Logger) *DB {
	if log == nil {
		log = slog.Default()
	}
	return &DB{conn: conn, log: log}
}

func migrate(conn *sql.DB, log *slog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: log.With("component", "migrations")})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// TxFn is a function run inside a transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn in a transaction that is committed when fn
// returns nil and rolled back otherwise. A panic in fn rolls back and
// is re-raised.
func (db *DB) RunInTransaction(ctx context.Context, fn TxFn) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		db.log.Error("failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.log.Error("failed to roll back transaction after panic", "error", rbErr, "panic", p)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.Error("failed to roll back transaction",
				"rollback_error", rbErr,
				"original_error", err,
			)
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		db.log.Debug("rolled back transaction", "error", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		db.log.Error("failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOneRow turns a zero-row update or delete into notFound.
func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type gooseLogger struct {
	log *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level. goose reports the failure through its
// returned error as well, so the process is left running.
func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
