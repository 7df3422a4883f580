package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrStale is returned when a write carries an older UpdatedAt than the
	// stored row (or than a tombstone for the same id). Nothing is changed.
	ErrStale = errors.New("stale write rejected")
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransition is returned when an outbox row is not in the status the
	// requested transition starts from.
	ErrTransition = errors.New("invalid outbox status transition")
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// ops holds every cache and outbox operation so the same methods are
// available on *DB and inside a *Tx.
type ops struct {
	q execer
}

// DB wraps the SQLite connection for the app-owned cache.db.
type DB struct {
	*sql.DB
	ops
}

// Tx is a write transaction exposing the same operations as DB.
type Tx struct {
	tx *sql.Tx
	ops
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Transactions begin IMMEDIATE so read-then-write sequences (outbox claims,
// id rewrites) cannot interleave with another writer.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, ops: ops{q: db}}, nil
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(fn func(tx *Tx) error) error {
	sqlTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{tx: sqlTx, ops: ops{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// changed maps a zero-row write to err.
func changed(res sql.Result, err error, onZero error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return onZero
	}
	return nil
}
