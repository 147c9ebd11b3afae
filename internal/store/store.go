// Package store is the key store (spec §4.3): one SQLite database per
// caller-supplied path, opened with the pure-Go modernc.org/sqlite driver —
// grounded on the teacher's sibling pack member gophkeeper's client-side
// store (internal/client/client/db.go's sql.Open("sqlite", dsn) plus a
// migration runner invoked on open) rather than the teacher's own
// passphrase-wrapped JSON file store, since the spec requires transactional
// multi-row writes and versioned schema migrations a flat file cannot give.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"limepq/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every CRUD
// method run unmodified whether it is called at the top level or inside
// WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB implements domain.Store over a SQLite database.
type DB struct {
	conn *sql.DB
	q    querier
}

// Open opens (creating if absent) the database at dsn and brings it up to
// the current schema version.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	conn.SetMaxOpenConns(1) // SQLite write-serializes anyway; avoid SQLITE_BUSY
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn, q: conn}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

// WithTx runs fn against a DB bound to a single *sql.Tx; a non-nil return
// rolls the transaction back, otherwise it commits (spec §4.3 "single
// transaction per logical operation").
func (d *DB) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("store.WithTx", err)
	}
	child := &DB{conn: d.conn, q: tx}
	if err := fn(child); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("store.WithTx", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewError(domain.KindStorageFail, op, err.Error(), err)
}

func notFound(op, detail string) error {
	return domain.NewError(domain.KindNotFound, op, detail, nil)
}
