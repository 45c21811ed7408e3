// Package store persists work packages, their dependent records and the
// location and catalog hierarchies in SQLite.
//
// Queries are built with ent's SQL builder and run through ent's SQL
// driver; the schema is migrated from Tables.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	drv    *entsql.Driver
	logger *zap.Logger
	clock  func() time.Time
}

// Open connects to dsn (a modernc sqlite DSN) and enables foreign keys.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign keys explicitly. Required for SQLite.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return &Store{
		db:     db,
		drv:    entsql.OpenDB(dialect.SQLite, db),
		logger: logger,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.drv.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

// querier is satisfied by the driver and by a transaction.
type querier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// exec runs a built statement and returns its result.
func exec(ctx context.Context, q querier, query string, args []any) (sql.Result, error) {
	var res sql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "starting transaction", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Error("rollback failed", zap.Error(rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "committing transaction", err)
	}
	return nil
}

// mapError converts SQLite constraint failures into typed errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if stderrors.As(err, &appErr) {
		return err
	}
	var sqlErr *sqlite.Error
	if stderrors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperrors.Wrap(apperrors.CodeConstraintDuplicate, "duplicate value", err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperrors.Wrap(apperrors.CodeConstraintForeignKey, "referenced record does not exist", err)
		}
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(apperrors.CodeNotFound, "not found", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, "database error", err)
}
