// Package postgres implements domain.Store on PostgreSQL through pgx.
//
// Transitions lock the invoice row with SELECT ... FOR UPDATE and then apply a
// conditional update keyed on the expected status.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/invoicer/internal/domain"
)

// Store is a domain.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// New wraps an existing pool. The caller keeps ownership of the pool's lifetime
// unless it calls Close on the store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a read committed transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(pgxTx pgx.Tx) error {
		return fn(&tx{q: pgxTx})
	})
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type tx struct {
	q querier
}

var _ domain.Tx = (*tx)(nil)

// =============================================================================
// Helper Functions
// =============================================================================

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
