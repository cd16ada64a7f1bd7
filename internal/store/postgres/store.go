// Package postgres implements the store contract on PostgreSQL via
// database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"shifttrack.service/internal/store"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Every
// repository runs its statements through one DBTX, so a transaction-bound
// Store gives transactional repositories for free.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the production store.Store. The zero q is the pool; InTx produces
// copies bound to a single transaction.
type Store struct {
	db *sql.DB
	q  DBTX
}

// NewStore creates a Store on top of an opened connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Employees() store.EmployeeRepository {
	return &EmployeeRepository{q: s.q}
}

func (s *Store) Shifts() store.ShiftRepository {
	return &ShiftRepository{q: s.q}
}

func (s *Store) PendingActions() store.PendingActionRepository {
	return &PendingActionRepository{q: s.q}
}

func (s *Store) Queue() store.QueueRepository {
	return &QueueRepository{q: s.q}
}

func (s *Store) EventLog() store.EventLogRepository {
	return &EventLogRepository{q: s.q}
}

// InTx runs fn inside one transaction. A nested call reuses the surrounding
// transaction rather than opening a second one.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
