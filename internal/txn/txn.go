// Package txn holds the unit-of-work contracts shared by the domain packages
// and the store that implements them.
package txn

import (
	"context"
	"database/sql"
)

// Runner executes fn inside one unit of work. T is the set of repositories a
// package needs, declared by that package (ledger.Tx, escrow.Tx, ...).
//
// WithTx commits when fn returns nil and rolls every write back otherwise.
// View runs fn with read-only access.
type Runner[T any] interface {
	WithTx(ctx context.Context, fn func(T) error) error
	View(ctx context.Context, fn func(T) error) error
}

// Querier is satisfied by both *sql.DB and *sql.Tx, so PostgreSQL
// repositories work inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Journal collects undo actions for in-memory writes made during a unit of
// work. A nil *Journal records nothing, which is what read-only views use.
type Journal struct {
	undo []func()
}

// Record registers fn to run if the unit of work rolls back.
func (j *Journal) Record(fn func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// Rollback runs the recorded undo actions newest first and clears them.
func (j *Journal) Rollback() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Len reports how many undo actions are pending.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}
