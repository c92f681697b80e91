package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/txn"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the goose files.
const MigrationsDir = "migrations"

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns production pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, MigrationsDir); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Postgres is a Store backed by PostgreSQL. Every unit of work is a
// SERIALIZABLE transaction; repositories lock the rows they change.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the pool for health checks and metrics.
func (p *Postgres) DB() *sql.DB { return p.db }

func bindSQL(q txn.Querier) *Tx {
	return &Tx{
		accounts: ledger.NewPostgresStore(q),
		listings: catalog.NewPostgresStore(q),
		deals:    escrow.NewPostgresStore(q),
		disputes: dispute.NewPostgresStore(q),
		payments: payments.NewPostgresStore(q),
	}
}

// WithTx runs fn in a serializable transaction and commits if it returns nil.
func (p *Postgres) WithTx(ctx context.Context, fn func(*Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// View runs fn in a read-only transaction.
func (p *Postgres) View(ctx context.Context, fn func(*Tx) error) error {
	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (p *Postgres) run(ctx context.Context, opts *sql.TxOptions, fn func(*Tx) error) error {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return classify(ctx, err)
	}
	defer func() { _ = tx.Rollback() }()

	unit := bindSQL(tx).track()
	if err := fn(unit); err != nil {
		return classify(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(ctx, err)
	}
	unit.committed()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// SQLSTATE codes the store translates.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"

	balanceConstraint = "accounts_balance_check"
)

// classify maps driver failures onto the error taxonomy. Domain errors pass
// through untouched.
func classify(ctx context.Context, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %s", apperr.ErrConflict, pqErr.Message)
		case codeCheckViolation:
			if pqErr.Constraint == balanceConstraint {
				return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, pqErr.Message)
			}
		}
		// Data exceptions (numeric overflow and friends) are caused by the input.
		if pqErr.Code.Class() == "22" {
			return fmt.Errorf("%w: %s", apperr.ErrValidation, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" || pqErr.Code.Class() == "53" {
			return apperr.Unavailable(err)
		}
		return fmt.Errorf("store: %w", err)
	}
	return apperr.Unavailable(err)
}

var _ Store = (*Postgres)(nil)
