package payments

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/dealdesk/internal/txn"
)

// PostgresStore records payments in PostgreSQL.
type PostgresStore struct {
	q txn.Querier
}

// NewPostgresStore creates a PostgreSQL-backed payment log.
func NewPostgresStore(q txn.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (p *PostgresStore) Insert(ctx context.Context, pay *Payment) (bool, error) {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO payments (id, account_id, amount, provider, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		pay.ID, pay.AccountID, pay.Amount, pay.Provider, pay.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	pay := &Payment{}
	err := p.q.QueryRowContext(ctx, `
		SELECT id, account_id, amount, provider, created_at FROM payments WHERE id = $1`, id,
	).Scan(&pay.ID, &pay.AccountID, &pay.Amount, &pay.Provider, &pay.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return pay, nil
}

var _ Repo = (*PostgresStore)(nil)
