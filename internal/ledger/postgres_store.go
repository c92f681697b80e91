package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/dealdesk/internal/txn"
)

// PostgresStore implements Repo with PostgreSQL. Construct one per
// transaction so GetForUpdate locks hold until commit.
type PostgresStore struct {
	q txn.Querier
}

// NewPostgresStore creates a PostgreSQL-backed ledger repository.
func NewPostgresStore(q txn.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const accountColumns = `id, username, balance, rating, deals_count, banned, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (*Account, error) {
	a := &Account{}
	var username sql.NullString
	if err := sc.Scan(&a.ID, &username, &a.Balance, &a.Rating, &a.DealsCount, &a.Banned, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Username = username.String
	return a, nil
}

func (p *PostgresStore) Insert(ctx context.Context, a *Account) (bool, error) {
	res, err := p.q.ExecContext(ctx, `
		INSERT INTO accounts (id, username, balance, rating, deals_count, banned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, nullString(a.Username), a.Balance, a.Rating, a.DealsCount, a.Banned, a.CreatedAt, a.UpdatedAt,
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

func (p *PostgresStore) get(ctx context.Context, query, id string) (*Account, error) {
	a, err := scanAccount(p.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return p.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (p *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Account, error) {
	return p.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE accounts SET
			username = $1, balance = $2, rating = $3, deals_count = $4, banned = $5, updated_at = $6
		WHERE id = $7`,
		nullString(a.Username), a.Balance, a.Rating, a.DealsCount, a.Banned, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) AppendEntry(ctx context.Context, e *Entry) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, delta, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AccountID, string(e.Kind), e.Delta, e.BalanceAfter, nullString(e.Reference), e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListEntries(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, account_id, kind, delta, balance_after, reference, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var kind string
		var ref sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &kind, &e.Delta, &e.BalanceAfter, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		e.Reference = ref.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := p.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(balance), 0) FROM accounts),
			(SELECT COALESCE(SUM(delta), 0) FROM ledger_entries
			  WHERE kind IN ('deposit', 'withdrawal', 'adjustment'))`,
	).Scan(&t.Balances, &t.External)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) Drift(ctx context.Context) ([]Drift, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT a.id, a.balance, COALESCE(SUM(e.delta), 0) AS journal
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(e.delta), 0)
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.AccountID, &d.Balance, &d.Journal); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PostgresStore)(nil)
