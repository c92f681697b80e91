package escrow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/txn"
)

// PostgresStore persists deals in PostgreSQL. Construct one per transaction.
type PostgresStore struct {
	q txn.Querier
}

// NewPostgresStore creates a PostgreSQL-backed deal repository.
func NewPostgresStore(q txn.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const dealColumns = `id, buyer_id, seller_id, listing_id, amount, commission, status,
	buyer_confirmed, seller_confirmed, disputed_by, resolution,
	created_at, updated_at, sent_at, disputed_at, completed_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(sc scanner) (*Deal, error) {
	d := &Deal{}
	var (
		disputedBy, resolution                    sql.NullString
		sentAt, disputedAt, completedAt, resolved sql.NullTime
	)
	err := sc.Scan(
		&d.ID, &d.BuyerID, &d.SellerID, &d.ListingID, &d.Amount, &d.Commission, &d.Status,
		&d.BuyerConfirmed, &d.SellerConfirmed, &disputedBy, &resolution,
		&d.CreatedAt, &d.UpdatedAt, &sentAt, &disputedAt, &completedAt, &resolved,
	)
	if err != nil {
		return nil, err
	}
	d.DisputedBy = disputedBy.String
	d.Resolution = Decision(resolution.String)
	d.SentAt = timePtr(sentAt)
	d.DisputedAt = timePtr(disputedAt)
	d.CompletedAt = timePtr(completedAt)
	d.ResolvedAt = timePtr(resolved)
	return d, nil
}

func (p *PostgresStore) Create(ctx context.Context, d *Deal) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.BuyerID, d.SellerID, d.ListingID, d.Amount, d.Commission, string(d.Status),
		d.BuyerConfirmed, d.SellerConfirmed, nullString(d.DisputedBy), nullString(string(d.Resolution)),
		d.CreatedAt, d.UpdatedAt, d.SentAt, d.DisputedAt, d.CompletedAt, d.ResolvedAt,
	)
	return err
}

func (p *PostgresStore) get(ctx context.Context, query, id string) (*Deal, error) {
	d, err := scanDeal(p.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDealNotFound
	}
	return d, err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Deal, error) {
	return p.get(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
}

func (p *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Deal, error) {
	return p.get(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
}

// Update writes the mutable columns. amount and commission are never updated.
func (p *PostgresStore) Update(ctx context.Context, d *Deal) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE deals SET
			status = $1, buyer_confirmed = $2, seller_confirmed = $3, disputed_by = $4, resolution = $5,
			updated_at = $6, sent_at = $7, disputed_at = $8, completed_at = $9, resolved_at = $10
		WHERE id = $11`,
		string(d.Status), d.BuyerConfirmed, d.SellerConfirmed, nullString(d.DisputedBy), nullString(string(d.Resolution)),
		d.UpdatedAt, d.SentAt, d.DisputedAt, d.CompletedAt, d.ResolvedAt, d.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDealNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Deal, error) {
	return p.list(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, accountID, limit)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Deal, error) {
	return p.list(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, string(status), limit)
}

func (p *PostgresStore) HeldTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := p.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM deals
		WHERE status NOT IN ('completed', 'refunded')`).Scan(&total)
	return total, err
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Deal, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Deal{}
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Repo = (*PostgresStore)(nil)
