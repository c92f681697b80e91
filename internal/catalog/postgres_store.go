package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/txn"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	q txn.Querier
}

// NewPostgresStore creates a PostgreSQL-backed listing repository.
func NewPostgresStore(q txn.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const listingColumns = `id, owner_id, title, description, price, category, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	var desc sql.NullString
	err := sc.Scan(&l.ID, &l.OwnerID, &l.Title, &desc, &l.Price, &l.Category, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Description = desc.String
	return l, nil
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.OwnerID, l.Title, nullString(l.Description), l.Price, l.Category, l.Active, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) get(ctx context.Context, query, id string) (*Listing, error) {
	l, err := scanListing(p.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	return p.get(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
}

func (p *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Listing, error) {
	return p.get(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id)
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE listings SET active = $1, updated_at = $2 WHERE id = $3`,
		l.Active, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (p *PostgresStore) ListActive(ctx context.Context, category string, after *pagination.Cursor, limit int) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE active`
	args := []any{}
	if category != "" {
		args = append(args, category)
		query += ` AND category = $1`
	}
	if after != nil {
		n := len(args)
		args = append(args, after.CreatedAt, after.ID)
		query += ` AND (created_at, id) > ($` + strconv.Itoa(n+1) + `, $` + strconv.Itoa(n+2) + `)`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at, id LIMIT $` + strconv.Itoa(len(args))
	return p.list(ctx, query, args...)
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	return p.list(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1 AND active
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, ownerID, limit)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Listing, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PostgresStore)(nil)
