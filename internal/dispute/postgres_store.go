package dispute

import (
	"context"

	"github.com/lib/pq"

	"github.com/mbd888/dealdesk/internal/txn"
)

// PostgresStore persists dispute messages in PostgreSQL.
type PostgresStore struct {
	q txn.Querier
}

// NewPostgresStore creates a PostgreSQL-backed dispute log.
func NewPostgresStore(q txn.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (p *PostgresStore) Append(ctx context.Context, m *Message) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO dispute_messages (id, deal_id, author_id, text, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.DealID, m.AuthorID, m.Text, m.SentAt,
	)
	return err
}

func (p *PostgresStore) List(ctx context.Context, dealID string) ([]*Message, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, deal_id, author_id, text, sent_at
		FROM dispute_messages
		WHERE deal_id = $1
		ORDER BY sent_at, seq`, dealID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Message{}
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.DealID, &m.AuthorID, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Counts(ctx context.Context, dealIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(dealIDs))
	for _, id := range dealIDs {
		out[id] = 0
	}
	if len(dealIDs) == 0 {
		return out, nil
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT deal_id, COUNT(*) FROM dispute_messages
		WHERE deal_id = ANY($1)
		GROUP BY deal_id`, pq.Array(dealIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

var _ Repo = (*PostgresStore)(nil)
