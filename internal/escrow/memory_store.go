package escrow

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/txn"
)

// MemoryStore holds deals in memory. Access is serialized by store.Memory.
type MemoryStore struct {
	deals map[string]*Deal
}

// NewMemoryStore creates an empty in-memory deal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deals: make(map[string]*Deal)}
}

// Bind returns a Repo whose writes are undone if j rolls back.
func (m *MemoryStore) Bind(j *txn.Journal) Repo {
	return &memoryRepo{m: m, j: j}
}

type memoryRepo struct {
	m *MemoryStore
	j *txn.Journal
}

func (r *memoryRepo) Create(_ context.Context, d *Deal) error {
	cp := *d
	r.m.deals[d.ID] = &cp
	r.j.Record(func() { delete(r.m.deals, d.ID) })
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Deal, error) {
	d, ok := r.m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id string) (*Deal, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) Update(_ context.Context, d *Deal) error {
	prev, ok := r.m.deals[d.ID]
	if !ok {
		return ErrDealNotFound
	}
	cp := *d
	r.m.deals[d.ID] = &cp
	r.j.Record(func() { r.m.deals[d.ID] = prev })
	return nil
}

func (r *memoryRepo) ListByAccount(_ context.Context, accountID string, limit int) ([]*Deal, error) {
	out := r.filter(func(d *Deal) bool { return d.BuyerID == accountID || d.SellerID == accountID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListByStatus(_ context.Context, status Status, limit int) ([]*Deal, error) {
	out := r.filter(func(d *Deal) bool { return d.Status == status })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) HeldTotal(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, d := range r.m.deals {
		if !d.Status.IsTerminal() {
			total = total.Add(d.Amount)
		}
	}
	return total, nil
}

func (r *memoryRepo) filter(keep func(*Deal) bool) []*Deal {
	out := []*Deal{}
	for _, d := range r.m.deals {
		if keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

var _ Repo = (*memoryRepo)(nil)
