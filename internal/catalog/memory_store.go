package catalog

import (
	"context"
	"sort"

	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/txn"
)

// MemoryStore holds listings in memory. Access is serialized by store.Memory.
type MemoryStore struct {
	listings map[string]*Listing
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

// Bind returns a Repo whose writes are undone if j rolls back.
func (m *MemoryStore) Bind(j *txn.Journal) Repo {
	return &memoryRepo{m: m, j: j}
}

type memoryRepo struct {
	m *MemoryStore
	j *txn.Journal
}

func (r *memoryRepo) Create(_ context.Context, l *Listing) error {
	cp := *l
	r.m.listings[l.ID] = &cp
	r.j.Record(func() { delete(r.m.listings, l.ID) })
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Listing, error) {
	l, ok := r.m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id string) (*Listing, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) Update(_ context.Context, l *Listing) error {
	prev, ok := r.m.listings[l.ID]
	if !ok {
		return ErrListingNotFound
	}
	cp := *l
	r.m.listings[l.ID] = &cp
	r.j.Record(func() { r.m.listings[l.ID] = prev })
	return nil
}

func (r *memoryRepo) ListActive(_ context.Context, category string, after *pagination.Cursor, limit int) ([]*Listing, error) {
	var all []*Listing
	for _, l := range r.m.listings {
		if !l.Active || (category != "" && l.Category != category) || after.Before(l.CreatedAt, l.ID) {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]*Listing, error) {
	var out []*Listing
	for _, l := range r.m.listings {
		if l.Active && l.OwnerID == ownerID {
			cp := *l
			out = append(out, &cp)
		}
	}
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

var _ Repo = (*memoryRepo)(nil)
