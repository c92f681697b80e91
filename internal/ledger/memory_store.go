package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/txn"
)

// MemoryStore holds accounts and entries in memory. It does no locking of
// its own: the owning unit of work (store.Memory) serializes access.
type MemoryStore struct {
	accounts map[string]*Account
	entries  []*Entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// Bind returns a Repo whose writes are undone if j rolls back.
func (m *MemoryStore) Bind(j *txn.Journal) Repo {
	return &memoryRepo{m: m, j: j}
}

type memoryRepo struct {
	m *MemoryStore
	j *txn.Journal
}

func (r *memoryRepo) Insert(_ context.Context, a *Account) (bool, error) {
	if _, ok := r.m.accounts[a.ID]; ok {
		return false, nil
	}
	cp := *a
	r.m.accounts[a.ID] = &cp
	r.j.Record(func() { delete(r.m.accounts, a.ID) })
	return true, nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Account, error) {
	a, ok := r.m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id string) (*Account, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) Update(_ context.Context, a *Account) error {
	prev, ok := r.m.accounts[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	cp := *a
	r.m.accounts[a.ID] = &cp
	r.j.Record(func() { r.m.accounts[a.ID] = prev })
	return nil
}

func (r *memoryRepo) AppendEntry(_ context.Context, e *Entry) error {
	n := len(r.m.entries)
	cp := *e
	r.m.entries = append(r.m.entries, &cp)
	r.j.Record(func() { r.m.entries = r.m.entries[:n] })
	return nil
}

func (r *memoryRepo) ListEntries(_ context.Context, accountID string, limit int) ([]*Entry, error) {
	var out []*Entry
	for i := len(r.m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.m.entries[i]; e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepo) Totals(_ context.Context) (Totals, error) {
	t := Totals{Balances: decimal.Zero, External: decimal.Zero}
	for _, a := range r.m.accounts {
		t.Balances = t.Balances.Add(a.Balance)
	}
	for _, e := range r.m.entries {
		if e.Kind.IsExternal() {
			t.External = t.External.Add(e.Delta)
		}
	}
	return t, nil
}

func (r *memoryRepo) Drift(_ context.Context) ([]Drift, error) {
	sums := make(map[string]decimal.Decimal, len(r.m.accounts))
	for _, e := range r.m.entries {
		sums[e.AccountID] = sums[e.AccountID].Add(e.Delta)
	}
	var out []Drift
	for id, a := range r.m.accounts {
		if j := sums[id]; !j.Equal(a.Balance) {
			out = append(out, Drift{AccountID: id, Balance: a.Balance, Journal: j})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

var _ Repo = (*memoryRepo)(nil)
