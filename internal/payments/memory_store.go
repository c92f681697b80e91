package payments

import (
	"context"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/txn"
)

var errPaymentNotFound = apperr.NotFound("payment not found")

// MemoryStore records payments in memory. Access is serialized by store.Memory.
type MemoryStore struct {
	payments map[string]*Payment
}

// NewMemoryStore creates an empty in-memory payment log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

// Bind returns a Repo whose writes are undone if j rolls back.
func (m *MemoryStore) Bind(j *txn.Journal) Repo {
	return &memoryRepo{m: m, j: j}
}

type memoryRepo struct {
	m *MemoryStore
	j *txn.Journal
}

func (r *memoryRepo) Insert(_ context.Context, p *Payment) (bool, error) {
	if _, ok := r.m.payments[p.ID]; ok {
		return false, nil
	}
	cp := *p
	r.m.payments[p.ID] = &cp
	r.j.Record(func() { delete(r.m.payments, p.ID) })
	return true, nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*Payment, error) {
	p, ok := r.m.payments[id]
	if !ok {
		return nil, errPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

var _ Repo = (*memoryRepo)(nil)
