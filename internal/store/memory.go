package store

import (
	"context"
	"sync"

	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/txn"
)

// Memory is an in-process Store. Units of work are serialized by one lock;
// writes are journaled and undone if the unit fails or panics.
type Memory struct {
	mu       sync.RWMutex
	accounts *ledger.MemoryStore
	listings *catalog.MemoryStore
	deals    *escrow.MemoryStore
	disputes *dispute.MemoryStore
	payments *payments.MemoryStore
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: ledger.NewMemoryStore(),
		listings: catalog.NewMemoryStore(),
		deals:    escrow.NewMemoryStore(),
		disputes: dispute.NewMemoryStore(),
		payments: payments.NewMemoryStore(),
	}
}

func (m *Memory) bind(j *txn.Journal) *Tx {
	return &Tx{
		accounts: m.accounts.Bind(j),
		listings: m.listings.Bind(j),
		deals:    m.deals.Bind(j),
		disputes: m.disputes.Bind(j),
		payments: m.payments.Bind(j),
	}
}

// WithTx runs fn with exclusive access and commits its writes if it returns nil.
func (m *Memory) WithTx(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j := &txn.Journal{}
	committed := false
	defer func() {
		if !committed {
			j.Rollback()
		}
	}()
	tx := m.bind(j).track()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	tx.committed()
	return nil
}

// View runs fn with shared access. fn must not write.
func (m *Memory) View(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.bind(nil))
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
