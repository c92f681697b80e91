package dispute

import (
	"context"

	"github.com/mbd888/dealdesk/internal/txn"
)

// MemoryStore keeps threads in append order. Access is serialized by store.Memory.
type MemoryStore struct {
	threads map[string][]*Message
}

// NewMemoryStore creates an empty in-memory dispute log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]*Message)}
}

// Bind returns a Repo whose writes are undone if j rolls back.
func (m *MemoryStore) Bind(j *txn.Journal) Repo {
	return &memoryRepo{m: m, j: j}
}

type memoryRepo struct {
	m *MemoryStore
	j *txn.Journal
}

func (r *memoryRepo) Append(_ context.Context, msg *Message) error {
	thread := r.m.threads[msg.DealID]
	n := len(thread)
	cp := *msg
	r.m.threads[msg.DealID] = append(thread, &cp)
	r.j.Record(func() {
		if n == 0 {
			delete(r.m.threads, msg.DealID)
			return
		}
		r.m.threads[msg.DealID] = r.m.threads[msg.DealID][:n]
	})
	return nil
}

func (r *memoryRepo) List(_ context.Context, dealID string) ([]*Message, error) {
	thread := r.m.threads[dealID]
	out := make([]*Message, 0, len(thread))
	for _, msg := range thread {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryRepo) Counts(_ context.Context, dealIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(dealIDs))
	for _, id := range dealIDs {
		out[id] = len(r.m.threads[id])
	}
	return out, nil
}

var _ Repo = (*memoryRepo)(nil)
