// Package store implements the unit of work behind every dealdesk operation.
//
// A Store runs a function against a *Tx that exposes one repository per
// table. Domain packages never see *Tx directly: each declares the slice of
// repositories it needs (ledger.Tx, escrow.Tx, ...) and receives a runner
// narrowed to it through Ledger, Catalog, Escrow and friends.
package store

import (
	"context"

	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/metrics"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/reconciliation"
	"github.com/mbd888/dealdesk/internal/txn"
)

// Tx is the set of repositories bound to one unit of work.
type Tx struct {
	accounts ledger.Repo
	listings catalog.Repo
	deals    escrow.Repo
	disputes dispute.Repo
	payments payments.Repo

	posted *postings
}

func (t *Tx) Accounts() ledger.Repo { return t.accounts }
func (t *Tx) Listings() catalog.Repo { return t.listings }
func (t *Tx) Deals() escrow.Repo { return t.deals }
func (t *Tx) Disputes() dispute.Repo { return t.disputes }
func (t *Tx) Payments() payments.Repo { return t.payments }

// track records the entries appended through this unit of work so they can
// be counted once it commits.
func (t *Tx) track() *Tx {
	t.posted = &postings{Repo: t.accounts}
	t.accounts = t.posted
	return t
}

// committed runs after a successful commit.
func (t *Tx) committed() {
	if t.posted != nil {
		t.posted.count()
	}
}

// postings wraps the account repository of one unit of work.
type postings struct {
	ledger.Repo
	kinds []ledger.EntryKind
}

func (p *postings) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	if err := p.Repo.AppendEntry(ctx, e); err != nil {
		return err
	}
	p.kinds = append(p.kinds, e.Kind)
	return nil
}

func (p *postings) count() {
	for _, k := range p.kinds {
		metrics.LedgerPostingsTotal.WithLabelValues(string(k)).Inc()
	}
}

// Store is a transactional backend.
type Store interface {
	txn.Runner[*Tx]
	// Ping reports whether the backend can serve requests.
	Ping(ctx context.Context) error
	Close() error
}

type unit[T any] struct {
	s    Store
	conv func(*Tx) T
}

func (u unit[T]) WithTx(ctx context.Context, fn func(T) error) error {
	return u.s.WithTx(ctx, func(tx *Tx) error { return fn(u.conv(tx)) })
}

func (u unit[T]) View(ctx context.Context, fn func(T) error) error {
	return u.s.View(ctx, func(tx *Tx) error { return fn(u.conv(tx)) })
}

func narrow[T any](s Store, conv func(*Tx) T) txn.Runner[T] {
	return unit[T]{s: s, conv: conv}
}

// Ledger narrows s to the account repositories.
func Ledger(s Store) txn.Runner[ledger.Tx] {
	return narrow(s, func(tx *Tx) ledger.Tx { return tx })
}

// Catalog narrows s to accounts and listings.
func Catalog(s Store) txn.Runner[catalog.Tx] {
	return narrow(s, func(tx *Tx) catalog.Tx { return tx })
}

// Escrow narrows s to what the deal engine touches.
func Escrow(s Store) txn.Runner[escrow.Tx] {
	return narrow(s, func(tx *Tx) escrow.Tx { return tx })
}

// Disputes narrows s to the dispute log.
func Disputes(s Store) txn.Runner[dispute.Tx] {
	return narrow(s, func(tx *Tx) dispute.Tx { return tx })
}

// Payments narrows s to accounts and processed payments.
func Payments(s Store) txn.Runner[payments.Tx] {
	return narrow(s, func(tx *Tx) payments.Tx { return tx })
}

// Reconciliation narrows s to accounts and deals.
func Reconciliation(s Store) txn.Runner[reconciliation.Tx] {
	return narrow(s, func(tx *Tx) reconciliation.Tx { return tx })
}
