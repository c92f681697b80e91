package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/payments"
	"github.com/mbd888/dealdesk/internal/reconciliation"
	"github.com/mbd888/dealdesk/internal/store"
)

// AdminID is the admin account every Market is configured with.
const AdminID = "admin"

// Market wires every service over one store, the way cmd/server does.
type Market struct {
	Store    store.Store
	Ledger   *ledger.Service
	Catalog  *catalog.Catalog
	Engine   *escrow.Engine
	Disputes *dispute.Log
	Payments *payments.Gateway
	Recon    *reconciliation.Service
	Events   *Recorder
	Clock    *Clock
}

// NewMarket builds a market on a fresh in-memory store with the default
// commission rate and an opened admin account.
func NewMarket(t testing.TB) *Market {
	t.Helper()
	return NewMarketWithStore(t, store.NewMemory(), decimal.Zero)
}

// NewMarketWithStore builds a market over s. A zero rate means the default.
func NewMarketWithStore(t testing.TB, s store.Store, rate decimal.Decimal) *Market {
	t.Helper()
	m := &Market{Store: s, Events: &Recorder{}, Clock: NewClock()}

	m.Ledger = ledger.NewService(store.Ledger(s), AdminID).WithNotifier(m.Events).WithClock(m.Clock.Now)
	m.Catalog = catalog.New(store.Catalog(s)).WithClock(m.Clock.Now)
	engine, err := escrow.NewEngine(store.Escrow(s), escrow.Config{AdminID: AdminID, CommissionRate: rate})
	require.NoError(t, err)
	m.Engine = engine.WithNotifier(m.Events).WithClock(m.Clock.Now)
	m.Disputes = dispute.NewLog(store.Disputes(s))
	m.Payments = payments.NewGateway(store.Payments(s)).WithNotifier(m.Events).WithClock(m.Clock.Now)
	m.Recon = reconciliation.NewService(store.Reconciliation(s), nil)

	m.Open(t, AdminID)
	return m
}

// Open opens an account.
func (m *Market) Open(t testing.TB, id string) *ledger.Account {
	t.Helper()
	acct, _, err := m.Ledger.OpenAccount(context.Background(), id, id)
	require.NoError(t, err)
	return acct
}

// Fund opens id if needed and deposits amount.
func (m *Market) Fund(t testing.TB, id, amount string) *ledger.Account {
	t.Helper()
	m.Open(t, id)
	acct, err := m.Ledger.AdjustBalance(context.Background(), id, decimal.RequireFromString(amount), ledger.EntryDeposit, "test")
	require.NoError(t, err)
	return acct
}

// List opens owner if needed and creates an active listing.
func (m *Market) List(t testing.TB, owner, price string) *catalog.Listing {
	t.Helper()
	m.Open(t, owner)
	l, err := m.Catalog.CreateListing(context.Background(), catalog.CreateRequest{
		OwnerID:  owner,
		Title:    "Item from " + owner,
		Price:    decimal.RequireFromString(price),
		Category: "games",
	})
	require.NoError(t, err)
	return l
}

// Balance returns id's current balance.
func (m *Market) Balance(t testing.TB, id string) decimal.Decimal {
	t.Helper()
	acct, err := m.Ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

// RequireBalanced fails the test if reconciliation finds any imbalance.
func (m *Market) RequireBalanced(t testing.TB) *reconciliation.Report {
	t.Helper()
	r, err := m.Recon.Run(context.Background())
	require.NoError(t, err)
	require.True(t, r.Balanced, "diff=%s drift=%v", r.Diff, r.Drift)
	return r
}

// Recorder is an events.Notifier that keeps everything it receives.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) Notify(_ context.Context, evs []events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

// All returns a copy of the recorded events.
func (r *Recorder) All() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []events.Type {
	var out []events.Type
	for _, ev := range r.All() {
		out = append(out, ev.Type)
	}
	return out
}

// Last returns the most recent event of type t and whether one was found.
func (r *Recorder) Last(t events.Type) (events.Event, bool) {
	all := r.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == t {
			return all[i], true
		}
	}
	return events.Event{}, false
}

// Clock is a deterministic time source that advances a millisecond per call,
// so records created in sequence always sort in that sequence.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
