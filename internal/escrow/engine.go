package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/metrics"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/traces"
	"github.com/mbd888/dealdesk/internal/txn"
)

// DefaultCommissionRate is the platform's share of every released deal.
var DefaultCommissionRate = decimal.RequireFromString("0.08")

// Paging defaults for deal history.
const (
	DefaultDealsLimit = 10
	MaxDealsLimit     = 100
	MaxQueueLimit     = 500
)

// Config is fixed at construction. Changing the rate means building a new
// engine; deals already created keep the commission they were created with.
type Config struct {
	AdminID               string
	CommissionRecipientID string // defaults to AdminID
	CommissionRate        decimal.Decimal
}

// Result is the outcome of a dispute message post.
type Result struct {
	Deal    *Deal
	Message *dispute.Message
	Events  []events.Event
}

// Engine runs deal transitions.
type Engine struct {
	uow      txn.Runner[Tx]
	cfg      Config
	notifier events.Notifier
	logger   *slog.Logger
	now      func() time.Time

	queueLimit int
}

// NewEngine validates cfg and creates an engine. A zero CommissionRate means
// DefaultCommissionRate; use a tiny positive rate rather than zero if the
// platform should take nothing.
func NewEngine(uow txn.Runner[Tx], cfg Config) (*Engine, error) {
	if cfg.AdminID == "" {
		return nil, fmt.Errorf("%w: admin id is required", ErrInvalidConfig)
	}
	if cfg.CommissionRecipientID == "" {
		cfg.CommissionRecipientID = cfg.AdminID
	}
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = DefaultCommissionRate
	}
	if err := money.ValidRate(cfg.CommissionRate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Engine{
		uow:      uow,
		cfg:      cfg,
		notifier: events.Discard,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },

		queueLimit: MaxQueueLimit,
	}, nil
}

// WithNotifier sets where committed events are delivered.
func (e *Engine) WithNotifier(n events.Notifier) *Engine {
	e.notifier = n
	return e
}

// WithLogger sets the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithQueueLimit caps how many disputes ListOpenDisputes returns.
func (e *Engine) WithQueueLimit(n int) *Engine {
	if n > 0 {
		e.queueLimit = n
	}
	return e
}

// Config returns the engine configuration with defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// run executes fn in one unit of work, records the outcome and, after a
// successful commit, publishes the events fn produced.
func (e *Engine) run(ctx context.Context, op, dealID, actorID string, fn func(tx Tx, now time.Time) ([]events.Event, error)) (err error) {
	started := time.Now()
	ctx, span := traces.StartSpan(ctx, "escrow."+op, traces.DealID(dealID), traces.ActorID(actorID))
	defer func() {
		traces.End(span, err)
		outcome := "ok"
		if err != nil {
			outcome = apperr.Code(err)
		}
		metrics.ObserveDealOp(op, outcome, started)
	}()

	var evs []events.Event
	now := e.now()
	err = e.uow.WithTx(ctx, func(tx Tx) error {
		var err error
		evs, err = fn(tx, now)
		return err
	})
	if err != nil {
		e.logger.DebugContext(ctx, "deal operation rejected", "op", op, "deal_id", dealID, "actor_id", actorID, "error", err)
		return err
	}
	events.Publish(ctx, e.notifier, evs)
	return nil
}

func checkTransition(d *Deal, next Status) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: deal is %s", ErrInvalidTransition, d.Status)
	}
	return nil
}

func (e *Engine) event(t events.Type, d *Deal, now time.Time, admin bool) events.Event {
	recipients := []string{d.BuyerID, d.SellerID}
	if admin {
		recipients = append(recipients, e.cfg.AdminID)
	}
	ev := events.New(t, now, recipients...)
	ev.DealID = d.ID
	ev.Data["status"] = string(d.Status)
	ev.Data["amount"] = money.Format(d.Amount)
	return ev
}

// Purchase moves the listing price from the buyer's balance into a new
// pending deal. The commission is computed now and never recomputed.
func (e *Engine) Purchase(ctx context.Context, buyerID, listingID string) (*Deal, error) {
	d := &Deal{ID: idgen.New(), BuyerID: buyerID, ListingID: listingID, Status: StatusPending}
	err := e.run(ctx, "purchase", d.ID, buyerID, func(tx Tx, now time.Time) ([]events.Event, error) {
		l, err := tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if !l.Active {
			return nil, catalog.ErrListingInactive
		}
		if l.OwnerID == buyerID {
			return nil, ErrSelfPurchase
		}
		buyer, err := tx.Accounts().Get(ctx, buyerID)
		if err != nil {
			return nil, err
		}
		if buyer.Banned {
			return nil, ledger.ErrAccountBanned
		}

		if _, _, err := ledger.Apply(ctx, tx.Accounts(), ledger.Posting{
			AccountID: buyerID,
			Delta:     l.Price.Neg(),
			Kind:      ledger.EntryEscrowHold,
			Reference: d.ID,
		}, now); err != nil {
			return nil, err
		}

		d.SellerID = l.OwnerID
		d.Amount = l.Price
		d.Commission = money.Commission(l.Price, e.cfg.CommissionRate)
		d.CreatedAt = now
		d.UpdatedAt = now
		if err := tx.Deals().Create(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to create deal: %w", err)
		}

		ev := e.event(events.DealCreated, d, now, false)
		ev.Data["listingId"] = l.ID
		ev.Data["title"] = l.Title
		ev.Data["commission"] = money.Format(d.Commission)
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "deal created",
		"deal_id", d.ID, "buyer_id", d.BuyerID, "seller_id", d.SellerID, "amount", money.Format(d.Amount))
	return d, nil
}

// MarkSent records that the seller shipped the item.
func (e *Engine) MarkSent(ctx context.Context, dealID, actorID string) (*Deal, error) {
	var d *Deal
	err := e.run(ctx, "mark_sent", dealID, actorID, func(tx Tx, now time.Time) ([]events.Event, error) {
		var err error
		if d, err = tx.Deals().GetForUpdate(ctx, dealID); err != nil {
			return nil, err
		}
		if d.SellerID != actorID {
			return nil, ErrNotSeller
		}
		if err := checkTransition(d, StatusSent); err != nil {
			return nil, err
		}
		d.Status = StatusSent
		d.SellerConfirmed = true
		d.SentAt = &now
		d.UpdatedAt = now
		if err := tx.Deals().Update(ctx, d); err != nil {
			return nil, err
		}
		return []events.Event{e.event(events.ItemSent, d, now, false)}, nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ConfirmReceipt completes a sent deal on the buyer's word: the seller gets
// the payout and the commission recipient gets the commission. A second call
// fails with ErrInvalidTransition and moves no money.
func (e *Engine) ConfirmReceipt(ctx context.Context, dealID, actorID string) (*Deal, error) {
	var d *Deal
	err := e.run(ctx, "confirm_receipt", dealID, actorID, func(tx Tx, now time.Time) ([]events.Event, error) {
		var err error
		if d, err = tx.Deals().GetForUpdate(ctx, dealID); err != nil {
			return nil, err
		}
		if d.BuyerID != actorID {
			return nil, ErrNotBuyer
		}
		// dispute -> completed belongs to the admin alone.
		if d.Status != StatusSent {
			return nil, fmt.Errorf("%w: deal is %s", ErrInvalidTransition, d.Status)
		}
		if err := e.settle(ctx, tx, d, now); err != nil {
			return nil, err
		}
		d.BuyerConfirmed = true
		if err := tx.Deals().Update(ctx, d); err != nil {
			return nil, err
		}
		ev := e.event(events.DealCompleted, d, now, false)
		ev.Data["payout"] = money.Format(d.Payout())
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.DealsSettledTotal.WithLabelValues(string(StatusCompleted)).Inc()
	e.logger.InfoContext(ctx, "deal completed", "deal_id", d.ID, "payout", money.Format(d.Payout()))
	return d, nil
}

// OpenDispute freezes a pending or sent deal until the admin decides.
func (e *Engine) OpenDispute(ctx context.Context, dealID, actorID string) (*Deal, error) {
	var d *Deal
	err := e.run(ctx, "open_dispute", dealID, actorID, func(tx Tx, now time.Time) ([]events.Event, error) {
		var err error
		if d, err = tx.Deals().GetForUpdate(ctx, dealID); err != nil {
			return nil, err
		}
		if !d.IsParty(actorID) {
			return nil, ErrNotParty
		}
		if err := checkTransition(d, StatusDispute); err != nil {
			return nil, err
		}
		d.Status = StatusDispute
		d.DisputedBy = actorID
		d.DisputedAt = &now
		d.UpdatedAt = now
		if err := tx.Deals().Update(ctx, d); err != nil {
			return nil, err
		}
		ev := e.event(events.DisputeOpened, d, now, true)
		ev.Data["openedBy"] = actorID
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "dispute opened", "deal_id", d.ID, "opened_by", actorID)
	return d, nil
}

// PostDisputeMessage appends to the thread of a deal that is or was in
// dispute. Buyer, seller and admin may post.
func (e *Engine) PostDisputeMessage(ctx context.Context, dealID, actorID, text string) (*Result, error) {
	res := &Result{}
	err := e.run(ctx, "post_dispute_message", dealID, actorID, func(tx Tx, now time.Time) ([]events.Event, error) {
		d, err := tx.Deals().Get(ctx, dealID)
		if err != nil {
			return nil, err
		}
		if !d.IsParty(actorID) && actorID != e.cfg.AdminID {
			return nil, ErrNotParty
		}
		if !d.WasDisputed() {
			return nil, ErrNoDispute
		}
		msg, err := dispute.NewMessage(d.ID, actorID, text, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Disputes().Append(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
		res.Deal, res.Message = d, msg

		ev := e.event(events.DisputeMessagePosted, d, now, true)
		ev.Data["messageId"] = msg.ID
		ev.Data["authorId"] = actorID
		ev.Data["text"] = msg.Text
		res.Events = []events.Event{ev}
		return res.Events, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveDispute settles a disputed deal. Refund returns the full amount to
// the buyer and collects no commission; PaySeller settles as a completion.
func (e *Engine) ResolveDispute(ctx context.Context, dealID, adminID string, decision Decision) (*Deal, error) {
	if adminID == "" || adminID != e.cfg.AdminID {
		return nil, ErrNotAdmin
	}
	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}
	var d *Deal
	err := e.run(ctx, "resolve_dispute", dealID, adminID, func(tx Tx, now time.Time) ([]events.Event, error) {
		var err error
		if d, err = tx.Deals().GetForUpdate(ctx, dealID); err != nil {
			return nil, err
		}
		if d.Status != StatusDispute {
			return nil, fmt.Errorf("%w: deal is %s", ErrInvalidTransition, d.Status)
		}

		switch decision {
		case DecisionRefund:
			if _, _, err := ledger.Apply(ctx, tx.Accounts(), ledger.Posting{
				AccountID: d.BuyerID,
				Delta:     d.Amount,
				Kind:      ledger.EntryRefund,
				Reference: d.ID,
			}, now); err != nil {
				return nil, err
			}
			d.Status = StatusRefunded
			d.UpdatedAt = now
		case DecisionPaySeller:
			if err := e.settle(ctx, tx, d, now); err != nil {
				return nil, err
			}
		}
		d.Resolution = decision
		d.ResolvedAt = &now
		if err := tx.Deals().Update(ctx, d); err != nil {
			return nil, err
		}

		ev := e.event(events.DisputeResolved, d, now, true)
		ev.Data["decision"] = string(decision)
		return []events.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.DealsSettledTotal.WithLabelValues(string(d.Status)).Inc()
	e.logger.InfoContext(ctx, "dispute resolved", "deal_id", d.ID, "decision", string(decision))
	return d, nil
}

// settle pays out a deal and marks it completed. Postings go through
// ledger.ApplyAll so rows lock in account id order.
func (e *Engine) settle(ctx context.Context, tx Tx, d *Deal, now time.Time) error {
	err := ledger.ApplyAll(ctx, tx.Accounts(), []ledger.Posting{
		{AccountID: d.SellerID, Delta: d.Payout(), Kind: ledger.EntryPayout, Reference: d.ID},
		{AccountID: e.cfg.CommissionRecipientID, Delta: d.Commission, Kind: ledger.EntryCommission, Reference: d.ID},
	}, now)
	if err != nil {
		return fmt.Errorf("failed to settle deal: %w", err)
	}
	parties := []string{d.BuyerID, d.SellerID}
	slices.Sort(parties)
	for _, id := range parties {
		if err := ledger.IncrementDeals(ctx, tx.Accounts(), id, now); err != nil {
			return err
		}
	}
	d.Status = StatusCompleted
	d.CompletedAt = &now
	d.UpdatedAt = now
	return nil
}

// GetDeal returns a deal to one of its parties or the admin.
func (e *Engine) GetDeal(ctx context.Context, dealID, actorID string) (*Deal, error) {
	var d *Deal
	err := e.uow.View(ctx, func(tx Tx) error {
		var err error
		d, err = tx.Deals().Get(ctx, dealID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actorID) && actorID != e.cfg.AdminID {
		return nil, ErrNotParty
	}
	return d, nil
}

// ListDeals returns deals where accountID is buyer or seller, newest first.
func (e *Engine) ListDeals(ctx context.Context, accountID string, limit int) ([]*Deal, error) {
	if limit <= 0 {
		limit = DefaultDealsLimit
	}
	limit = min(limit, MaxDealsLimit)
	var out []*Deal
	err := e.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Deals().ListByAccount(ctx, accountID, limit)
		return err
	})
	return out, err
}

// ListOpenDisputes returns deals in dispute, oldest first, up to the queue
// limit. Hitting the limit is logged as a warning so the backlog is visible.
func (e *Engine) ListOpenDisputes(ctx context.Context, adminID string) ([]*Deal, error) {
	if adminID == "" || adminID != e.cfg.AdminID {
		return nil, ErrNotAdmin
	}
	var out []*Deal
	err := e.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Deals().ListByStatus(ctx, StatusDispute, e.queueLimit+1)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) > e.queueLimit {
		out = out[:e.queueLimit]
		e.logger.WarnContext(ctx, "dispute queue truncated",
			"limit", e.queueLimit, "oldest_shown", out[0].ID, "newest_shown", out[len(out)-1].ID)
	}
	return out, nil
}

// DisputeMessages returns the thread of a deal to its parties or the admin.
func (e *Engine) DisputeMessages(ctx context.Context, dealID, actorID string) ([]*dispute.Message, error) {
	var out []*dispute.Message
	err := e.uow.View(ctx, func(tx Tx) error {
		d, err := tx.Deals().Get(ctx, dealID)
		if err != nil {
			return err
		}
		if !d.IsParty(actorID) && actorID != e.cfg.AdminID {
			return ErrNotParty
		}
		out, err = tx.Disputes().List(ctx, dealID)
		return err
	})
	return out, err
}
