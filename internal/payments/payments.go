// Package payments turns confirmed external payments into ledger deposits.
//
// A payment provider may deliver the same notification more than once. Each
// payment id is recorded in the same unit of work as the deposit, so a
// repeated delivery finds the id already present and credits nothing.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/metrics"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/traces"
	"github.com/mbd888/dealdesk/internal/txn"
)

var ErrPaymentIDRequired = apperr.Validation("payment id is required")

// Payment is a processed provider payment.
type Payment struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Provider  string          `json:"provider"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Repo records processed payments.
type Repo interface {
	// Insert stores p and reports false if its id was already recorded.
	Insert(ctx context.Context, p *Payment) (bool, error)
	Get(ctx context.Context, id string) (*Payment, error)
}

// Tx is the slice of a unit of work the gateway needs.
type Tx interface {
	Accounts() ledger.Repo
	Payments() Repo
}

// Gateway credits accounts for completed payments, once per payment id.
type Gateway struct {
	uow      txn.Runner[Tx]
	notifier events.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewGateway creates a payment gateway adapter.
func NewGateway(uow txn.Runner[Tx]) *Gateway {
	return &Gateway{
		uow:      uow,
		notifier: events.Discard,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier sets where deposit events are delivered.
func (g *Gateway) WithNotifier(n events.Notifier) *Gateway {
	g.notifier = n
	return g
}

// WithLogger sets the gateway logger.
func (g *Gateway) WithLogger(l *slog.Logger) *Gateway {
	g.logger = l
	return g
}

// WithClock overrides the time source.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Credit deposits amount into accountID for paymentID. It reports false,
// without error, when paymentID was already credited.
func (g *Gateway) Credit(ctx context.Context, provider, paymentID, accountID string, amount decimal.Decimal) (credited bool, err error) {
	ctx, span := traces.StartSpan(ctx, "payments.Credit", traces.AccountID(accountID), traces.Amount(amount.String()))
	defer func() {
		traces.End(span, err)
		result := "credited"
		switch {
		case err != nil:
			result = "rejected"
		case !credited:
			result = "duplicate"
		}
		metrics.PaymentCallbacksTotal.WithLabelValues(result).Inc()
	}()

	if paymentID == "" {
		return false, ErrPaymentIDRequired
	}
	if err := money.Positive(amount); err != nil {
		return false, err
	}

	now := g.now()
	var acct *ledger.Account
	err = g.uow.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.Accounts().Get(ctx, accountID); err != nil {
			return err
		}
		inserted, err := tx.Payments().Insert(ctx, &Payment{
			ID:        paymentID,
			AccountID: accountID,
			Amount:    amount,
			Provider:  provider,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		if !inserted {
			return nil
		}
		credited = true
		acct, _, err = ledger.Apply(ctx, tx.Accounts(), ledger.Posting{
			AccountID: accountID,
			Delta:     amount,
			Kind:      ledger.EntryDeposit,
			Reference: paymentID,
		}, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if !credited {
		g.logger.InfoContext(ctx, "duplicate payment ignored", "payment_id", paymentID, "provider", provider)
		return false, nil
	}

	g.logger.InfoContext(ctx, "payment credited",
		"payment_id", paymentID, "provider", provider, "account_id", accountID, "amount", money.Format(amount))
	ev := events.New(events.BalanceAdjusted, now, accountID)
	ev.AccountID = accountID
	ev.Data["delta"] = money.Format(amount)
	ev.Data["kind"] = string(ledger.EntryDeposit)
	ev.Data["balance"] = money.Format(acct.Balance)
	ev.Data["paymentId"] = paymentID
	events.Publish(ctx, g.notifier, []events.Event{ev})
	return true, nil
}
