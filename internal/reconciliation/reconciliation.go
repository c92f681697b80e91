// Package reconciliation checks that no money was created or destroyed.
//
// Money only enters through deposits and leaves through withdrawals, with
// admin adjustments as the one manual lever. Everything else moves between
// balances and escrow, so at any instant:
//
//	Σ balances + Σ held escrow == Σ deposits + Σ adjustments − Σ withdrawals
//
// and every account's journal sums to its stored balance.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/txn"
)

// Tx is the slice of a unit of work reconciliation reads.
type Tx interface {
	Accounts() ledger.Repo
	Deals() escrow.Repo
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Balanced bool            `json:"balanced"`
	Balances decimal.Decimal `json:"balances"`
	Held     decimal.Decimal `json:"held"`
	External decimal.Decimal `json:"external"`
	// Diff is (balances + held) − external; zero when balanced.
	Diff      decimal.Decimal `json:"diff"`
	Drift     []ledger.Drift  `json:"drift"`
	CheckedAt time.Time       `json:"checkedAt"`
	Duration  time.Duration   `json:"duration"`
}

// Service performs reconciliation runs.
type Service struct {
	uow    txn.Runner[Tx]
	logger *slog.Logger
}

// NewService creates a reconciliation service.
func NewService(uow txn.Runner[Tx], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, logger: logger}
}

// Run takes one consistent snapshot and checks both invariants.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	r := &Report{CheckedAt: started.UTC()}

	err := s.uow.View(ctx, func(tx Tx) error {
		totals, err := tx.Accounts().Totals(ctx)
		if err != nil {
			return err
		}
		held, err := tx.Deals().HeldTotal(ctx)
		if err != nil {
			return err
		}
		drift, err := tx.Accounts().Drift(ctx)
		if err != nil {
			return err
		}
		r.Balances, r.External, r.Held, r.Drift = totals.Balances, totals.External, held, drift
		return nil
	})
	r.Duration = time.Since(started)
	runDuration.Observe(r.Duration.Seconds())
	if err != nil {
		runErrors.Inc()
		return nil, fmt.Errorf("reconciliation failed: %w", err)
	}

	r.Diff = r.Balances.Add(r.Held).Sub(r.External)
	r.Balanced = r.Diff.IsZero() && len(r.Drift) == 0

	conservationDiff.Set(r.Diff.InexactFloat64())
	driftAccounts.Set(float64(len(r.Drift)))
	heldEscrow.Set(r.Held.InexactFloat64())

	if !r.Balanced {
		s.logger.ErrorContext(ctx, "ledger out of balance",
			"balances", money.Format(r.Balances),
			"held", money.Format(r.Held),
			"external", money.Format(r.External),
			"diff", money.Format(r.Diff),
			"drift_accounts", len(r.Drift))
	} else {
		s.logger.DebugContext(ctx, "ledger balanced", "held", money.Format(r.Held), "duration", r.Duration)
	}
	return r, nil
}
