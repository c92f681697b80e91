// Package admin is the privileged console: the dispute queue, dispute
// resolution, bans and manual balance corrections. Every call names the
// acting admin; anyone else gets an Unauthorized error.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/reconciliation"
)

var errReconcilerMissing = apperr.New(apperr.KindInternal, "reconciliation is not configured")

// QueueItem is one open dispute with enough context to triage it.
type QueueItem struct {
	Deal         *escrow.Deal     `json:"deal"`
	MessageCount int              `json:"messageCount"`
	LastMessage  *dispute.Message `json:"lastMessage,omitempty"`
	OpenFor      string           `json:"openFor"`
}

// Service implements admin operations over the core services.
type Service struct {
	engine  *escrow.Engine
	ledger  *ledger.Service
	log     *dispute.Log
	recon   *reconciliation.Service
	adminID string
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates the admin console. The admin identity is the one the
// engine was configured with.
func NewService(engine *escrow.Engine, ledgerSvc *ledger.Service, log *dispute.Log) *Service {
	return &Service{
		engine:  engine,
		ledger:  ledgerSvc,
		log:     log,
		adminID: engine.Config().AdminID,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithReconciler enables on-demand reconciliation.
func (s *Service) WithReconciler(r *reconciliation.Service) *Service {
	s.recon = r
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source used for queue ages.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AdminID returns the configured admin account.
func (s *Service) AdminID() string { return s.adminID }

func (s *Service) authorize(adminID string) error {
	if adminID == "" || adminID != s.adminID {
		return escrow.ErrNotAdmin
	}
	return nil
}

// Queue returns the open disputes, oldest first, each with its message
// count and latest message.
func (s *Service) Queue(ctx context.Context, adminID string) ([]QueueItem, error) {
	deals, err := s.engine.ListOpenDisputes(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return []QueueItem{}, nil
	}

	ids := make([]string, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}
	counts, err := s.log.Counts(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]QueueItem, 0, len(deals))
	for _, d := range deals {
		item := QueueItem{Deal: d, MessageCount: counts[d.ID]}
		if d.DisputedAt != nil {
			item.OpenFor = now.Sub(*d.DisputedAt).Round(time.Second).String()
		}
		if item.MessageCount > 0 {
			msgs, err := s.log.Messages(ctx, d.ID)
			if err != nil {
				return nil, err
			}
			if len(msgs) > 0 {
				item.LastMessage = msgs[len(msgs)-1]
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Resolve settles a dispute with decision.
func (s *Service) Resolve(ctx context.Context, adminID, dealID string, decision escrow.Decision) (*escrow.Deal, error) {
	return s.engine.ResolveDispute(ctx, dealID, adminID, decision)
}

// Ban stops an account from buying, listing and withdrawing.
func (s *Service) Ban(ctx context.Context, adminID, accountID string) (*ledger.Account, error) {
	return s.ledger.SetBanned(ctx, adminID, accountID, true)
}

// Unban lifts a ban.
func (s *Service) Unban(ctx context.Context, adminID, accountID string) (*ledger.Account, error) {
	return s.ledger.SetBanned(ctx, adminID, accountID, false)
}

// Adjust applies a manual correction to an account balance.
func (s *Service) Adjust(ctx context.Context, adminID, accountID string, delta decimal.Decimal, reference string) (*ledger.Account, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}
	acct, err := s.ledger.AdjustBalance(ctx, accountID, delta, ledger.EntryAdjustment, reference)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "balance adjusted by admin",
		"account_id", accountID, "delta", money.Format(delta), "reference", reference)
	return acct, nil
}

// Reconcile runs a reconciliation pass now.
func (s *Service) Reconcile(ctx context.Context, adminID string) (*reconciliation.Report, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}
	if s.recon == nil {
		return nil, errReconcilerMissing
	}
	return s.recon.Run(ctx)
}
