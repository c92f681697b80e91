package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/events"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/traces"
	"github.com/mbd888/dealdesk/internal/txn"
)

// Default and maximum page sizes for journal history.
const (
	DefaultEntriesLimit = 50
	MaxEntriesLimit     = 200
)

// Service exposes account operations, each in its own unit of work.
type Service struct {
	uow      txn.Runner[Tx]
	adminID  string
	notifier events.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a ledger service. adminID is the account allowed to ban
// users and the recipient of withdrawal requests.
func NewService(uow txn.Runner[Tx], adminID string) *Service {
	return &Service{
		uow:      uow,
		adminID:  adminID,
		notifier: events.Discard,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier sets where committed events are delivered.
func (s *Service) WithNotifier(n events.Notifier) *Service {
	s.notifier = n
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AdminID returns the configured admin account.
func (s *Service) AdminID() string { return s.adminID }

// OpenAccount creates a zero-balance account if absent. It reports whether
// the account was created; an existing account is returned unchanged.
func (s *Service) OpenAccount(ctx context.Context, id, username string) (*Account, bool, error) {
	if err := ValidAccountID(id); err != nil {
		return nil, false, err
	}
	now := s.now()
	var (
		acct    *Account
		created bool
	)
	err := s.uow.WithTx(ctx, func(tx Tx) error {
		var err error
		created, err = tx.Accounts().Insert(ctx, &Account{
			ID:        id,
			Username:  strings.TrimPrefix(strings.TrimSpace(username), "@"),
			Balance:   decimal.Zero,
			Rating:    DefaultRating,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to open account: %w", err)
		}
		acct, err = tx.Accounts().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.InfoContext(ctx, "account opened", "account_id", id)
	}
	return acct, created, nil
}

// GetAccount returns a snapshot of the account.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	var acct *Account
	err := s.uow.View(ctx, func(tx Tx) error {
		var err error
		acct, err = tx.Accounts().Get(ctx, id)
		return err
	})
	return acct, err
}

// AdjustBalance applies delta as a deposit, withdrawal or manual adjustment.
// A debit larger than the balance fails with ErrInsufficientFunds and changes
// nothing. Money moving between accounts and escrow goes through the deal
// engine instead.
func (s *Service) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, kind EntryKind, reference string) (*Account, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.AdjustBalance", traces.AccountID(id), traces.Amount(delta.String()))
	var err error
	defer func() { traces.End(span, err) }()

	if kind == "" {
		kind = EntryAdjustment
	}
	if !kind.IsExternal() ||
		(kind == EntryDeposit && !delta.IsPositive()) ||
		(kind == EntryWithdrawal && !delta.IsNegative()) {
		err = ErrInvalidKind
		return nil, err
	}

	var acct *Account
	err = s.uow.WithTx(ctx, func(tx Tx) error {
		var err error
		acct, _, err = Apply(ctx, tx.Accounts(), Posting{AccountID: id, Delta: delta, Kind: kind, Reference: reference}, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.BalanceAdjusted, s.now(), id)
	ev.AccountID = id
	ev.Data["delta"] = money.Format(delta)
	ev.Data["kind"] = string(kind)
	ev.Data["balance"] = money.Format(acct.Balance)
	events.Publish(ctx, s.notifier, []events.Event{ev})
	return acct, nil
}

// IncrementDealCount bumps the completed-deal counter in its own unit of
// work. The deal engine uses IncrementDeals inside its settlement instead.
func (s *Service) IncrementDealCount(ctx context.Context, id string) error {
	return s.uow.WithTx(ctx, func(tx Tx) error {
		return IncrementDeals(ctx, tx.Accounts(), id, s.now())
	})
}

// Withdraw debits amount and raises a WithdrawalRequested event for the admin,
// who pays it out through the external gateway.
func (s *Service) Withdraw(ctx context.Context, id string, amount decimal.Decimal) (*Account, *Entry, error) {
	if err := money.Positive(amount); err != nil {
		return nil, nil, err
	}
	ref := idgen.WithPrefix("wd_")
	var (
		acct  *Account
		entry *Entry
	)
	err := s.uow.WithTx(ctx, func(tx Tx) error {
		current, err := tx.Accounts().Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Banned {
			return ErrAccountBanned
		}
		acct, entry, err = Apply(ctx, tx.Accounts(), Posting{
			AccountID: id, Delta: amount.Neg(), Kind: EntryWithdrawal, Reference: ref,
		}, s.now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "withdrawal requested", "account_id", id, "amount", money.Format(amount), "reference", ref)
	ev := events.New(events.WithdrawalRequested, s.now(), id, s.adminID)
	ev.AccountID = id
	ev.Data["amount"] = money.Format(amount)
	ev.Data["reference"] = ref
	events.Publish(ctx, s.notifier, []events.Event{ev})
	return acct, entry, nil
}

// Entries returns an account's journal, newest first.
func (s *Service) Entries(ctx context.Context, id string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	limit = min(limit, MaxEntriesLimit)
	var out []*Entry
	err := s.uow.View(ctx, func(tx Tx) error {
		if _, err := tx.Accounts().Get(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.Accounts().ListEntries(ctx, id, limit)
		return err
	})
	return out, err
}

// SetBanned bans or unbans an account. Only the admin may call it.
func (s *Service) SetBanned(ctx context.Context, adminID, id string, banned bool) (*Account, error) {
	if adminID == "" || adminID != s.adminID {
		return nil, ErrNotAdmin
	}
	if id == s.adminID {
		return nil, ErrCannotBanAdmin
	}
	var acct *Account
	err := s.uow.WithTx(ctx, func(tx Tx) error {
		var err error
		acct, err = tx.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if acct.Banned == banned {
			return nil
		}
		acct.Banned = banned
		acct.UpdatedAt = s.now()
		return tx.Accounts().Update(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account ban updated", "account_id", id, "banned", banned)
	if banned {
		ev := events.New(events.AccountBanned, s.now(), id)
		ev.AccountID = id
		events.Publish(ctx, s.notifier, []events.Event{ev})
	}
	return acct, nil
}
