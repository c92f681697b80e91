// Package ledger keeps account balances and the journal of every balance change.
//
// All money in dealdesk moves through Apply:
//  1. lock the account row
//  2. reject the posting if the new balance would be negative
//  3. store the new balance
//  4. append one Entry recording the delta and resulting balance
//
// Because every change leaves an entry, the sum of an account's entries always
// equals its balance, and deposits minus withdrawals equals the money held in
// balances plus open escrow. The reconciliation package checks both.
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/money"
)

var (
	ErrAccountNotFound   = apperr.NotFound("account not found")
	ErrInsufficientFunds = apperr.InsufficientFunds("insufficient funds")
	ErrInvalidAccountID  = apperr.Validation("account id must be 1-64 characters")
	ErrZeroDelta         = apperr.Validation("delta must be non-zero")
	ErrInvalidKind       = apperr.Validation("entry kind not allowed here")
	ErrAccountBanned     = apperr.Unauthorized("account is banned")
	ErrNotAdmin          = apperr.Unauthorized("admin privileges required")
	ErrCannotBanAdmin    = apperr.Validation("the admin account cannot be banned")
)

// DefaultRating is the rating of a newly opened account.
var DefaultRating = decimal.NewFromInt(5)

// MaxAccountIDLength bounds account ids supplied by the messaging adapter.
const MaxAccountIDLength = 64

// EntryKind says why a balance changed.
type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"     // Money entering from the payment gateway
	EntryWithdrawal EntryKind = "withdrawal"  // Money leaving on a withdrawal request
	EntryAdjustment EntryKind = "adjustment"  // Manual correction by the admin
	EntryEscrowHold EntryKind = "escrow_hold" // Buyer funds frozen by a purchase
	EntryPayout     EntryKind = "payout"      // Seller share of a released deal
	EntryCommission EntryKind = "commission"  // Platform share of a released deal
	EntryRefund     EntryKind = "refund"      // Escrow returned to the buyer
)

// IsExternal reports whether the kind moves money across the system
// boundary, as opposed to between accounts and escrow.
func (k EntryKind) IsExternal() bool {
	switch k {
	case EntryDeposit, EntryWithdrawal, EntryAdjustment:
		return true
	}
	return false
}

// Account is a marketplace participant's balance and standing.
type Account struct {
	ID         string          `json:"id"`
	Username   string          `json:"username,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	Rating     decimal.Decimal `json:"rating"`
	DealsCount int             `json:"dealsCount"`
	Banned     bool            `json:"banned"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Entry is one journal line.
type Entry struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Kind         EntryKind       `json:"kind"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Posting is a requested balance change.
type Posting struct {
	AccountID string
	Delta     decimal.Decimal
	Kind      EntryKind
	Reference string
}

// Totals summarises all balances and the external flows that funded them.
type Totals struct {
	Balances decimal.Decimal `json:"balances"`
	External decimal.Decimal `json:"external"`
}

// Drift is an account whose journal disagrees with its stored balance.
type Drift struct {
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
	Journal   decimal.Decimal `json:"journal"`
}

// Repo persists accounts and journal entries. Implementations are bound to a
// single unit of work; GetForUpdate locks the row until it ends.
type Repo interface {
	// Insert stores a new account and reports false if the id already exists.
	Insert(ctx context.Context, a *Account) (bool, error)
	Get(ctx context.Context, id string) (*Account, error)
	GetForUpdate(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	AppendEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, accountID string, limit int) ([]*Entry, error)
	Totals(ctx context.Context) (Totals, error)
	Drift(ctx context.Context) ([]Drift, error)
}

// Tx is the slice of a unit of work the ledger needs.
type Tx interface {
	Accounts() Repo
}

// ValidAccountID checks an id supplied by a caller.
func ValidAccountID(id string) error {
	if id == "" || len(id) > MaxAccountIDLength {
		return ErrInvalidAccountID
	}
	return nil
}

// Apply is the single choke point for balance changes. It must run inside a
// unit of work; a rejected posting writes nothing.
func Apply(ctx context.Context, repo Repo, p Posting, now time.Time) (*Account, *Entry, error) {
	if p.Delta.IsZero() {
		return nil, nil, ErrZeroDelta
	}
	if err := money.CheckScale(p.Delta); err != nil {
		return nil, nil, err
	}

	acct, err := repo.GetForUpdate(ctx, p.AccountID)
	if err != nil {
		return nil, nil, err
	}

	next := acct.Balance.Add(p.Delta)
	if next.IsNegative() {
		return nil, nil, fmt.Errorf("%w: balance %s, debit %s",
			ErrInsufficientFunds, money.Format(acct.Balance), money.Format(p.Delta.Neg()))
	}
	if err := money.CheckBalance(next); err != nil {
		return nil, nil, fmt.Errorf("%w: account %s", err, acct.ID)
	}

	acct.Balance = next
	acct.UpdatedAt = now
	if err := repo.Update(ctx, acct); err != nil {
		return nil, nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &Entry{
		ID:           idgen.WithPrefix("ent_"),
		AccountID:    acct.ID,
		Kind:         p.Kind,
		Delta:        p.Delta,
		BalanceAfter: next,
		Reference:    p.Reference,
		CreatedAt:    now,
	}
	if err := repo.AppendEntry(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("failed to record entry: %w", err)
	}

	return acct, entry, nil
}

// ApplyAll applies postings in ascending account id order so that concurrent
// multi-account settlements always lock rows in the same sequence.
func ApplyAll(ctx context.Context, repo Repo, postings []Posting, now time.Time) error {
	sorted := slices.Clone(postings)
	slices.SortStableFunc(sorted, func(a, b Posting) int {
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	for _, p := range sorted {
		if p.Delta.IsZero() {
			continue
		}
		if _, _, err := Apply(ctx, repo, p, now); err != nil {
			return err
		}
	}
	return nil
}

// IncrementDeals bumps the completed-deal counter inside a unit of work.
func IncrementDeals(ctx context.Context, repo Repo, id string, now time.Time) error {
	acct, err := repo.GetForUpdate(ctx, id)
	if err != nil {
		return err
	}
	acct.DealsCount++
	acct.UpdatedAt = now
	return repo.Update(ctx, acct)
}
