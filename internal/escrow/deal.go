// Package escrow is the deal engine: it freezes buyer funds on purchase and
// releases them to the seller or back to the buyer through a fixed set of
// state transitions.
//
// Flow:
//  1. Buyer purchases a listing → price moves: buyer balance → escrow (pending)
//  2. Seller marks the item sent (sent)
//  3. Buyer confirms receipt → escrow moves: seller payout + commission (completed)
//  4. Either party disputes while pending or sent (dispute)
//  5. Admin resolves → escrow refunded to buyer (refunded) or paid out (completed)
//
// Every operation runs in one unit of work and re-reads the deal under a row
// lock, so concurrent callers cannot both move the same escrow.
package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/catalog"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
)

var (
	ErrDealNotFound      = apperr.NotFound("deal not found")
	ErrNotParty          = apperr.Unauthorized("not a party to this deal")
	ErrNotSeller         = apperr.Unauthorized("only the seller can do this")
	ErrNotBuyer          = apperr.Unauthorized("only the buyer can do this")
	ErrNotAdmin          = apperr.Unauthorized("admin privileges required")
	ErrInvalidTransition = apperr.State("operation not allowed in the deal's current status")
	ErrNoDispute         = apperr.State("deal has never been disputed")
	ErrSelfPurchase      = apperr.Validation("cannot buy your own listing")
	ErrInvalidDecision   = apperr.Validation("decision must be refund or pay_seller")
	ErrInvalidConfig     = apperr.Validation("invalid deal engine configuration")
)

// Status is the state of a deal.
type Status string

const (
	StatusPending   Status = "pending"   // Buyer funds held, waiting for the seller
	StatusSent      Status = "sent"      // Seller says the item is on its way
	StatusDispute   Status = "dispute"   // Frozen until the admin decides
	StatusCompleted Status = "completed" // Seller paid, commission collected
	StatusRefunded  Status = "refunded"  // Buyer got the full amount back
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDispute, StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// CanTransition reports whether a deal may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusDispute
	case StatusSent:
		return next == StatusCompleted || next == StatusDispute
	case StatusDispute:
		return next == StatusRefunded || next == StatusCompleted
	case StatusCompleted, StatusRefunded:
		return false
	}
	return false
}

// Decision is the admin's ruling on a dispute.
type Decision string

const (
	DecisionRefund    Decision = "refund"
	DecisionPaySeller Decision = "pay_seller"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionRefund || d == DecisionPaySeller
}

// Deal is an escrowed purchase. Amount and Commission are fixed at creation.
type Deal struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyerId"`
	SellerID        string          `json:"sellerId"`
	ListingID       string          `json:"listingId"`
	Amount          decimal.Decimal `json:"amount"`
	Commission      decimal.Decimal `json:"commission"`
	Status          Status          `json:"status"`
	BuyerConfirmed  bool            `json:"buyerConfirmed"`
	SellerConfirmed bool            `json:"sellerConfirmed"`
	DisputedBy      string          `json:"disputedBy,omitempty"`
	Resolution      Decision        `json:"resolution,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	SentAt          *time.Time      `json:"sentAt,omitempty"`
	DisputedAt      *time.Time      `json:"disputedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
}

// Payout is the seller's share.
func (d *Deal) Payout() decimal.Decimal {
	return money.Payout(d.Amount, d.Commission)
}

// IsParty reports whether accountID is the buyer or the seller.
func (d *Deal) IsParty(accountID string) bool {
	return accountID != "" && (accountID == d.BuyerID || accountID == d.SellerID)
}

// WasDisputed reports whether the deal ever entered dispute.
func (d *Deal) WasDisputed() bool {
	return d.DisputedAt != nil
}

// Repo persists deals.
type Repo interface {
	Create(ctx context.Context, d *Deal) error
	Get(ctx context.Context, id string) (*Deal, error)
	GetForUpdate(ctx context.Context, id string) (*Deal, error)
	Update(ctx context.Context, d *Deal) error
	// ListByAccount returns deals where accountID is buyer or seller, newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Deal, error)
	// ListByStatus returns deals in status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Deal, error)
	// HeldTotal sums the amount of every non-terminal deal.
	HeldTotal(ctx context.Context) (decimal.Decimal, error)
}

// Tx is the slice of a unit of work the engine needs.
type Tx interface {
	Accounts() ledger.Repo
	Listings() catalog.Repo
	Deals() Repo
	Disputes() dispute.Repo
}
