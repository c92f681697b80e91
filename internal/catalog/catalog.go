// Package catalog owns marketplace listings.
//
// A listing is created active by its owner and can only be deactivated,
// never edited or deleted, so deals can always point back at what was sold.
package catalog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/dealdesk/internal/apperr"
	"github.com/mbd888/dealdesk/internal/idgen"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/traces"
	"github.com/mbd888/dealdesk/internal/txn"
	"github.com/mbd888/dealdesk/internal/validation"
)

var (
	ErrListingNotFound  = apperr.NotFound("listing not found")
	ErrNotOwner         = apperr.Unauthorized("only the owner can change this listing")
	ErrListingInactive  = apperr.State("listing is not active")
	ErrTitleRequired    = apperr.Validation("title is required")
	ErrCategoryRequired = apperr.Validation("category is required")
	ErrFieldTooLong     = apperr.Validation("field exceeds maximum length")
)

// Field limits.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxCategoryLength    = 64

	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Listing is an item offered for sale.
type Listing struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Repo persists listings.
type Repo interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	GetForUpdate(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	// ListActive returns up to limit active listings ordered by
	// (created_at, id), strictly after the cursor. Empty category matches all.
	ListActive(ctx context.Context, category string, after *pagination.Cursor, limit int) ([]*Listing, error)
	// ListByOwner returns the owner's active listings, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error)
}

// Tx is the slice of a unit of work the catalog needs.
type Tx interface {
	Accounts() ledger.Repo
	Listings() Repo
}

// CreateRequest carries the fields of a new listing.
type CreateRequest struct {
	OwnerID     string
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
}

// Catalog implements listing operations.
type Catalog struct {
	uow      txn.Runner[Tx]
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a catalog over uow.
func New(uow txn.Runner[Tx]) *Catalog {
	return &Catalog{
		uow:      uow,
		pageSize: DefaultPageSize,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithPageSize sets how many listings ListActive fetches per store round trip.
func (c *Catalog) WithPageSize(n int) *Catalog {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// WithLogger sets the catalog logger.
func (c *Catalog) WithLogger(l *slog.Logger) *Catalog {
	c.logger = l
	return c
}

// WithClock overrides the time source.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// CreateListing validates req and stores an active listing owned by
// req.OwnerID. The owner must have an account and must not be banned.
func (c *Catalog) CreateListing(ctx context.Context, req CreateRequest) (_ *Listing, err error) {
	ctx, span := traces.StartSpan(ctx, "catalog.CreateListing", traces.AccountID(req.OwnerID))
	defer func() { traces.End(span, err) }()

	req.Title = validation.SanitizeString(req.Title, MaxTitleLength+1)
	req.Description = validation.SanitizeString(req.Description, MaxDescriptionLength+1)
	req.Category = strings.ToLower(validation.SanitizeString(req.Category, MaxCategoryLength+1))

	switch {
	case req.Title == "":
		return nil, ErrTitleRequired
	case req.Category == "":
		return nil, ErrCategoryRequired
	}
	if errs := validation.Validate(
		validation.MaxLength("title", req.Title, MaxTitleLength),
		validation.MaxLength("description", req.Description, MaxDescriptionLength),
		validation.MaxLength("category", req.Category, MaxCategoryLength),
	); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrFieldTooLong, errs.Error())
	}
	if err := money.Positive(req.Price); err != nil {
		return nil, err
	}

	now := c.now()
	l := &Listing{
		ID:          idgen.WithPrefix("lst_"),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	span.SetAttributes(traces.ListingID(l.ID), traces.Amount(money.Format(l.Price)))
	err = c.uow.WithTx(ctx, func(tx Tx) error {
		owner, err := tx.Accounts().Get(ctx, req.OwnerID)
		if err != nil {
			return err
		}
		if owner.Banned {
			return ledger.ErrAccountBanned
		}
		return tx.Listings().Create(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "listing created", "listing_id", l.ID, "owner_id", l.OwnerID, "price", money.Format(l.Price))
	return l, nil
}

// GetListing returns a listing, active or not.
func (c *Catalog) GetListing(ctx context.Context, id string) (*Listing, error) {
	var l *Listing
	err := c.uow.View(ctx, func(tx Tx) error {
		var err error
		l, err = tx.Listings().Get(ctx, id)
		return err
	})
	return l, err
}

// Deactivate hides a listing from the catalog. Only the owner may do this;
// deactivating an inactive listing succeeds without change.
func (c *Catalog) Deactivate(ctx context.Context, listingID, actorID string) (_ *Listing, err error) {
	ctx, span := traces.StartSpan(ctx, "catalog.Deactivate", traces.ListingID(listingID), traces.ActorID(actorID))
	defer func() { traces.End(span, err) }()

	var l *Listing
	err = c.uow.WithTx(ctx, func(tx Tx) error {
		var err error
		l, err = tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if l.OwnerID != actorID {
			return ErrNotOwner
		}
		if !l.Active {
			return nil
		}
		l.Active = false
		l.UpdatedAt = c.now()
		return tx.Listings().Update(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListActive yields active listings, optionally in one category, oldest
// first. The sequence pages through the store lazily and each range over it
// starts again from the beginning. A store error is yielded once and ends
// the sequence.
func (c *Catalog) ListActive(ctx context.Context, category string) iter.Seq2[*Listing, error] {
	category = strings.ToLower(strings.TrimSpace(category))
	return func(yield func(*Listing, error) bool) {
		var after *pagination.Cursor
		for {
			page, err := c.page(ctx, category, after, c.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, l := range page {
				if !yield(l, nil) {
					return
				}
			}
			if len(page) < c.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Page returns one page of active listings for cursor-driven clients.
func (c *Catalog) Page(ctx context.Context, category, cursor string, limit int) ([]*Listing, string, bool, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, apperr.Validation(err.Error())
	}
	limit = max(1, min(limit, MaxPageSize))
	items, err := c.page(ctx, strings.ToLower(strings.TrimSpace(category)), after, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	items, next, more := pagination.ComputePage(items, limit, func(l *Listing) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	return items, next, more, nil
}

// ListByOwner returns an owner's active listings, newest first.
func (c *Catalog) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	limit = max(1, min(limit, MaxPageSize))
	var out []*Listing
	err := c.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Listings().ListByOwner(ctx, ownerID, limit)
		return err
	})
	return out, err
}

func (c *Catalog) page(ctx context.Context, category string, after *pagination.Cursor, limit int) ([]*Listing, error) {
	var out []*Listing
	err := c.uow.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Listings().ListActive(ctx, category, after, limit)
		return err
	})
	return out, err
}
