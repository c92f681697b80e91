package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/httperr"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/validation"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new catalog handler.
func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

// RegisterProtectedRoutes sets up listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.GET("/listings", h.ListListings)
	r.GET("/listings/:id", h.GetListing)
	r.DELETE("/listings/:id", h.DeactivateListing)
	r.GET("/accounts/:id/listings", h.ListOwnerListings)
}

// CreateListingRequest is the body of POST /v1/listings.
type CreateListingRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Price       string `json:"price" binding:"required"`
	Category    string `json:"category" binding:"required"`
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	if validation.Respond(c, validation.Validate(
		validation.Required("title", req.Title),
		validation.Required("category", req.Category),
		validation.ValidAmount("price", req.Price),
	)) {
		return
	}
	price, err := money.ParsePositive(req.Price)
	if err != nil {
		httperr.Write(c, err)
		return
	}

	l, err := h.catalog.CreateListing(c.Request.Context(), CreateRequest{
		OwnerID:     auth.ActorID(c),
		Title:       req.Title,
		Description: req.Description,
		Price:       price,
		Category:    req.Category,
	})
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// ListListings handles GET /v1/listings?category=&cursor=&limit=
func (h *Handler) ListListings(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), DefaultPageSize, MaxPageSize)
	items, next, more, err := h.catalog.Page(c.Request.Context(), c.Query("category"), c.Query("cursor"), limit)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings":   items,
		"count":      len(items),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.catalog.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// DeactivateListing handles DELETE /v1/listings/:id
func (h *Handler) DeactivateListing(c *gin.Context) {
	l, err := h.catalog.Deactivate(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ListOwnerListings handles GET /v1/accounts/:id/listings
func (h *Handler) ListOwnerListings(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), DefaultPageSize, MaxPageSize)
	items, err := h.catalog.ListByOwner(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": items, "count": len(items)})
}
