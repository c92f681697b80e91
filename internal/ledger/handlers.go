package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/httperr"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/validation"
)

// Handler provides HTTP endpoints for account operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new ledger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up account routes. The group must already
// require an API key and an acting user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts", h.OpenAccount)
	r.GET("/accounts/:id", h.GetAccount)
	r.POST("/accounts/:id/withdraw", h.Withdraw)
	r.GET("/accounts/:id/entries", h.ListEntries)
}

// OpenAccountRequest is the body of POST /v1/accounts.
type OpenAccountRequest struct {
	Username string `json:"username"`
}

// WithdrawRequest is the body of POST /v1/accounts/:id/withdraw.
type WithdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// OpenAccount handles POST /v1/accounts. The account opened is the actor's own.
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request body")
			return
		}
	}
	if validation.Respond(c, validation.Validate(validation.MaxLength("username", req.Username, 64))) {
		return
	}

	acct, created, err := h.service.OpenAccount(c.Request.Context(), auth.ActorID(c), req.Username)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"account": acct, "created": created})
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id := c.Param("id")
	if !h.selfOrAdmin(c, id) {
		return
	}
	acct, err := h.service.GetAccount(c.Request.Context(), id)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// Withdraw handles POST /v1/accounts/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	id := c.Param("id")
	if auth.ActorID(c) != id {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the account owner can withdraw",
		})
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		httperr.Write(c, err)
		return
	}

	acct, entry, err := h.service.Withdraw(c.Request.Context(), id, amount)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"account": acct, "entry": entry})
}

// ListEntries handles GET /v1/accounts/:id/entries
func (h *Handler) ListEntries(c *gin.Context) {
	id := c.Param("id")
	if !h.selfOrAdmin(c, id) {
		return
	}
	limit := pagination.Limit(c.Query("limit"), DefaultEntriesLimit, MaxEntriesLimit)
	entries, err := h.service.Entries(c.Request.Context(), id, limit)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) selfOrAdmin(c *gin.Context, id string) bool {
	actor := auth.ActorID(c)
	if actor == id || actor == h.service.AdminID() {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{
		"error":   "unauthorized",
		"message": "Accounts are visible only to their owner and the admin",
	})
	return false
}
