package escrow

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/httperr"
	"github.com/mbd888/dealdesk/internal/pagination"
	"github.com/mbd888/dealdesk/internal/validation"
)

// Handler provides HTTP endpoints for deals.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new deal handler.
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterProtectedRoutes sets up deal routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/deals", h.Purchase)
	r.GET("/deals/:id", h.GetDeal)
	r.POST("/deals/:id/sent", h.MarkSent)
	r.POST("/deals/:id/confirm", h.ConfirmReceipt)
	r.POST("/deals/:id/dispute", h.OpenDispute)
	r.GET("/deals/:id/messages", h.ListMessages)
	r.POST("/deals/:id/messages", h.PostMessage)
	r.GET("/accounts/:id/deals", h.ListAccountDeals)
}

// PurchaseRequest is the body of POST /v1/deals.
type PurchaseRequest struct {
	ListingID string `json:"listingId" binding:"required"`
}

// MessageRequest is the body of POST /v1/deals/:id/messages.
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// Purchase handles POST /v1/deals
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "listingId is required")
		return
	}
	d, err := h.engine.Purchase(c.Request.Context(), auth.ActorID(c), req.ListingID)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deal": d})
}

// GetDeal handles GET /v1/deals/:id
func (h *Handler) GetDeal(c *gin.Context) {
	d, err := h.engine.GetDeal(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// MarkSent handles POST /v1/deals/:id/sent
func (h *Handler) MarkSent(c *gin.Context) {
	d, err := h.engine.MarkSent(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// ConfirmReceipt handles POST /v1/deals/:id/confirm
func (h *Handler) ConfirmReceipt(c *gin.Context) {
	d, err := h.engine.ConfirmReceipt(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// OpenDispute handles POST /v1/deals/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	d, err := h.engine.OpenDispute(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

// ListMessages handles GET /v1/deals/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.engine.DisputeMessages(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// PostMessage handles POST /v1/deals/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "text is required")
		return
	}
	if validation.Respond(c, validation.Validate(validation.MaxLength("text", req.Text, dispute.MaxMessageLength))) {
		return
	}
	res, err := h.engine.PostDisputeMessage(c.Request.Context(), c.Param("id"), auth.ActorID(c), req.Text)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": res.Message})
}

// ListAccountDeals handles GET /v1/accounts/:id/deals
func (h *Handler) ListAccountDeals(c *gin.Context) {
	id := c.Param("id")
	actor := auth.ActorID(c)
	if actor != id && actor != h.engine.Config().AdminID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Deal history is visible only to its owner and the admin",
		})
		return
	}
	limit := pagination.Limit(c.Query("limit"), DefaultDealsLimit, MaxDealsLimit)
	deals, err := h.engine.ListDeals(c.Request.Context(), id, limit)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}
