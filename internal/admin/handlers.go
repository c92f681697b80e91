package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/auth"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/httperr"
	"github.com/mbd888/dealdesk/internal/money"
	"github.com/mbd888/dealdesk/internal/validation"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up admin routes. The group must already require an
// API key and an acting user; the service checks that the actor is the admin.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/disputes", h.listDisputes)
	r.POST("/admin/deals/:id/resolve", h.resolveDispute)
	r.POST("/admin/accounts/:id/ban", h.ban)
	r.POST("/admin/accounts/:id/unban", h.unban)
	r.POST("/admin/accounts/:id/adjust", h.adjust)
	r.POST("/admin/reconcile", h.reconcile)
}

// ResolveRequest is the body of POST /v1/admin/deals/:id/resolve.
type ResolveRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// AdjustRequest is the body of POST /v1/admin/accounts/:id/adjust.
type AdjustRequest struct {
	Delta     string `json:"delta" binding:"required"`
	Reference string `json:"reference"`
}

// listDisputes returns the open dispute queue, oldest first.
func (h *Handler) listDisputes(c *gin.Context) {
	items, err := h.service.Queue(c.Request.Context(), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": items, "count": len(items)})
}

// resolveDispute refunds the buyer or pays the seller.
func (h *Handler) resolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	if validation.Respond(c, validation.Validate(
		validation.OneOf("decision", req.Decision, string(escrow.DecisionRefund), string(escrow.DecisionPaySeller)),
	)) {
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), auth.ActorID(c), c.Param("id"), escrow.Decision(req.Decision))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": d})
}

func (h *Handler) ban(c *gin.Context) {
	acct, err := h.service.Ban(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

func (h *Handler) unban(c *gin.Context) {
	acct, err := h.service.Unban(c.Request.Context(), auth.ActorID(c), c.Param("id"))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// adjust applies a signed manual correction.
func (h *Handler) adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "Invalid request body")
		return
	}
	if validation.Respond(c, validation.Validate(
		validation.ValidDelta("delta", req.Delta),
		validation.MaxLength("reference", req.Reference, 128),
	)) {
		return
	}
	delta, err := money.Parse(req.Delta)
	if err != nil {
		httperr.Write(c, err)
		return
	}

	acct, err := h.service.Adjust(c.Request.Context(), auth.ActorID(c), c.Param("id"), delta, req.Reference)
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// reconcile runs an on-demand reconciliation pass.
func (h *Handler) reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context(), auth.ActorID(c))
	if err != nil {
		httperr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
