package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/dealdesk/internal/admin"
	"github.com/mbd888/dealdesk/internal/dispute"
	"github.com/mbd888/dealdesk/internal/escrow"
	"github.com/mbd888/dealdesk/internal/ledger"
	"github.com/mbd888/dealdesk/internal/reconciliation"
)

// Response shapes are the server's own types.
type (
	Deal      = escrow.Deal
	Account   = ledger.Account
	Entry     = ledger.Entry
	Message   = dispute.Message
	QueueItem = admin.QueueItem
	Report    = reconciliation.Report
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListDisputes prints the open dispute queue.
func (h *Handlers) HandleListDisputes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := h.client.Disputes(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list disputes: %v", err)), nil
	}
	return mcp.NewToolResultText(formatQueue(items)), nil
}

// HandleGetDeal prints one deal and optionally its thread.
func (h *Handlers) HandleGetDeal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("deal_id", ""))
	if id == "" {
		return mcp.NewToolResultError("deal_id is required"), nil
	}

	d, err := h.client.Deal(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get deal: %v", err)), nil
	}
	if d == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Deal %s not found", id)), nil
	}

	var b strings.Builder
	writeDeal(&b, d)

	if req.GetBool("include_messages", false) {
		msgs, err := h.client.Messages(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get messages: %v", err)), nil
		}
		b.WriteString("\n")
		writeThread(&b, msgs)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// HandleGetAccount prints an account with its recent activity.
func (h *Handlers) HandleGetAccount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("account_id", ""))
	if id == "" {
		return mcp.NewToolResultError("account_id is required"), nil
	}
	limit := clampLimit(req.GetInt("limit", defaultLimit))

	acct, err := h.client.Account(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get account: %v", err)), nil
	}
	if acct == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Account %s not found", id)), nil
	}

	entries, err := h.client.Entries(ctx, id, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get entries: %v", err)), nil
	}
	deals, err := h.client.AccountDeals(ctx, id, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get deals: %v", err)), nil
	}

	var b strings.Builder
	writeAccount(&b, acct)
	b.WriteString("\n")
	writeEntries(&b, entries)
	b.WriteString("\n")
	writeDealList(&b, deals)
	return mcp.NewToolResultText(b.String()), nil
}

// HandleReconcile runs a conservation check and prints the report.
func (h *Handlers) HandleReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := h.client.Reconcile(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reconciliation failed: %v", err)), nil
	}
	if report == nil {
		return mcp.NewToolResultError("Reconciliation returned no report"), nil
	}
	return mcp.NewToolResultText(formatReport(report)), nil
}

// --- formatting helpers ---

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func formatQueue(items []QueueItem) string {
	if len(items) == 0 {
		return "No open disputes."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d open dispute(s):\n\n", len(items))
	for i, it := range items {
		d := it.Deal
		if d == nil {
			continue
		}
		fmt.Fprintf(&b, "%d. Deal %s: %s held, opened by %s %s ago\n",
			i+1, d.ID, d.Amount.StringFixed(2), d.DisputedBy, it.OpenFor)
		fmt.Fprintf(&b, "   Buyer: %s | Seller: %s | Listing: %s\n", d.BuyerID, d.SellerID, d.ListingID)
		if it.LastMessage != nil {
			fmt.Fprintf(&b, "   Last message (%d total) from %s: %q\n",
				it.MessageCount, it.LastMessage.AuthorID, truncate(it.LastMessage.Text, 120))
		} else {
			b.WriteString("   No messages yet\n")
		}
	}
	return b.String()
}

func writeDeal(b *strings.Builder, d *Deal) {
	fmt.Fprintf(b, "Deal %s\n", d.ID)
	fmt.Fprintf(b, "  Status: %s\n", d.Status)
	fmt.Fprintf(b, "  Buyer: %s | Seller: %s\n", d.BuyerID, d.SellerID)
	fmt.Fprintf(b, "  Listing: %s\n", d.ListingID)
	fmt.Fprintf(b, "  Amount: %s (commission %s)\n", d.Amount.StringFixed(2), d.Commission.StringFixed(2))
	fmt.Fprintf(b, "  Confirmed: buyer=%t seller=%t\n", d.BuyerConfirmed, d.SellerConfirmed)
	if d.DisputedBy != "" {
		fmt.Fprintf(b, "  Disputed by: %s\n", d.DisputedBy)
	}
	if d.Resolution != "" {
		fmt.Fprintf(b, "  Resolution: %s\n", d.Resolution)
	}
	fmt.Fprintf(b, "  Created: %s\n", formatTime(d.CreatedAt))
	writeOptionalTime(b, "Sent", d.SentAt)
	writeOptionalTime(b, "Disputed", d.DisputedAt)
	writeOptionalTime(b, "Completed", d.CompletedAt)
	writeOptionalTime(b, "Resolved", d.ResolvedAt)
}

func writeThread(b *strings.Builder, msgs []Message) {
	if len(msgs) == 0 {
		b.WriteString("No dispute messages.\n")
		return
	}
	fmt.Fprintf(b, "Dispute thread (%d):\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(b, "  [%s] %s: %s\n", formatTime(m.SentAt), m.AuthorID, m.Text)
	}
}

func writeAccount(b *strings.Builder, a *Account) {
	fmt.Fprintf(b, "Account %s", a.ID)
	if a.Username != "" {
		fmt.Fprintf(b, " (%s)", a.Username)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "  Balance: %s\n", a.Balance.StringFixed(2))
	fmt.Fprintf(b, "  Rating: %s over %d deal(s)\n", a.Rating.StringFixed(2), a.DealsCount)
	if a.Banned {
		b.WriteString("  BANNED\n")
	}
}

func writeEntries(b *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		b.WriteString("No ledger entries.\n")
		return
	}
	fmt.Fprintf(b, "Recent entries (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(b, "  %s %-12s %10s -> %s", formatTime(e.CreatedAt), e.Kind, signed(e), e.BalanceAfter.StringFixed(2))
		if e.Reference != "" {
			fmt.Fprintf(b, " (%s)", e.Reference)
		}
		b.WriteString("\n")
	}
}

func writeDealList(b *strings.Builder, deals []Deal) {
	if len(deals) == 0 {
		b.WriteString("No deals.\n")
		return
	}
	fmt.Fprintf(b, "Recent deals (%d):\n", len(deals))
	for _, d := range deals {
		fmt.Fprintf(b, "  %s %-9s %s  buyer=%s seller=%s\n",
			d.ID, d.Status, d.Amount.StringFixed(2), d.BuyerID, d.SellerID)
	}
}

func formatReport(r *Report) string {
	var b strings.Builder
	if r.Balanced {
		b.WriteString("Ledger is balanced.\n")
	} else {
		fmt.Fprintf(&b, "Ledger is NOT balanced: off by %s\n", r.Diff.StringFixed(2))
	}
	fmt.Fprintf(&b, "  Balances: %s\n", r.Balances.StringFixed(2))
	fmt.Fprintf(&b, "  Held in escrow: %s\n", r.Held.StringFixed(2))
	fmt.Fprintf(&b, "  External net: %s\n", r.External.StringFixed(2))
	if len(r.Drift) > 0 {
		fmt.Fprintf(&b, "  %d account(s) disagree with their journal:\n", len(r.Drift))
		for _, d := range r.Drift {
			fmt.Fprintf(&b, "    %s balance=%s journal=%s\n",
				d.AccountID, d.Balance.StringFixed(2), d.Journal.StringFixed(2))
		}
	}
	fmt.Fprintf(&b, "  Checked at %s in %s\n", formatTime(r.CheckedAt), r.Duration)
	return b.String()
}

func signed(e Entry) string {
	if e.Delta.IsPositive() {
		return "+" + e.Delta.StringFixed(2)
	}
	return e.Delta.StringFixed(2)
}

func writeOptionalTime(b *strings.Builder, label string, t *time.Time) {
	if t != nil {
		fmt.Fprintf(b, "  %s: %s\n", label, formatTime(*t))
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
