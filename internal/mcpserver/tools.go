package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the dealdesk admin console.
// Descriptions are what the LLM reads to decide which tool to use.
// Every tool is read-only; resolving a dispute stays a human action.

var ToolListDisputes = mcp.NewTool("list_disputes",
	mcp.WithDescription(
		"List open marketplace disputes, oldest first. "+
			"Each entry shows the deal, the amount held in escrow, who opened the dispute, "+
			"how long it has been open and the latest message in the thread."),
)

var ToolGetDeal = mcp.NewTool("get_deal",
	mcp.WithDescription(
		"Show one deal with its status, parties, amount, commission and timestamps. "+
			"Add include_messages to also print the dispute thread."),
	mcp.WithString("deal_id",
		mcp.Required(),
		mcp.Description("The deal ID")),
	mcp.WithBoolean("include_messages",
		mcp.Description("Also return the dispute message thread")),
)

var ToolGetAccount = mcp.NewTool("get_account",
	mcp.WithDescription(
		"Show an account's balance, rating, completed deal count and ban status, "+
			"followed by its most recent ledger entries and deals."),
	mcp.WithString("account_id",
		mcp.Required(),
		mcp.Description("The account ID")),
	mcp.WithNumber("limit",
		mcp.Description("How many recent entries and deals to include (default 10)")),
)

var ToolReconcile = mcp.NewTool("reconcile_ledger",
	mcp.WithDescription(
		"Check that balances plus escrowed funds equal everything paid in minus everything paid out, "+
			"and that every account balance matches its journal. Reports any discrepancy."),
)
