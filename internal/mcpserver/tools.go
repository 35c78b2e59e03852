package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the assetwatch MCP server. All tools are read-only;
// settlement and fault cancellation stay behind the admin CLI.

var ToolGetPrice = mcp.NewTool("get_price",
	mcp.WithDescription(
		"Get the current POL/USD spot price used to value fault-report filing costs and reimbursements."),
)

var ToolListAssets = mcp.NewTool("list_assets",
	mcp.WithDescription(
		"List the monitored assets with their temperature threshold and the number of "+
			"consecutive exceedances that triggers an automatic fault report."),
)

var ToolGetAsset = mcp.NewTool("get_asset",
	mcp.WithDescription(
		"Get an asset's lifecycle status (Operational, Broken, Under Maintenance) "+
			"and the actions currently allowed on it."),
	mcp.WithNumber("asset_id",
		mcp.Required(),
		mcp.Description("Numeric asset id (e.g. 0)")),
)

var ToolGetReadings = mcp.NewTool("get_readings",
	mcp.WithDescription(
		"Get the most recent sensor readings (temperature and vibration) for an asset, newest first."),
	mcp.WithNumber("asset_id",
		mcp.Required(),
		mcp.Description("Numeric asset id")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of readings to return (default 20, max 500)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous page to continue from")),
)

var ToolGetIntegrity = mcp.NewTool("get_integrity_digest",
	mcp.WithDescription(
		"Compute the integrity digest over an asset's latest readings window, "+
			"the same hash that is committed on-chain for tamper evidence."),
	mcp.WithNumber("asset_id",
		mcp.Required(),
		mcp.Description("Numeric asset id")),
)

var ToolCheckReportable = mcp.NewTool("check_reportable",
	mcp.WithDescription(
		"Check whether a user may report a fault on an asset right now. "+
			"The asset must be Operational and the user must be under the ban threshold."),
	mcp.WithNumber("asset_id",
		mcp.Required(),
		mcp.Description("Numeric asset id")),
	mcp.WithString("user",
		mcp.Required(),
		mcp.Description("Reporter's address (e.g. '0x1234...')")),
)

var ToolCheckEligibility = mcp.NewTool("check_eligibility",
	mcp.WithDescription(
		"Get a user's cancelled-report count and whether they are still allowed to file fault reports."),
	mcp.WithString("user",
		mcp.Required(),
		mcp.Description("User's address (e.g. '0x1234...')")),
)

var ToolListSnapshots = mcp.NewTool("list_gas_snapshots",
	mcp.WithDescription(
		"List outstanding filing-cost snapshots: assets with a fault report whose "+
			"reporter has not yet been reimbursed."),
)

var ToolGetQuote = mcp.NewTool("get_settlement_quote",
	mcp.WithDescription(
		"Preview the settlement for an asset under maintenance: the reporter's reimbursement "+
			"at today's price and whether the maintenance record is ready for payment. Does not pay anything."),
	mcp.WithNumber("asset_id",
		mcp.Required(),
		mcp.Description("Numeric asset id")),
)
