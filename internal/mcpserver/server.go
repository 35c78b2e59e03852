package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/assetwatch/internal/apiclient"
)

// Config holds the MCP server settings.
type Config struct {
	APIURL      string
	AdminSecret string
	Version     string
}

// NewMCPServer creates a configured MCP server with the assetwatch tools
// registered. The settlement quote tool needs the admin secret and is only
// registered when one is configured.
func NewMCPServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("assetwatch", version)
	h := NewHandlers(apiclient.New(apiclient.Config{
		BaseURL:     cfg.APIURL,
		AdminSecret: cfg.AdminSecret,
	}))
	s.AddTools(tools(h, cfg.AdminSecret != "")...)
	return s
}

func tools(h *Handlers, admin bool) []server.ServerTool {
	list := []server.ServerTool{
		{Tool: ToolGetPrice, Handler: h.HandleGetPrice},
		{Tool: ToolListAssets, Handler: h.HandleListAssets},
		{Tool: ToolGetAsset, Handler: h.HandleGetAsset},
		{Tool: ToolGetReadings, Handler: h.HandleGetReadings},
		{Tool: ToolGetIntegrity, Handler: h.HandleGetIntegrity},
		{Tool: ToolCheckReportable, Handler: h.HandleCheckReportable},
		{Tool: ToolCheckEligibility, Handler: h.HandleCheckEligibility},
		{Tool: ToolListSnapshots, Handler: h.HandleListSnapshots},
	}
	if admin {
		list = append(list, server.ServerTool{Tool: ToolGetQuote, Handler: h.HandleGetQuote})
	}
	return list
}
