package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"match_count": {
		def:     matchCountToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMatchCount },
	},
	"timeline": {
		def:     timelineToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimeline },
	},
	"frame": {
		def:     frameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFrame },
	},
	"sessions": {
		def:     sessionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessions },
	},
	"tag_session": {
		def:     tagSessionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTagSession },
	},
	"stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"queue_status": {
		def:     queueStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueStatus },
	},
	"export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Retrace tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(database *db.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"retrace",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(database, cfg)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(database *db.DB, cfg *config.Config, version string) error {
	s := NewServer(database, cfg, version)
	return server.ServeStdio(s)
}
