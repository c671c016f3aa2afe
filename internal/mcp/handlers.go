package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *db.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(database *db.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: database, cfg: cfg}
}

// Tool definitions

var searchToolDef = mcp.NewTool("search",
	mcp.WithDescription("Full-text search over captured screen text. Results are newest first; mode \"relevant\" picks the best-ranked matches, \"all\" scans the most recent frames."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search terms. Quote phrases; prefix a term with - to exclude it.")),
	mcp.WithString("mode", mcp.Enum("relevant", "all"), mcp.Description("Candidate selection (default: relevant)")),
	mcp.WithString("start", mcp.Description("Range start, RFC 3339 or YYYY-MM-DD")),
	mcp.WithString("end", mcp.Description("Range end, RFC 3339 or YYYY-MM-DD")),
	mcp.WithArray("apps", mcp.WithStringItems(), mcp.Description("Only frames from these bundle ids")),
	mcp.WithArray("exclude_apps", mcp.WithStringItems(), mcp.Description("Skip frames from these bundle ids")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Results to skip")),
)

var matchCountToolDef = mcp.NewTool("match_count",
	mcp.WithDescription("Count every frame matching a query, without the search caps."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
	mcp.WithString("start", mcp.Description("Range start")),
	mcp.WithString("end", mcp.Description("Range end")),
	mcp.WithArray("apps", mcp.WithStringItems(), mcp.Description("Only frames from these bundle ids")),
	mcp.WithArray("exclude_apps", mcp.WithStringItems(), mcp.Description("Skip frames from these bundle ids")),
)

var timelineToolDef = mcp.NewTool("timeline",
	mcp.WithDescription("Page through frames around a point in time."),
	mcp.WithString("cursor", mcp.Description("RFC 3339 timestamp (default: now)")),
	mcp.WithBoolean("before", mcp.Description("Return frames older than the cursor instead of newer")),
	mcp.WithNumber("limit", mcp.Description("Max frames (default 50, max 500)")),
)

var frameToolDef = mcp.NewTool("frame",
	mcp.WithDescription("Fetch one frame with its session, indexed text and video. Set include_nodes to get OCR boxes."),
	mcp.WithNumber("frame_id", mcp.Required(), mcp.Description("Frame id")),
	mcp.WithBoolean("include_nodes", mcp.Description("Include OCR text runs")),
	mcp.WithNumber("width", mcp.Description("Screen width in pixels for node boxes")),
	mcp.WithNumber("height", mcp.Description("Screen height in pixels for node boxes")),
)

var sessionsToolDef = mcp.NewTool("sessions",
	mcp.WithDescription("List app sessions overlapping a range (default: last 24 hours) with their tags."),
	mcp.WithString("start", mcp.Description("Range start")),
	mcp.WithString("end", mcp.Description("Range end")),
)

var tagSessionToolDef = mcp.NewTool("tag_session",
	mcp.WithDescription("Attach a tag to a session, creating the tag if needed. Set remove to detach it instead."),
	mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session id")),
	mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name")),
	mcp.WithBoolean("remove", mcp.Description("Detach instead of attach")),
)

var statsToolDef = mcp.NewTool("stats",
	mcp.WithDescription("Store counts, schema version and queue depth. Give a range to also get per-app usage."),
	mcp.WithString("start", mcp.Description("Usage range start")),
	mcp.WithString("end", mcp.Description("Usage range end")),
)

var queueStatusToolDef = mcp.NewTool("queue_status",
	mcp.WithDescription("OCR queue depth and the next entries in dequeue order."),
	mcp.WithNumber("limit", mcp.Description("Entries to list (default 20, max 200)")),
)

var exportToolDef = mcp.NewTool("export",
	mcp.WithDescription("Export frames captured in a range to a JSONL file under the exports directory."),
	mcp.WithString("start", mcp.Required(), mcp.Description("Range start")),
	mcp.WithString("end", mcp.Required(), mcp.Description("Range end")),
	mcp.WithString("path", mcp.Description("Output file (.jsonl); default is a timestamped file in the exports directory")),
)

// Request types for each tool

// SearchRequest represents the arguments for search.
type SearchRequest struct {
	Query       string   `json:"query"`
	Mode        string   `json:"mode,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	Apps        []string `json:"apps,omitempty"`
	ExcludeApps []string `json:"exclude_apps,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty"`
}

// MatchCountRequest represents the arguments for match_count.
type MatchCountRequest struct {
	Query       string   `json:"query"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	Apps        []string `json:"apps,omitempty"`
	ExcludeApps []string `json:"exclude_apps,omitempty"`
}

// TimelineRequest represents the arguments for timeline.
type TimelineRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Before bool   `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// FrameRequest represents the arguments for frame.
type FrameRequest struct {
	FrameID      int64 `json:"frame_id"`
	IncludeNodes bool  `json:"include_nodes,omitempty"`
	Width        int   `json:"width,omitempty"`
	Height       int   `json:"height,omitempty"`
}

// RangeRequest represents the arguments for tools that only take a range.
type RangeRequest struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TagSessionRequest represents the arguments for tag_session.
type TagSessionRequest struct {
	SessionID int64  `json:"session_id"`
	Tag       string `json:"tag"`
	Remove    bool   `json:"remove,omitempty"`
}

// QueueStatusRequest represents the arguments for queue_status.
type QueueStatusRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for export.
type ExportRequest struct {
	Path  string `json:"path,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Handler implementations

// HandleSearch handles the search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.db, ops.SearchInput{
		Query:        r.Query,
		Mode:         r.Mode,
		Range:        ops.TimeRange{Start: r.Start, End: r.End},
		IncludedApps: r.Apps,
		ExcludedApps: r.ExcludeApps,
		Limit:        r.Limit,
		Offset:       r.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleMatchCount handles the match_count tool call.
func (h *Handlers) HandleMatchCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[MatchCountRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.MatchCount(ctx, h.db, ops.MatchCountInput{
		Query:        r.Query,
		Range:        ops.TimeRange{Start: r.Start, End: r.End},
		IncludedApps: r.Apps,
		ExcludedApps: r.ExcludeApps,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTimeline handles the timeline tool call.
func (h *Handlers) HandleTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[TimelineRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var cursor time.Time
	if r.Cursor != "" {
		cursor, err = time.Parse(time.RFC3339, r.Cursor)
		if err != nil {
			return errorResult(errors.NewInvalidRequest("cursor must be an RFC 3339 timestamp")), nil
		}
	}

	result, err := ops.Timeline(ctx, h.db, ops.TimelineInput{Cursor: cursor, Before: r.Before, Limit: r.Limit})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// frameResult is the frame tool payload.
type frameResult struct {
	*ops.FrameOutput
	Nodes *ops.FrameNodesOutput `json:"nodes,omitempty"`
}

// HandleFrame handles the frame tool call.
func (h *Handlers) HandleFrame(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[FrameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if r.FrameID <= 0 {
		return errorResult(errors.NewInvalidRequest("frame_id is required")), nil
	}

	frame, err := ops.GetFrame(ctx, h.db, r.FrameID)
	if err != nil {
		return errorResult(err), nil
	}
	result := frameResult{FrameOutput: frame}
	if r.IncludeNodes {
		nodes, err := ops.FrameNodes(ctx, h.db, r.FrameID, r.Width, r.Height)
		if err != nil {
			return errorResult(err), nil
		}
		result.Nodes = nodes
	}

	return successResult(result)
}

// HandleSessions handles the sessions tool call.
func (h *Handlers) HandleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[RangeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListSessions(ctx, h.db, ops.ListSessionsInput{
		Range: ops.TimeRange{Start: r.Start, End: r.End},
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleTagSession handles the tag_session tool call.
func (h *Handlers) HandleTagSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[TagSessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if r.SessionID <= 0 {
		return errorResult(errors.NewInvalidRequest("session_id is required")), nil
	}

	if r.Remove {
		removed, err := ops.UntagSession(ctx, h.db, r.SessionID, r.Tag)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(map[string]any{"session_id": r.SessionID, "tag": r.Tag, "removed": removed})
	}

	tag, err := ops.TagSession(ctx, h.db, r.SessionID, r.Tag)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"session_id": r.SessionID, "tag": tag})
}

// HandleStats handles the stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[RangeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Stats(ctx, h.db, ops.TimeRange{Start: r.Start, End: r.End})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleQueueStatus handles the queue_status tool call.
func (h *Handlers) HandleQueueStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[QueueStatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.QueueStatus(ctx, h.db, r.Limit)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{
		Path:  r.Path,
		Range: ops.TimeRange{Start: r.Start, End: r.End},
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal and query failures carry SQL and file paths, so their details
// are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var rErr *errors.RetraceError
	if stderrors.As(err, &rErr) {
		// Keep wrapper context from fmt.Errorf("...: %w", err).
		message := rErr.Message
		if err != error(rErr) {
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    rErr.Code,
			"message": message,
			"status":  rErr.Status,
		}
		if rErr.Code != errors.ErrInternal && rErr.Code != errors.ErrQueryFailed && rErr.Details != nil {
			errorObj["details"] = rErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
