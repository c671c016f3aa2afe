package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/errors"
	"github.com/haseab/retrace-sub006/internal/idmap"
	"github.com/haseab/retrace-sub006/internal/legacy"
	"github.com/haseab/retrace-sub006/internal/mcp"
	"github.com/haseab/retrace-sub006/internal/model"
	"github.com/haseab/retrace-sub006/internal/ops"
	"github.com/haseab/retrace-sub006/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *db.DB, cfg *config.Config, logger *log.Logger) *cli.App {
	app := &cli.App{
		Name:    "retrace",
		Usage:   "Searchable screen history store",
		Version: Version,
		Commands: []*cli.Command{
			migrationsCmd(database),
			statsCmd(database),
			searchCmd(database),
			countCmd(database),
			timelineCmd(database),
			frameCmd(database),
			starCmd(database),
			sessionsCmd(database),
			tagCmd(database),
			queueCmd(database, cfg),
			maintainCmd(database),
			offsetCmd(database, cfg, logger),
			idsCmd(database, logger),
			exportCmd(database, cfg),
			purgeCmd(database),
			serveCmd(database, cfg, logger),
			mcpCmd(database, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// Shared flags

func rangeFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Required: required, Usage: "Range start (RFC 3339 or YYYY-MM-DD)"},
		&cli.StringFlag{Name: "end", Required: required, Usage: "Range end (RFC 3339 or YYYY-MM-DD; a date covers the whole day)"},
	}
}

func timeRange(c *cli.Context) ops.TimeRange {
	return ops.TimeRange{Start: c.String("start"), End: c.String("end")}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|table"}
}

func wantTable(c *cli.Context) bool {
	return strings.EqualFold(c.String("format"), "table")
}

// migrationsCmd creates the migrations command.
func migrationsCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:  "migrations",
		Usage: "Show the applied schema migrations",
		Action: func(c *cli.Context) error {
			records, err := database.AppliedMigrations(c.Context)
			if err != nil {
				return outputError(err)
			}
			version, err := database.CurrentVersion(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"current_version": version,
				"applied":         records,
			})
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show store counts; a range adds per-app usage",
		Flags: append(rangeFlags(false), formatFlag()),
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(c.Context, database, timeRange(c))
			if err != nil {
				return outputError(err)
			}
			if wantTable(c) {
				renderStatsTable(c.App.Writer, output)
				return nil
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over captured text",
		ArgsUsage: "<query>",
		Flags: append(rangeFlags(false),
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "relevant", Usage: "relevant|all"},
			&cli.StringSliceFlag{Name: "app", Usage: "Only these bundle ids (repeatable)"},
			&cli.StringSliceFlag{Name: "exclude-app", Usage: "Skip these bundle ids (repeatable)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultSearchLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Usage: "Results to skip"},
			formatFlag(),
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Search(c.Context, database, ops.SearchInput{
				Query:        strings.Join(c.Args().Slice(), " "),
				Mode:         c.String("mode"),
				Range:        timeRange(c),
				IncludedApps: c.StringSlice("app"),
				ExcludedApps: c.StringSlice("exclude-app"),
				Limit:        c.Int("limit"),
				Offset:       c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			if wantTable(c) {
				renderSearchTable(c.App.Writer, output)
				return nil
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// countCmd creates the count command.
func countCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "count",
		Usage:     "Count every frame matching a query",
		ArgsUsage: "<query>",
		Flags: append(rangeFlags(false),
			&cli.StringSliceFlag{Name: "app", Usage: "Only these bundle ids (repeatable)"},
			&cli.StringSliceFlag{Name: "exclude-app", Usage: "Skip these bundle ids (repeatable)"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.MatchCount(c.Context, database, ops.MatchCountInput{
				Query:        strings.Join(c.Args().Slice(), " "),
				Range:        timeRange(c),
				IncludedApps: c.StringSlice("app"),
				ExcludedApps: c.StringSlice("exclude-app"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// timelineCmd creates the timeline command.
func timelineCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:  "timeline",
		Usage: "Page through frames around a point in time",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cursor", Usage: "RFC 3339 timestamp (default: now)"},
			&cli.BoolFlag{Name: "before", Usage: "Frames older than the cursor"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max frames"},
		},
		Action: func(c *cli.Context) error {
			input := ops.TimelineInput{Before: c.Bool("before"), Limit: c.Int("limit")}
			if s := c.String("cursor"); s != "" {
				cursor, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return outputError(errors.NewInvalidRequest("cursor must be an RFC 3339 timestamp"))
				}
				input.Cursor = cursor
			}
			output, err := ops.Timeline(c.Context, database, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// frameCmd creates the frame command.
func frameCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "frame",
		Usage:     "Show a frame with its session, text and video",
		ArgsUsage: "<frame-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "nodes", Usage: "Show OCR text runs instead"},
			&cli.IntFlag{Name: "width", Usage: "Screen width for node boxes"},
			&cli.IntFlag{Name: "height", Usage: "Screen height for node boxes"},
		},
		Action: func(c *cli.Context) error {
			id, err := argID(c, 0, "frame-id")
			if err != nil {
				return outputError(err)
			}
			if c.Bool("nodes") {
				output, err := ops.FrameNodes(c.Context, database, id, c.Int("width"), c.Int("height"))
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c.App.Writer, output)
			}
			output, err := ops.GetFrame(c.Context, database, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// starCmd creates the star command.
func starCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "star",
		Usage:     "Star a frame so purges keep it",
		ArgsUsage: "<frame-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "unset", Usage: "Clear the star"},
		},
		Action: func(c *cli.Context) error {
			id, err := argID(c, 0, "frame-id")
			if err != nil {
				return outputError(err)
			}
			starred := !c.Bool("unset")
			if err := ops.StarFrame(c.Context, database, id, starred); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"id": id, "starred": starred})
		},
	}
}

// sessionsCmd creates the sessions command.
func sessionsCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List sessions in a range (default: last 24 hours)",
		Flags: append(rangeFlags(false), formatFlag()),
		Action: func(c *cli.Context) error {
			output, err := ops.ListSessions(c.Context, database, ops.ListSessionsInput{Range: timeRange(c)})
			if err != nil {
				return outputError(err)
			}
			if wantTable(c) {
				renderSessionsTable(c.App.Writer, output)
				return nil
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// tagCmd creates the tag command.
func tagCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "tag",
		Usage:     "Attach a tag to a session",
		ArgsUsage: "<session-id> <tag>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remove", Aliases: []string{"r"}, Usage: "Detach the tag instead"},
		},
		Action: func(c *cli.Context) error {
			id, err := argID(c, 0, "session-id")
			if err != nil {
				return outputError(err)
			}
			name := c.Args().Get(1)
			if c.Bool("remove") {
				removed, err := ops.UntagSession(c.Context, database, id, name)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c.App.Writer, map[string]any{"session_id": id, "tag": name, "removed": removed})
			}
			tag, err := ops.TagSession(c.Context, database, id, name)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"session_id": id, "tag": tag})
		},
	}
}

// queueCmd creates the queue command and its subcommands.
func queueCmd(database *db.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and drive the OCR queue",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Queue depth and the next entries",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultQueueList, Usage: "Entries to list"},
					formatFlag(),
				},
				Action: func(c *cli.Context) error {
					output, err := ops.QueueStatus(c.Context, database, c.Int("limit"))
					if err != nil {
						return outputError(err)
					}
					if wantTable(c) {
						renderQueueTable(c.App.Writer, output)
						return nil
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:      "enqueue",
				Usage:     "Schedule OCR for a pending frame",
				ArgsUsage: "<frame-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "priority", Aliases: []string{"p"}, Value: model.PriorityNormal, Usage: "Higher runs first"},
				},
				Action: func(c *cli.Context) error {
					id, err := argID(c, 0, "frame-id")
					if err != nil {
						return outputError(err)
					}
					priority := c.Int("priority")
					output, err := ops.Enqueue(c.Context, database, ops.EnqueueInput{FrameID: id, Priority: &priority})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:  "next",
				Usage: "Claim the next job and mark its frame processing",
				Action: func(c *cli.Context) error {
					job, err := ops.NextJob(c.Context, database)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"job": job})
				},
			},
			{
				Name:      "fail",
				Usage:     "Record an OCR failure for a claimed job",
				ArgsUsage: "<frame-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "retry-count", Usage: "Retry count of the claimed job"},
					&cli.StringFlag{Name: "error", Aliases: []string{"e"}, Usage: "Failure message"},
				},
				Action: func(c *cli.Context) error {
					id, err := argID(c, 0, "frame-id")
					if err != nil {
						return outputError(err)
					}
					output, err := ops.FailJob(c.Context, database, ops.FailJobInput{
						FrameID:    id,
						RetryCount: c.Int("retry-count"),
						Error:      c.String("error"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:      "position",
				Usage:     "Where a frame sits in the queue",
				ArgsUsage: "<frame-id>",
				Action: func(c *cli.Context) error {
					id, err := argID(c, 0, "frame-id")
					if err != nil {
						return outputError(err)
					}
					output, err := ops.QueuePosition(c.Context, database, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
			{
				Name:  "recover",
				Usage: "Requeue frames left processing by a crash (run with no workers active)",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "priority", Aliases: []string{"p"}, Value: model.PriorityNormal, Usage: "Priority for requeued frames"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.RecoverOrphans(c.Context, database, c.Int("priority"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
		},
	}
}

// maintainCmd creates the maintain command.
func maintainCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:      "maintain",
		Usage:     "Run a maintenance action: " + strings.Join(ops.MaintenanceActions, "|"),
		ArgsUsage: "<action>",
		Action: func(c *cli.Context) error {
			output, err := ops.Maintain(c.Context, database, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// offsetCmd creates the offset command.
func offsetCmd(database *db.DB, cfg *config.Config, logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "offset",
		Usage: "Seed id sequences past a legacy store's highest ids (runs once)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "legacy", Usage: "Legacy store path (default: legacy_db_path from config)"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("legacy")
			if path == "" && cfg != nil {
				path = cfg.LegacyDBPath
			}
			if path == "" {
				return outputError(errors.NewInvalidRequest("no legacy store: pass --legacy or set legacy_db_path"))
			}
			reader, err := legacy.Open(c.Context, path)
			if err != nil {
				return outputError(err)
			}
			defer reader.Close()

			report, err := idmap.ApplyAutoIncrementOffset(c.Context, database, reader, logger)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, report)
		},
	}
}

// idsCmd creates the ids command for external identifier mappings.
func idsCmd(database *db.DB, logger *log.Logger) *cli.Command {
	loadMapper := func(c *cli.Context) (*idmap.Mapper, error) {
		m := idmap.New(database, logger)
		if err := m.Load(c.Context); err != nil {
			return nil, err
		}
		return m, nil
	}
	parseArgs := func(c *cli.Context) (model.EntityType, uuid.UUID, error) {
		entity, err := model.ParseEntityType(c.Args().Get(0))
		if err != nil {
			return "", uuid.Nil, errors.NewInvalidRequest(err.Error())
		}
		ext, err := uuid.Parse(c.Args().Get(1))
		if err != nil {
			return "", uuid.Nil, errors.NewInvalidRequest(fmt.Sprintf("invalid uuid %q", c.Args().Get(1)))
		}
		return entity, ext, nil
	}

	return &cli.Command{
		Name:  "ids",
		Usage: "Map external UUIDs to internal ids",
		Subcommands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Map a UUID to an internal id",
				ArgsUsage: "<segment|frame|video> <uuid> <id>",
				Action: func(c *cli.Context) error {
					entity, ext, err := parseArgs(c)
					if err != nil {
						return outputError(err)
					}
					id, err := argID(c, 2, "id")
					if err != nil {
						return outputError(err)
					}
					m, err := loadMapper(c)
					if err != nil {
						return outputError(err)
					}
					if err := m.Register(c.Context, entity, ext, id); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"entity": entity, "uuid": ext, "id": id})
				},
			},
			{
				Name:      "resolve",
				Usage:     "Look up the internal id for a UUID",
				ArgsUsage: "<segment|frame|video> <uuid>",
				Action: func(c *cli.Context) error {
					entity, ext, err := parseArgs(c)
					if err != nil {
						return outputError(err)
					}
					m, err := loadMapper(c)
					if err != nil {
						return outputError(err)
					}
					id, ok := m.InternalID(entity, ext)
					if !ok {
						return outputError(errors.NewNotFound(string(entity)+" mapping", ext.String()))
					}
					return outputJSON(c.App.Writer, map[string]any{"entity": entity, "uuid": ext, "id": id})
				},
			},
			{
				Name:      "forget",
				Usage:     "Remove a UUID mapping",
				ArgsUsage: "<segment|frame|video> <uuid>",
				Action: func(c *cli.Context) error {
					entity, ext, err := parseArgs(c)
					if err != nil {
						return outputError(err)
					}
					m, err := loadMapper(c)
					if err != nil {
						return outputError(err)
					}
					if err := m.Forget(c.Context, entity, ext); err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, map[string]any{"entity": entity, "uuid": ext, "forgotten": true})
				},
			},
		},
	}
}

// exportCmd creates the export command.
func exportCmd(database *db.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export frames in a range to JSONL",
		Flags: append(rangeFlags(true),
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output .jsonl file (default: exports directory)"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, database, cfg, ops.ExportInput{
				Path:  c.String("path"),
				Range: timeRange(c),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(database *db.DB) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete frames captured in a range",
		Flags: append(rangeFlags(true),
			&cli.BoolFlag{Name: "include-starred", Usage: "Delete starred frames too"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Purge(c.Context, database, ops.PurgeInput{
				Range:          timeRange(c),
				IncludeStarred: c.Bool("include-starred"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(database *db.DB, cfg *config.Config, logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(database, cfg, logger, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv, logger)
		},
	}
}

// mcpCmd creates the mcp command. Piped stdin without a command does the same.
func mcpCmd(database *db.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(database, cfg, Version)
		},
	}
}

// Helper functions

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var rErr *errors.RetraceError
	if stderrors.As(err, &rErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", rErr.Code, rErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// argID parses the positional argument at i as a positive id.
func argID(c *cli.Context, i int, name string) (int64, error) {
	s := c.Args().Get(i)
	if s == "" {
		return 0, errors.NewInvalidRequest(name + " is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be a positive integer, got %q", name, s))
	}
	return id, nil
}

// Table rendering

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderStatsTable(w io.Writer, s *ops.StatsOutput) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Frames", humanize.Comma(s.FrameCount)})
	t.AppendRow(table.Row{"Sessions", humanize.Comma(s.SessionCount)})
	t.AppendRow(table.Row{"Documents", humanize.Comma(s.DocumentCount)})
	t.AppendRow(table.Row{"Size", humanize.Bytes(uint64(max(s.SizeBytes, 0)))})
	t.AppendRow(table.Row{"Queue depth", s.QueueDepth})
	t.AppendRow(table.Row{"Schema version", s.SchemaVersion})
	if s.OldestFrameDate != nil {
		t.AppendRow(table.Row{"Oldest frame", humanize.Time(*s.OldestFrameDate)})
	}
	if s.NewestFrameDate != nil {
		t.AppendRow(table.Row{"Newest frame", humanize.Time(*s.NewestFrameDate)})
	}
	t.Render()

	if len(s.Apps) > 0 {
		apps := newTable(w)
		apps.AppendHeader(table.Row{"App", "Sessions", "Time"})
		for _, a := range s.Apps {
			apps.AppendRow(table.Row{a.BundleID, a.SessionCount, a.Duration.Round(time.Second).String()})
		}
		apps.Render()
	}
}

func renderSearchTable(w io.Writer, out *ops.SearchOutput) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Frame", "When", "App", "Score", "Snippet"})
	for _, item := range out.Items {
		t.AppendRow(table.Row{
			item.ID,
			item.Timestamp.Local().Format("2006-01-02 15:04:05"),
			item.Metadata.BundleID,
			fmt.Sprintf("%.2f", item.RelevanceScore),
			truncate(item.Snippet, 80),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", out.Pagination.Total})
	t.Render()
}

func renderSessionsTable(w io.Writer, out *ops.ListSessionsOutput) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "App", "Start", "Duration", "Tags"})
	now := time.Now()
	for _, s := range out.Items {
		end := now
		if s.EndDate != nil {
			end = *s.EndDate
		}
		t.AppendRow(table.Row{
			s.ID,
			s.BundleID,
			s.StartDate.Local().Format("2006-01-02 15:04"),
			end.Sub(s.StartDate).Round(time.Second).String(),
			strings.Join(s.Tags, ","),
		})
	}
	t.Render()
}

func renderQueueTable(w io.Writer, out *ops.QueueStatusOutput) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Frame", "Priority", "Retries", "Enqueued", "Last error"})
	for i, e := range out.Entries {
		lastErr := ""
		if e.LastError != nil {
			lastErr = truncate(*e.LastError, 40)
		}
		t.AppendRow(table.Row{i + 1, e.FrameID, e.Priority, e.RetryCount, humanize.Time(e.EnqueuedAt), lastErr})
	}
	t.AppendFooter(table.Row{"", "Depth", out.Depth, "Processing", out.Processing, ""})
	t.Render()
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
