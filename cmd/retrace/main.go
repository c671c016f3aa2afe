package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/haseab/retrace-sub006/internal/config"
	"github.com/haseab/retrace-sub006/internal/db"
	"github.com/haseab/retrace-sub006/internal/keyprovider"
	"github.com/haseab/retrace-sub006/internal/logging"
	"github.com/haseab/retrace-sub006/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"migrations": true, "stats": true, "search": true, "count": true,
	"timeline": true, "frame": true, "star": true, "sessions": true,
	"tag": true, "queue": true, "maintain": true, "offset": true,
	"ids": true, "export": true, "purge": true, "serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return isHelpOrVersion()
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a short usage note when run interactively without args.
func printBanner() {
	fmt.Println(`
  retrace: searchable screen history store

  Usage: retrace <command> [options]
         retrace --help

  MCP server mode requires piped input.`)
}

func main() {
	// Optional .env with RETRACE_* overrides
	_ = godotenv.Load()

	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, logging.Discard())
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir := config.DefaultStorageRoot()
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: could not create %s: %v\n", baseDir, err)
		os.Exit(1)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	opts := db.OptionsFromConfig(cfg, logger)
	if cfg.Encrypted {
		opts.KeyProvider = keyprovider.NewFile(cfg.StorageRoot)
	}
	database, err := db.Init(context.Background(), cfg.DatabasePath(), opts)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DatabasePath(), "err", err)
		os.Exit(1)
	}
	defer database.Close()

	if isCLIMode() {
		app := newCLIApp(database, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'retrace --help' for usage.\n")
		database.Close()
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("ignoring unknown disabled tools", "tools", unknown)
	}
	if err := mcp.Run(database, cfg, Version); err != nil {
		logger.Error("mcp server stopped", "err", err)
		database.Close()
		os.Exit(1)
	}
}
