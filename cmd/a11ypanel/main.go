// Command a11ypanel drives the accessibility scan panel from the command
// line.
//
// Usage:
//
//	a11ypanel -url https://example.com               # scan a page, print surface views
//	a11ypanel -url https://example.com -select 0     # then highlight the first finding
//	a11ypanel -url page.html -locate '/html[1]/body[1]/p[2]'   # resolve a path offline
//	a11ypanel -mcp                                    # serve scan tools over MCP stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/a11ypanel/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a11ypanel.yaml config file")
	pageURL := flag.String("url", "", "page to scan, or to resolve -locate against")
	locatePath := flag.String("locate", "", "node path to resolve offline against -url")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	selectIndex := flag.Int("select", -1, "finding index to highlight in the page after the scan")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *locatePath, *serveMCP, *selectIndex); err != nil {
		logger.Error("a11ypanel: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, locatePath string, serveMCP bool, selectIndex int) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	switch {
	case locatePath != "":
		if pageURL == "" {
			return fmt.Errorf("-locate needs -url")
		}
		return runLocate(ctx, logger, os.Stdout, pageURL, locatePath)
	case serveMCP:
		return runMCP(ctx, logger, cfg, pageURL)
	case pageURL != "":
		return runScan(ctx, logger, cfg, pageURL, selectIndex)
	}

	fmt.Fprintln(os.Stderr, "usage: a11ypanel [-config file] -url <url> [-locate <path>] | -mcp")
	os.Exit(2)
	return nil
}
