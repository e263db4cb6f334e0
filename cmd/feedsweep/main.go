// CLAUDE:SUMMARY CLI entry point for feedsweep: run one campaign, serve the control panel, or serve MCP over stdio.
// Command feedsweep runs like/unlike/delete campaigns on an X account
// through a logged-in browser session.
//
// Usage:
//
//	feedsweep run --kind unlike
//	feedsweep run --kind like --count 50 --query "golang"
//	feedsweep run --kind delete --tab Posts,Replies
//	feedsweep serve --config feedsweep.yaml
//	feedsweep mcp
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	configPath string
	logLevel   string
	logFormat  string
	cookieFile string
	headful    bool
)

func main() {
	root := &cobra.Command{
		Use:           "feedsweep",
		Short:         "Bulk like, unlike and delete on an X timeline through a real browser",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to feedsweep.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format: json, text")
	root.PersistentFlags().StringVar(&cookieFile, "cookies", "", "exported cookie file (overrides session.cookie_file)")
	root.PersistentFlags().BoolVar(&headful, "headful", false, "run Chrome headful on the Xvfb display")

	root.AddCommand(runCmd(), serveCmd(), mcpCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		newLogger(os.Stderr).Error("feedsweep: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(w *os.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func setup() (*slog.Logger, error) {
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)
	if logFormat != "json" && logFormat != "text" {
		return nil, fmt.Errorf("unknown log format %q", logFormat)
	}
	return logger, nil
}

func exitCode(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
