package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/feedsweep/sweep"
)

// loadConfig reads --config (or defaults) and applies the global flags.
func loadConfig() (*sweep.Config, error) {
	cfg := sweep.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = sweep.LoadConfigFile(configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if cookieFile != "" {
		cfg.Session.CookieFile = cookieFile
	}
	if headful {
		cfg.Browser.Stealth = "headful"
	}
	return cfg, nil
}

// newRunner builds the runner and its sinks. With stdio set, stdout sinks
// are dropped because stdout carries the MCP protocol.
func newRunner(cfg *sweep.Config, logger *slog.Logger, stdio bool) (*sweep.Runner, error) {
	sinkCfgs := cfg.Sinks
	if stdio {
		var kept []sweep.SinkConfig
		for _, sc := range sinkCfgs {
			if sc.Type != "stdout" {
				kept = append(kept, sc)
			}
		}
		sinkCfgs = kept
	}
	sinks, err := sweep.BuildSinks(sinkCfgs, logger)
	if err != nil {
		return nil, err
	}
	r, err := sweep.NewRunner(sweep.RunnerConfig{Config: cfg, Sinks: sinks, Logger: logger})
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}
	return r, nil
}

func runCmd() *cobra.Command {
	var req sweep.Request
	var kind string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one campaign and print its result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := setup()
			if err != nil {
				return err
			}
			req.Kind = sweep.Kind(kind)
			if err := req.Validate(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, logger, false)
			if err != nil {
				return err
			}
			defer r.Close()

			res, runErr := r.Run(cmd.Context(), req)
			if res != nil {
				out := map[string]any{"type": "result", "data": res}
				if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
					return err
				}
			}
			return exitCode(runErr)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "campaign: unlike, like or delete")
	cmd.Flags().IntVar(&req.Count, "count", 0, fmt.Sprintf("successes to stop at, 1-%d (required for like)", sweep.MaxCount))
	cmd.Flags().StringVar(&req.Query, "query", "", "search text (like)")
	cmd.Flags().StringSliceVar(&req.Tabs, "tab", nil, "profile tabs (delete), default Posts")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control panel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := setup()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Panel.Addr = addr
			}
			r, err := newRunner(cfg, logger, false)
			if err != nil {
				return err
			}
			defer r.Close()

			srv := &http.Server{
				Addr:              cfg.Panel.Addr,
				Handler:           r.Panel(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info("feedsweep: panel listening", "addr", cfg.Panel.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides panel.addr)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the campaign tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := setup()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := newRunner(cfg, logger, true)
			if err != nil {
				return err
			}
			defer r.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "feedsweep", Version: version}, nil)
			r.RegisterMCP(srv)
			return exitCode(srv.Run(cmd.Context(), &mcp.StdioTransport{}))
		},
	}
}
