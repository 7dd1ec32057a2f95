package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/api"
	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/embed"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/mcp"
	"github.com/Aman-CERP/amansearch/internal/search"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	transport string
	addr      string
	watch     bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over MCP (stdio) or HTTP",
		Long: `Serve the index until interrupted.

stdio speaks the Model Context Protocol on stdin/stdout for AI tools.
Nothing but protocol messages is written to stdout; logs go to
~/.amansearch/logs/.

http serves a JSON API:
  POST /v1/search   JSON request body
  GET  /v1/search   ?q=...&mode=...&limit=...
  GET  /healthz
  GET  /metrics     Prometheus metrics

With --watch, edits to .amansearch.yaml retune the running engine
without a restart. Storage and embedding changes need a restart.`,
		Example: `  amansearch serve
  amansearch serve --transport http --addr :8088`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts, cmd.Flags().Changed("transport"), cmd.Flags().Changed("addr"))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.transport, "transport", "t", "stdio", "Transport: stdio, http (default from server.transport)")
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address (default from server.http_addr)")
	f.BoolVar(&opts.watch, "watch", true, "Reload search settings when the project config changes")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions, transportSet, addrSet bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if transportSet {
		cfg.Server.Transport = opts.transport
	}
	if addrSet {
		cfg.Server.HTTPAddr = opts.addr
	}
	if cfg.Server.Transport != "stdio" && cfg.Server.Transport != "http" {
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", cfg.Server.Transport)
	}
	if err := root.setupLogging(cfg, cfg.Server.Transport == "stdio"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(stores)

	var prom *telemetry.Prometheus
	if cfg.Server.Transport == "http" {
		prom = telemetry.NewPrometheus()
	}

	embedder, err := newEmbedder(ctx, cfg, prom)
	if err != nil {
		slog.Warn("embedder_unavailable", slog.String("error", err.Error()))
		embedder = nil
	} else {
		defer func() { _ = embedder.Close() }()
	}

	metrics := queryMetrics(stores.Metadata)
	defer func() { _ = metrics.Close() }()

	engineOpts := []search.EngineOption{search.WithMetrics(metrics)}
	if prom != nil {
		engineOpts = append(engineOpts, search.WithPrometheus(prom))
	}
	engine, err := newEngine(ctx, cfg, stores, embedder, engineOpts...)
	if err != nil {
		return err
	}
	holder := search.NewHolder(engine)

	if opts.watch && root.configFile == "" {
		go watchConfig(ctx, root.projectDir, cfg, stores, embedder, holder, engineOpts)
	}

	slog.Info("serve_started",
		slog.String("transport", cfg.Server.Transport),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Bool("semantic", embedder != nil))

	if cfg.Server.Transport == "http" {
		srv, err := api.NewServer(holder, prom, cfg.Server.HTTPAddr)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	srv, err := mcp.NewServer(holder, stores.Metadata)
	if err != nil {
		return err
	}
	srv.SetMetrics(metrics)
	return srv.Serve(ctx, "stdio")
}

// watchConfig rebuilds the engine on project config changes and swaps it
// in. In-flight queries finish on the engine they started with. A reload
// that fails validation keeps the running engine.
func watchConfig(
	ctx context.Context,
	dir string,
	current *config.Config,
	stores index.Stores,
	embedder embed.Embedder,
	holder *search.Holder,
	opts []search.EngineOption,
) {
	err := config.Watch(ctx, dir, config.DefaultWatchDebounce, func(next *config.Config, err error) {
		if err != nil {
			slog.Warn("config_reload_failed", slog.String("error", err.Error()))
			return
		}
		if restartRequired(current, next) {
			slog.Warn("config_reload_partial",
				slog.String("reason", "storage and embedding changes need a restart"))
		}
		// Stores and the provider stay as opened.
		next.Storage = current.Storage
		next.Embeddings = current.Embeddings
		next.Semantic.CoarseDimensions = current.Semantic.CoarseDimensions
		next.Semantic.GraphM = current.Semantic.GraphM
		next.Lexical.DefaultLanguage = current.Lexical.DefaultLanguage

		engine, err := newEngine(ctx, next, stores, embedder, opts...)
		if err != nil {
			slog.Warn("config_reload_failed", slog.String("error", err.Error()))
			return
		}
		holder.Swap(engine)
		current = next
		slog.Info("config_reloaded")
	})
	if err != nil {
		slog.Warn("config_watch_stopped", slog.String("error", err.Error()))
	}
}

// restartRequired reports whether next changes settings fixed at startup.
func restartRequired(current, next *config.Config) bool {
	a, b := current.Embeddings, next.Embeddings
	return current.Storage != next.Storage ||
		a.Provider != b.Provider || a.Model != b.Model || a.Dimensions != b.Dimensions ||
		a.OllamaHost != b.OllamaHost || a.BaseURL != b.BaseURL ||
		current.Semantic.CoarseDimensions != next.Semantic.CoarseDimensions ||
		current.Semantic.GraphM != next.Semantic.GraphM ||
		current.Lexical.DefaultLanguage != next.Lexical.DefaultLanguage
}
